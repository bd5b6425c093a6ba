package types

import "fmt"

// ToolKind identifies the package manager a build target is driven by.
type ToolKind string

const (
	ToolSpack       ToolKind = "spack"
	ToolSingularity ToolKind = "singularity"
	ToolAnaconda    ToolKind = "anaconda"
)

// ToolKinds lists every supported tool in a stable order.
func ToolKinds() []ToolKind {
	return []ToolKind{ToolSpack, ToolSingularity, ToolAnaconda}
}

// ParseToolKind converts a CLI argument into a ToolKind.
func ParseToolKind(s string) (ToolKind, error) {
	switch ToolKind(s) {
	case ToolSpack, ToolSingularity, ToolAnaconda:
		return ToolKind(s), nil
	}
	return "", fmt.Errorf("unknown tool %q (expected spack, singularity or anaconda)", s)
}

func (t ToolKind) String() string {
	return string(t)
}
