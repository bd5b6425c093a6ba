package rules

import (
	"github.com/sciencebuild/buildrules/pkg/config"
	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/shell"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// Compiler turns a target configuration into an ordered rule sequence.
// One implementation exists per tool kind; there is no shared base type,
// just this interface.
type Compiler interface {
	// Name identifies the compiler in logs and reports.
	Name() string

	// Compile emits the rule sequence for the configuration.
	Compile(cfg *types.TargetConfig) ([]types.Rule, error)
}

// New returns the compiler for the given tool.
func New(tool types.ToolKind, configDir string, settings *config.Settings, runner shell.Runner) (Compiler, error) {
	switch tool {
	case types.ToolSpack:
		return NewSpackCompiler(configDir, settings, runner), nil
	case types.ToolSingularity:
		return NewSingularityCompiler(settings, runner), nil
	case types.ToolAnaconda:
		return NewAnacondaCompiler(settings, runner), nil
	}
	return nil, errors.Newf(errors.ErrInvalidInput, "no compiler for tool %q", tool)
}

// progress is shared between the install closures of one compiled sequence
// and its trailing maintenance rules. Trailing rules run only when some
// install rule actually applied during the pass.
type progress struct {
	applied int
}

func (p *progress) bump() {
	p.applied++
}

func (p *progress) any() bool {
	return p.applied > 0
}
