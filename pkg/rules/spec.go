package rules

import (
	"fmt"

	"github.com/sciencebuild/buildrules/pkg/types"
)

// specTokens builds the argv fragment identifying one buildable unit.
// Each token is a separate argv entry; nothing is ever joined into a shell
// string, so flag values cannot break quoting.
//
// Token order: name@version, variants, flag assignments, target override,
// extra flags, dependency constraints.
func specTokens(name, version string, variants []string, flags types.Flags, target string, extraFlags, dependencies []string) []string {
	tokens := []string{fmt.Sprintf("%s@%s", name, version)}
	tokens = append(tokens, variants...)
	tokens = append(tokens, flagTokens(flags)...)
	if target != "" {
		tokens = append(tokens, "target="+target)
	}
	tokens = append(tokens, extraFlags...)
	tokens = append(tokens, dependencies...)
	return tokens
}

// compilerTokens is specTokens for a CompilerSpec.
func compilerTokens(spec types.CompilerSpec) []string {
	return specTokens(spec.Name, spec.Version, spec.Variants, spec.Flags, spec.Target, spec.ExtraFlags, spec.Dependencies)
}

// packageTokens is specTokens for a PackageSpec.
func packageTokens(spec types.PackageSpec) []string {
	return specTokens(spec.Name, spec.Version, spec.Variants, spec.Flags, spec.Target, spec.ExtraFlags, spec.Dependencies)
}

func flagTokens(flags types.Flags) []string {
	var tokens []string
	for _, f := range []struct {
		key   string
		value string
	}{
		{"cflags", flags.CFlags},
		{"cxxflags", flags.CXXFlags},
		{"fflags", flags.FFlags},
		{"cppflags", flags.CPPFlags},
		{"ldflags", flags.LDFlags},
		{"ldlibs", flags.LDLibs},
	} {
		if f.value != "" {
			tokens = append(tokens, f.key+"="+f.value)
		}
	}
	return tokens
}

// flagMap renders Flags as the mapping written into the compiler
// registration file.
func flagMap(flags types.Flags) map[string]string {
	m := make(map[string]string)
	for _, f := range []struct {
		key   string
		value string
	}{
		{"cflags", flags.CFlags},
		{"cxxflags", flags.CXXFlags},
		{"fflags", flags.FFlags},
		{"cppflags", flags.CPPFlags},
		{"ldflags", flags.LDFlags},
		{"ldlibs", flags.LDLibs},
	} {
		if f.value != "" {
			m[f.key] = f.value
		}
	}
	return m
}
