package rules

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sciencebuild/buildrules/pkg/config"
	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/logging"
	"github.com/sciencebuild/buildrules/pkg/shell"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// SpackCompiler compiles spack build configurations.
//
// Sequence shape: [reindex, install-compiler..., install-package...,
// rebuild-modules]. Compilers always precede packages; within each group
// declaration order is preserved. The stale-compiler-registration purge is
// folded into the reindex bootstrap rule.
type SpackCompiler struct {
	configDir string
	settings  *config.Settings
	runner    shell.Runner
}

// NewSpackCompiler returns a compiler bound to a config scope and runner.
func NewSpackCompiler(configDir string, settings *config.Settings, runner shell.Runner) *SpackCompiler {
	return &SpackCompiler{
		configDir: configDir,
		settings:  settings,
		runner:    runner,
	}
}

// Name implements Compiler.
func (c *SpackCompiler) Name() string {
	return "spack"
}

// spackCmd prefixes every spack invocation with the config scope, so the
// build never depends on an ambient shell environment.
func (c *SpackCompiler) spackCmd(args ...string) shell.Command {
	argv := []string{"spack", "--config-scope", filepath.Join(c.configDir, "spack")}
	return shell.Command{Argv: append(argv, args...)}
}

// Compile implements Compiler.
func (c *SpackCompiler) Compile(cfg *types.TargetConfig) ([]types.Rule, error) {
	logger := logging.GetLogger("rules.spack")
	tracker := &progress{}

	rules := []types.Rule{c.reindexRule()}

	for _, spec := range cfg.Compilers {
		logger.Debug().Str("compiler", spec.Name+"@"+spec.Version).Msg("Compiling install rule")
		rules = append(rules, c.compilerInstallRule(spec, tracker))
	}

	for _, spec := range cfg.Packages {
		logger.Debug().Str("package", spec.Name+"@"+spec.Version).Msg("Compiling install rule")
		if spec.Reinstall {
			rules = append(rules, c.uninstallRule(spec))
		}
		rules = append(rules, c.packageInstallRule(spec, tracker))
	}

	rules = append(rules, c.rebuildModulesRule(tracker))
	return rules, nil
}

// reindexRule refreshes the package index and purges the stale compiler
// registration file left by previous builds.
func (c *SpackCompiler) reindexRule() types.Rule {
	cmd := c.spackCmd("reindex")
	compilersFile := c.settings.CompilersFile
	runner := c.runner

	return types.Rule{
		Label:  "reindex installed packages",
		Argv:   cmd.Argv,
		Detail: fmt.Sprintf("also removes stale %s", compilersFile),
		Run: func(ctx context.Context) (types.Outcome, error) {
			if err := os.Remove(compilersFile); err != nil && !os.IsNotExist(err) {
				return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
					"failed to remove %s", compilersFile)
			}
			if err := runner.Run(ctx, cmd); err != nil {
				return types.OutcomeFailed, err
			}
			return types.OutcomeSkipped, nil
		},
	}
}

// compilerInstallRule installs one compiler and registers it. System
// compilers are only registered, never built. Registration, flag writing
// and license copying run on every pass: the reindex bootstrap purges the
// registration file, so an already-installed compiler still has to be
// re-registered. A missing compiler invalidates everything after it, so
// the rule halts on failure.
func (c *SpackCompiler) compilerInstallRule(spec types.CompilerSpec, tracker *progress) types.Rule {
	tokens := compilerTokens(spec)
	specName := spec.Name + "@" + spec.Version

	findCmd := c.spackCmd(append([]string{"find"}, tokens...)...)
	installCmd := c.spackCmd(append([]string{"install", "-v"}, tokens...)...)
	registerCmd := c.spackCmd("compiler", "find", "--scope", "site", specName)

	describeCmd := installCmd
	if spec.SystemCompiler {
		describeCmd = registerCmd
	}

	flags := spec.Flags
	licenses := spec.Licenses
	compilersFile := c.settings.CompilersFile
	licenseDir := filepath.Join(c.settings.InstallTree, "licenses", spec.Name)
	sourceDir := filepath.Join(c.configDir, "spack", "licenses")
	runner := c.runner
	system := spec.SystemCompiler

	return types.Rule{
		Label:   "install compiler " + specName,
		Halting: true,
		Argv:    describeCmd.Argv,
		Run: func(ctx context.Context) (types.Outcome, error) {
			present := system
			if !system {
				if _, err := runner.Output(ctx, findCmd); err == nil {
					present = true
				}
			}
			if !present {
				if err := runner.Run(ctx, installCmd); err != nil {
					return types.OutcomeFailed, err
				}
			}

			if err := runner.Run(ctx, registerCmd); err != nil {
				return types.OutcomeFailed, err
			}
			if !flags.Empty() {
				if err := setCompilerFlags(compilersFile, specName, flagMap(flags)); err != nil {
					return types.OutcomeFailed, err
				}
			}
			if err := copyLicenses(sourceDir, licenseDir, licenses); err != nil {
				return types.OutcomeFailed, err
			}

			if present {
				// Re-registering a compiler that is already on disk restores
				// the purged registration without changing declared state.
				return types.OutcomeSkipped, nil
			}
			tracker.bump()
			return types.OutcomeApplied, nil
		},
	}
}

// packageInstallRule installs one package. The probe keeps re-runs at the
// skipped level when the exact spec is already installed.
func (c *SpackCompiler) packageInstallRule(spec types.PackageSpec, tracker *progress) types.Rule {
	tokens := packageTokens(spec)
	findCmd := c.spackCmd(append([]string{"find"}, tokens...)...)
	installCmd := c.spackCmd(append([]string{"install", "-v"}, tokens...)...)
	runner := c.runner

	return types.Rule{
		Label:   "install package " + spec.Name + "@" + spec.Version,
		Halting: true,
		Argv:    installCmd.Argv,
		Run: func(ctx context.Context) (types.Outcome, error) {
			if _, err := runner.Output(ctx, findCmd); err == nil {
				return types.OutcomeSkipped, nil
			}
			if err := runner.Run(ctx, installCmd); err != nil {
				return types.OutcomeFailed, err
			}
			tracker.bump()
			return types.OutcomeApplied, nil
		},
	}
}

// uninstallRule force-removes a package and its dependents ahead of a
// reinstall. Non-halting: an absent package is fine, and is detected with
// a find probe so that a failing uninstall still surfaces as an error.
func (c *SpackCompiler) uninstallRule(spec types.PackageSpec) types.Rule {
	specName := spec.Name + "@" + spec.Version
	findCmd := c.spackCmd("find", specName)
	cmd := c.spackCmd("uninstall", "-y", "--dependents", specName)
	runner := c.runner

	return types.Rule{
		Label: "uninstall for reinstall " + specName,
		Argv:  cmd.Argv,
		Run: func(ctx context.Context) (types.Outcome, error) {
			if _, err := runner.Output(ctx, findCmd); err != nil {
				// Nothing installed to uninstall: converged already.
				return types.OutcomeSkipped, nil
			}
			if err := runner.Run(ctx, cmd); err != nil {
				return types.OutcomeFailed, err
			}
			return types.OutcomeApplied, nil
		},
	}
}

// rebuildModulesRule regenerates the module tree when the pass installed
// anything, and is skipped otherwise.
func (c *SpackCompiler) rebuildModulesRule(tracker *progress) types.Rule {
	cmd := c.spackCmd("module", "lmod", "refresh", "-y", "--delete-tree")
	runner := c.runner

	return types.Rule{
		Label: "rebuild modules",
		Argv:  cmd.Argv,
		Run: func(ctx context.Context) (types.Outcome, error) {
			if !tracker.any() {
				return types.OutcomeSkipped, nil
			}
			if err := runner.Run(ctx, cmd); err != nil {
				return types.OutcomeFailed, err
			}
			return types.OutcomeApplied, nil
		},
	}
}

// setCompilerFlags rewrites the flags of one compiler entry in the spack
// compiler registration file, keeping every other field intact.
func setCompilerFlags(path, spec string, flags map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to read %s", path)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "invalid compiler registration file %s", path)
	}

	entries, _ := doc["compilers"].([]interface{})
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		compiler, ok := m["compiler"].(map[string]interface{})
		if !ok {
			continue
		}
		if compiler["spec"] == spec {
			compiler["flags"] = flags
		}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to render compiler registration file")
	}
	return os.WriteFile(path, out, 0644)
}

// copyLicenses copies configured license files into the install tree.
func copyLicenses(sourceDir, destDir string, licenses []string) error {
	if len(licenses) == 0 {
		return nil
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to create %s", destDir)
	}
	for _, name := range licenses {
		if err := copyFile(filepath.Join(sourceDir, name), filepath.Join(destDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to open license file %s", src)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to create %s", dest)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to copy %s", src)
	}
	return nil
}
