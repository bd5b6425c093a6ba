package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sciencebuild/buildrules/pkg/config"
	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/logging"
	"github.com/sciencebuild/buildrules/pkg/shell"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// envStateFile records the checksum of the environment definition last
// applied to a prefix. Matching checksum means the environment rule is a
// no-op.
const envStateFile = ".applied-environment.sha256"

// AnacondaCompiler compiles conda environment configurations.
//
// Sequence shape: [create directories, (fetch installer, install miniconda,
// create environment, export environment)..., clean stale modulefiles].
type AnacondaCompiler struct {
	settings *config.Settings
	runner   shell.Runner
}

// NewAnacondaCompiler returns a compiler bound to the site settings.
func NewAnacondaCompiler(settings *config.Settings, runner shell.Runner) *AnacondaCompiler {
	return &AnacondaCompiler{settings: settings, runner: runner}
}

// Name implements Compiler.
func (c *AnacondaCompiler) Name() string {
	return "anaconda"
}

func (c *AnacondaCompiler) installerDir() string {
	return filepath.Join(c.settings.SourceCache, "installers")
}

func (c *AnacondaCompiler) envPrefix(spec types.CondaEnvSpec) string {
	return filepath.Join(c.settings.InstallTree, "anaconda", spec.Name, spec.Version)
}

func (c *AnacondaCompiler) moduleDir() string {
	return filepath.Join(c.settings.ModuleRoot, "anaconda")
}

// Compile implements Compiler.
func (c *AnacondaCompiler) Compile(cfg *types.TargetConfig) ([]types.Rule, error) {
	logger := logging.GetLogger("rules.anaconda")

	rules := []types.Rule{c.directoriesRule()}

	for _, spec := range cfg.Environments {
		logger.Debug().Str("environment", spec.Name+"/"+spec.Version).Msg("Compiling environment rules")
		rules = append(rules,
			c.fetchInstallerRule(spec),
			c.installMinicondaRule(spec),
			c.createEnvironmentRule(spec),
			c.exportEnvironmentRule(spec),
		)
	}

	rules = append(rules, c.cleanModulefilesRule(cfg.Environments))
	return rules, nil
}

func (c *AnacondaCompiler) directoriesRule() types.Rule {
	dirs := []string{c.installerDir(), c.moduleDir()}

	return types.Rule{
		Label:   "create environment directories",
		Halting: true,
		Detail:  "mkdir -p " + strings.Join(dirs, " "),
		Run: func(ctx context.Context) (types.Outcome, error) {
			created := false
			for _, dir := range dirs {
				if _, err := os.Stat(dir); err == nil {
					continue
				}
				if err := os.MkdirAll(dir, 0755); err != nil {
					return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
						"failed to create %s", dir)
				}
				created = true
			}
			if created {
				return types.OutcomeApplied, nil
			}
			return types.OutcomeSkipped, nil
		},
	}
}

func (c *AnacondaCompiler) installerVersion(spec types.CondaEnvSpec) string {
	if spec.InstallerVersion != "" {
		return spec.InstallerVersion
	}
	return "latest"
}

func (c *AnacondaCompiler) installerPath(spec types.CondaEnvSpec) string {
	return filepath.Join(c.installerDir(),
		fmt.Sprintf("Miniconda3-%s-Linux-x86_64.sh", c.installerVersion(spec)))
}

// fetchInstallerRule downloads the miniconda installer once into the
// source cache and, when the spec carries a checksum, verifies it before
// any install rule consumes the file. A cached installer with a bad
// checksum is re-fetched. Halting: without it the install rule cannot run.
func (c *AnacondaCompiler) fetchInstallerRule(spec types.CondaEnvSpec) types.Rule {
	installer := c.installerPath(spec)
	url := fmt.Sprintf("https://repo.anaconda.com/miniconda/Miniconda3-%s-Linux-x86_64.sh",
		c.installerVersion(spec))
	cmd := shell.Command{Argv: []string{"curl", "-fsSL", "-o", installer, url}}
	checksum := spec.InstallerChecksum
	runner := c.runner

	return types.Rule{
		Label:   "fetch installer " + c.installerVersion(spec),
		Halting: true,
		Argv:    cmd.Argv,
		Run: func(ctx context.Context) (types.Outcome, error) {
			if _, err := os.Stat(installer); err == nil {
				if err := verifyInstallerChecksum(installer, checksum); err == nil {
					return types.OutcomeSkipped, nil
				}
				if err := os.Remove(installer); err != nil {
					return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
						"failed to remove corrupt installer %s", installer)
				}
			}
			if err := runner.Run(ctx, cmd); err != nil {
				return types.OutcomeFailed, err
			}
			if err := verifyInstallerChecksum(installer, checksum); err != nil {
				return types.OutcomeFailed, err
			}
			return types.OutcomeApplied, nil
		},
	}
}

// verifyInstallerChecksum compares the sha256 of the file on disk against
// the configured value. An empty expectation always passes.
func verifyInstallerChecksum(path, expected string) error {
	if expected == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to read installer %s", path)
	}
	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if actual != strings.ToLower(expected) {
		return errors.Newf(errors.ErrRuleCommandFailed,
			"installer %s checksum mismatch: got %s, want %s", path, actual, expected)
	}
	return nil
}

// installMinicondaRule bootstraps the conda prefix for one environment.
func (c *AnacondaCompiler) installMinicondaRule(spec types.CondaEnvSpec) types.Rule {
	installer := c.installerPath(spec)
	prefix := c.envPrefix(spec)
	cmd := shell.Command{Argv: []string{"bash", installer, "-b", "-p", prefix}}
	runner := c.runner

	return types.Rule{
		Label:   "install miniconda " + spec.Name + "/" + spec.Version,
		Halting: true,
		Argv:    cmd.Argv,
		Run: func(ctx context.Context) (types.Outcome, error) {
			if _, err := os.Stat(filepath.Join(prefix, "bin", "conda")); err == nil {
				return types.OutcomeSkipped, nil
			}
			if err := runner.Run(ctx, cmd); err != nil {
				return types.OutcomeFailed, err
			}
			return types.OutcomeApplied, nil
		},
	}
}

// createEnvironmentRule renders the environment definition and applies it
// with conda env update. The applied-definition checksum is the probe.
func (c *AnacondaCompiler) createEnvironmentRule(spec types.CondaEnvSpec) types.Rule {
	prefix := c.envPrefix(spec)
	envFile := filepath.Join(prefix, "environment.yaml")
	stateFile := filepath.Join(prefix, envStateFile)
	cmd := shell.Command{Argv: []string{
		filepath.Join(prefix, "bin", "conda"),
		"env", "update", "--name", "base", "--file", envFile,
	}}
	runner := c.runner
	envSpec := spec

	return types.Rule{
		Label:   "create environment " + spec.Name + "/" + spec.Version,
		Halting: true,
		Argv:    cmd.Argv,
		Run: func(ctx context.Context) (types.Outcome, error) {
			definition, err := renderEnvironmentFile(envSpec)
			if err != nil {
				return types.OutcomeFailed, err
			}
			sum := sha256.Sum256(definition)
			checksum := hex.EncodeToString(sum[:])

			if previous, err := os.ReadFile(stateFile); err == nil &&
				strings.TrimSpace(string(previous)) == checksum {
				return types.OutcomeSkipped, nil
			}

			if err := os.WriteFile(envFile, definition, 0644); err != nil {
				return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
					"failed to write %s", envFile)
			}
			if err := runner.Run(ctx, cmd); err != nil {
				return types.OutcomeFailed, err
			}
			if err := os.WriteFile(stateFile, []byte(checksum+"\n"), 0644); err != nil {
				return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
					"failed to record environment state in %s", stateFile)
			}
			return types.OutcomeApplied, nil
		},
	}
}

// exportEnvironmentRule snapshots the solved environment next to the
// prefix. Maintenance: reports Skipped on success.
func (c *AnacondaCompiler) exportEnvironmentRule(spec types.CondaEnvSpec) types.Rule {
	prefix := c.envPrefix(spec)
	exportPath := filepath.Join(prefix, "environment.export.yaml")
	cmd := shell.Command{Argv: []string{
		filepath.Join(prefix, "bin", "conda"), "env", "export", "--name", "base",
	}}
	runner := c.runner

	return types.Rule{
		Label: "export environment " + spec.Name + "/" + spec.Version,
		Argv:  cmd.Argv,
		Run: func(ctx context.Context) (types.Outcome, error) {
			out, err := runner.Output(ctx, cmd)
			if err != nil {
				return types.OutcomeFailed, err
			}
			if err := os.WriteFile(exportPath, []byte(out), 0644); err != nil {
				return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
					"failed to write %s", exportPath)
			}
			return types.OutcomeSkipped, nil
		},
	}
}

// cleanModulefilesRule removes modulefiles for environments that are no
// longer configured. Non-halting.
func (c *AnacondaCompiler) cleanModulefilesRule(specs []types.CondaEnvSpec) types.Rule {
	keep := make(map[string]bool, len(specs))
	for _, spec := range specs {
		keep[spec.Name+"-"+spec.Version+".lua"] = true
	}
	moduleDir := c.moduleDir()

	return types.Rule{
		Label:  "clean stale modulefiles",
		Detail: "remove modulefiles not present in the configuration",
		Run: func(ctx context.Context) (types.Outcome, error) {
			entries, err := os.ReadDir(moduleDir)
			if err != nil {
				if os.IsNotExist(err) {
					return types.OutcomeSkipped, nil
				}
				return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
					"failed to list %s", moduleDir)
			}

			removed := false
			for _, entry := range entries {
				if keep[entry.Name()] || !strings.HasSuffix(entry.Name(), ".lua") {
					continue
				}
				if err := os.Remove(filepath.Join(moduleDir, entry.Name())); err != nil {
					return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
						"failed to remove stale modulefile %s", entry.Name())
				}
				removed = true
			}
			if removed {
				return types.OutcomeApplied, nil
			}
			return types.OutcomeSkipped, nil
		},
	}
}

// renderEnvironmentFile produces the conda environment definition for a
// spec, or loads the referenced file verbatim.
func renderEnvironmentFile(spec types.CondaEnvSpec) ([]byte, error) {
	if spec.EnvironmentFile != "" {
		data, err := os.ReadFile(spec.EnvironmentFile)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrRuleCommandFailed,
				"failed to read environment file %s", spec.EnvironmentFile)
		}
		return data, nil
	}

	doc := map[string]interface{}{
		"name":         spec.Name,
		"channels":     spec.Channels,
		"dependencies": spec.Packages,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to render environment definition")
	}
	return data, nil
}
