// Package config loads and validates the YAML configuration tree for a
// build target.
//
// Layout: <configDir>/<tool>/build_config.yaml holds the rule inputs,
// <configDir>/<tool>/deployment_config.yaml the deploy targets, and
// <configDir>/<tool>/config.yaml optional site settings. Loading is pure:
// no network, no package-manager state.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/logging"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// BuildConfigFile is the per-tool rule-input file name.
const BuildConfigFile = "build_config.yaml"

// DeploymentConfigFile is the per-tool deploy-target file name.
const DeploymentConfigFile = "deployment_config.yaml"

// buildConfig mirrors build_config.yaml before normalization.
type buildConfig struct {
	TargetArchitecture string                `yaml:"target_architecture"`
	Compilers          []types.CompilerSpec  `yaml:"compilers"`
	Packages           []types.PackageSpec   `yaml:"packages"`
	Containers         []types.ContainerSpec `yaml:"containers"`
	Environments       []types.CondaEnvSpec  `yaml:"environments"`
}

// LoadTargetConfig reads and validates <configDir>/<tool>/build_config.yaml
// and produces the normalized, immutable configuration tree.
func LoadTargetConfig(configDir string, tool types.ToolKind) (*types.TargetConfig, error) {
	logger := logging.GetLogger("config")

	path := filepath.Join(configDir, tool.String(), BuildConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigParse, "failed to read %s", path).
			WithDetail("path", path)
	}

	// Structural validation first, for key-path errors the typed decode
	// cannot produce.
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigParse, "invalid YAML in %s", path).
			WithDetail("path", path)
	}
	if err := validateBuildConfig(raw, tool); err != nil {
		return nil, err
	}

	var cfg buildConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigParse, "failed to decode %s", path).
			WithDetail("path", path)
	}

	logger.Debug().
		Str("tool", tool.String()).
		Str("target", cfg.TargetArchitecture).
		Int("compilers", len(cfg.Compilers)).
		Int("packages", len(cfg.Packages)).
		Msg("Loaded build configuration")

	return &types.TargetConfig{
		Tool:         tool,
		Target:       cfg.TargetArchitecture,
		Compilers:    cfg.Compilers,
		Packages:     cfg.Packages,
		Containers:   cfg.Containers,
		Environments: cfg.Environments,
	}, nil
}

// LoadDeployTargets reads <configDir>/<tool>/deployment_config.yaml.
// A missing file means no deployment is configured and is not an error.
func LoadDeployTargets(configDir string, tool types.ToolKind) ([]types.DeployTarget, error) {
	path := filepath.Join(configDir, tool.String(), DeploymentConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.ErrConfigParse, "failed to read %s", path).
			WithDetail("path", path)
	}

	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigParse, "invalid YAML in %s", path).
			WithDetail("path", path)
	}
	if err := validateDeploymentConfig(raw); err != nil {
		return nil, err
	}

	var targets []types.DeployTarget
	if err := yaml.Unmarshal(data, &targets); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigParse, "failed to decode %s", path).
			WithDetail("path", path)
	}
	return targets, nil
}
