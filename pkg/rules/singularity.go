package rules

import (
	"context"
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

// installedImagesFile tracks which image builds have completed, keyed by
// name:tag. It lives in the install tree so re-runs on a fresh checkout
// still see previous builds.
const installedImagesFile = "installed_images.yaml"

// SingularityCompiler compiles container build configurations.
//
// Sequence shape: [create directories, build-image (+ link latest)...,
// prune stale images].
type SingularityCompiler struct {
	settings *config.Settings
	runner   shell.Runner
}

// NewSingularityCompiler returns a compiler bound to the site settings.
func NewSingularityCompiler(settings *config.Settings, runner shell.Runner) *SingularityCompiler {
	return &SingularityCompiler{settings: settings, runner: runner}
}

// Name implements Compiler.
func (c *SingularityCompiler) Name() string {
	return "singularity"
}

func (c *SingularityCompiler) imageDir() string {
	return filepath.Join(c.settings.InstallTree, "images")
}

func (c *SingularityCompiler) definitionDir() string {
	return filepath.Join(c.settings.SourceCache, "definitions")
}

func (c *SingularityCompiler) registryPath() string {
	return filepath.Join(c.settings.InstallTree, installedImagesFile)
}

// Compile implements Compiler.
func (c *SingularityCompiler) Compile(cfg *types.TargetConfig) ([]types.Rule, error) {
	logger := logging.GetLogger("rules.singularity")

	rules := []types.Rule{c.directoriesRule()}

	for _, spec := range cfg.Containers {
		logger.Debug().Str("image", spec.FullName()).Msg("Compiling build rule")
		rules = append(rules, c.buildImageRule(spec))
		rules = append(rules, c.linkLatestRule(spec))
	}

	rules = append(rules, c.pruneRule(cfg.Containers))
	return rules, nil
}

// directoriesRule creates the image and definition directories. Halting:
// nothing downstream can run without them.
func (c *SingularityCompiler) directoriesRule() types.Rule {
	dirs := []string{c.imageDir(), c.definitionDir()}

	return types.Rule{
		Label:   "create image directories",
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

// imagePath is where the built image for one container lands.
func (c *SingularityCompiler) imagePath(spec types.ContainerSpec) string {
	return filepath.Join(c.imageDir(), fmt.Sprintf("%s-%s.sif", spec.Name, spec.Tag))
}

// buildImageRule writes the definition file and builds the image. The
// installed-image registry plus the image file on disk form the
// idempotence probe.
func (c *SingularityCompiler) buildImageRule(spec types.ContainerSpec) types.Rule {
	image := c.imagePath(spec)
	definition := filepath.Join(c.definitionDir(), fmt.Sprintf("%s-%s.def", spec.Name, spec.Tag))
	buildCmd := shell.Command{Argv: []string{"singularity", "build", "--force", image, definition}}
	registry := c.registryPath()
	runner := c.runner

	return types.Rule{
		Label:   "build image " + spec.FullName(),
		Halting: true,
		Argv:    buildCmd.Argv,
		Run: func(ctx context.Context) (types.Outcome, error) {
			installed, err := readInstalledImages(registry)
			if err != nil {
				return types.OutcomeFailed, err
			}
			if _, ok := installed[spec.FullName()]; ok {
				if _, err := os.Stat(image); err == nil {
					return types.OutcomeSkipped, nil
				}
			}

			if err := writeDefinitionFile(definition, spec); err != nil {
				return types.OutcomeFailed, err
			}
			if err := runner.Run(ctx, buildCmd); err != nil {
				return types.OutcomeFailed, err
			}

			installed[spec.FullName()] = image
			if err := writeInstalledImages(registry, installed); err != nil {
				return types.OutcomeFailed, err
			}
			return types.OutcomeApplied, nil
		},
	}
}

// linkLatestRule keeps a <name>-latest.sif symlink pointing at the
// configured tag. Non-halting: a broken link does not invalidate the image.
func (c *SingularityCompiler) linkLatestRule(spec types.ContainerSpec) types.Rule {
	image := c.imagePath(spec)
	latest := filepath.Join(c.imageDir(), spec.Name+"-latest.sif")

	return types.Rule{
		Label:  "link latest " + spec.Name,
		Detail: fmt.Sprintf("ln -sf %s %s", image, latest),
		Run: func(ctx context.Context) (types.Outcome, error) {
			if current, err := os.Readlink(latest); err == nil && current == image {
				return types.OutcomeSkipped, nil
			}
			if err := os.Remove(latest); err != nil && !os.IsNotExist(err) {
				return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
					"failed to remove %s", latest)
			}
			if err := os.Symlink(image, latest); err != nil {
				return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
					"failed to link %s", latest)
			}
			return types.OutcomeApplied, nil
		},
	}
}

// pruneRule removes images that are no longer configured. Non-halting.
func (c *SingularityCompiler) pruneRule(specs []types.ContainerSpec) types.Rule {
	keep := make(map[string]bool, len(specs)*2)
	for _, spec := range specs {
		keep[filepath.Base(c.imagePath(spec))] = true
		keep[spec.Name+"-latest.sif"] = true
	}
	imageDir := c.imageDir()
	registry := c.registryPath()

	return types.Rule{
		Label:  "prune stale images",
		Detail: "remove images not present in the configuration",
		Run: func(ctx context.Context) (types.Outcome, error) {
			entries, err := os.ReadDir(imageDir)
			if err != nil {
				return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
					"failed to list %s", imageDir)
			}

			removed := false
			for _, entry := range entries {
				name := entry.Name()
				if keep[name] || !strings.HasSuffix(name, ".sif") {
					continue
				}
				if err := os.Remove(filepath.Join(imageDir, name)); err != nil {
					return types.OutcomeFailed, errors.Wrapf(err, errors.ErrRuleCommandFailed,
						"failed to remove stale image %s", name)
				}
				removed = true
			}

			if removed {
				installed, err := readInstalledImages(registry)
				if err != nil {
					return types.OutcomeFailed, err
				}
				for fullName, path := range installed {
					if !keep[filepath.Base(path)] {
						delete(installed, fullName)
					}
				}
				if err := writeInstalledImages(registry, installed); err != nil {
					return types.OutcomeFailed, err
				}
				return types.OutcomeApplied, nil
			}
			return types.OutcomeSkipped, nil
		},
	}
}

// writeDefinitionFile renders the singularity definition for one container.
func writeDefinitionFile(path string, spec types.ContainerSpec) error {
	var b strings.Builder

	switch {
	case spec.DockerURL != "":
		b.WriteString("Bootstrap: docker\n")
		b.WriteString("From: " + strings.TrimPrefix(spec.DockerURL, "docker://") + "\n")
	case spec.Registry != "":
		b.WriteString("Bootstrap: docker\n")
		fmt.Fprintf(&b, "From: %s/%s:%s\n", spec.Registry, spec.Name, spec.Tag)
	default:
		return errors.Newf(errors.ErrInvalidInput,
			"container %s has neither docker_url nor registry", spec.FullName())
	}

	if len(spec.Commands) > 0 {
		b.WriteString("\n%post\n")
		for _, cmd := range spec.Commands {
			b.WriteString("    " + cmd + "\n")
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to write definition %s", path)
	}
	return nil
}

func readInstalledImages(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to read %s", path)
	}

	installed := make(map[string]string)
	if err := yaml.Unmarshal(data, &installed); err != nil {
		return nil, errors.Wrapf(err, errors.ErrRuleCommandFailed, "corrupt image registry %s", path)
	}
	return installed, nil
}

func writeInstalledImages(path string, installed map[string]string) error {
	data, err := yaml.Marshal(installed)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to render image registry")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to write %s", path)
	}
	return nil
}
