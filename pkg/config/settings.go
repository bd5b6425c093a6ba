package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// SettingsFile is the optional per-tool site settings file name.
const SettingsFile = "config.yaml"

// Settings are site-level knobs: where trees live and how long a rule may
// run. They are passed explicitly into compilers and the executor rather
// than read from the ambient process environment.
type Settings struct {
	// InstallTree is the package-manager install root.
	InstallTree string `koanf:"install_tree"`

	// ModuleRoot is where generated modulefiles live.
	ModuleRoot string `koanf:"module_root"`

	// SourceCache holds downloaded installers and sources.
	SourceCache string `koanf:"source_cache"`

	// CompilersFile is the compiler registration file purged at the start
	// of every spack build.
	CompilersFile string `koanf:"compilers_file"`

	// RuleTimeout is the per-rule wall-clock limit, as a duration string.
	RuleTimeout string `koanf:"rule_timeout"`
}

// defaultSettings mirrors the documented site defaults.
func defaultSettings() map[string]interface{} {
	home, _ := os.UserHomeDir()
	return map[string]interface{}{
		"install_tree":   "/appl/opt",
		"module_root":    "/appl/modules",
		"source_cache":   "/appl/cache",
		"compilers_file": filepath.Join(home, ".spack", "linux", "compilers.yaml"),
		"rule_timeout":   "4h",
	}
}

// LoadSettings layers <configDir>/<tool>/config.yaml over the defaults.
// A missing settings file just yields the defaults.
func LoadSettings(configDir string, tool types.ToolKind) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultSettings(), "."), nil); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to load default settings")
	}

	path := filepath.Join(configDir, tool.String(), SettingsFile)
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfigParse, "failed to load settings from %s", path).
				WithDetail("path", path)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigTypeMismatch, "invalid settings in %s", path).
			WithDetail("path", path)
	}

	if _, err := time.ParseDuration(s.RuleTimeout); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigTypeMismatch, "rule_timeout %q is not a duration", s.RuleTimeout).
			WithDetail("key", "rule_timeout")
	}

	return &s, nil
}

// Timeout returns the parsed per-rule timeout.
func (s *Settings) Timeout() time.Duration {
	d, err := time.ParseDuration(s.RuleTimeout)
	if err != nil {
		return 4 * time.Hour
	}
	return d
}
