package types

// TargetConfig is the normalized configuration tree for one build target.
// It is created from YAML at startup and never mutated afterwards.
type TargetConfig struct {
	// Tool is the package manager this configuration drives.
	Tool ToolKind

	// Target is the platform/os/architecture triple, e.g. linux/centos7/x86_64.
	Target string

	// Compilers are built before any package, in declaration order.
	Compilers []CompilerSpec

	// Packages are end-product packages, in declaration order.
	Packages []PackageSpec

	// Containers holds singularity image definitions (singularity only).
	Containers []ContainerSpec

	// Environments holds conda environment definitions (anaconda only).
	Environments []CondaEnvSpec
}

// Flags carries per-language compiler flags attached to a spec.
type Flags struct {
	CFlags   string `yaml:"cflags,omitempty"`
	CXXFlags string `yaml:"cxxflags,omitempty"`
	FFlags   string `yaml:"fflags,omitempty"`
	CPPFlags string `yaml:"cppflags,omitempty"`
	LDFlags  string `yaml:"ldflags,omitempty"`
	LDLibs   string `yaml:"ldlibs,omitempty"`
}

// Empty reports whether no flag is set.
func (f Flags) Empty() bool {
	return f == Flags{}
}

// CompilerSpec describes one compiler to install. Order within the
// configuration is significant: system compilers come first and later
// compilers may depend on earlier ones.
type CompilerSpec struct {
	Name           string   `yaml:"name"`
	Version        string   `yaml:"version"`
	SystemCompiler bool     `yaml:"system_compiler,omitempty"`
	Variants       []string `yaml:"variants,omitempty"`
	Dependencies   []string `yaml:"dependencies,omitempty"`
	ExtraFlags     []string `yaml:"extra_flags,omitempty"`
	Flags          Flags    `yaml:"flags,omitempty"`
	Target         string   `yaml:"target,omitempty"`
	Licenses       []string `yaml:"licenses,omitempty"`
}

// PackageSpec describes one package to install. Same shape as CompilerSpec
// minus the system_compiler marker.
type PackageSpec struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Variants     []string `yaml:"variants,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	ExtraFlags   []string `yaml:"extra_flags,omitempty"`
	Flags        Flags    `yaml:"flags,omitempty"`
	Target       string   `yaml:"target,omitempty"`

	// Reinstall forces an uninstall (with dependents) before the install
	// rule for this package.
	Reinstall bool `yaml:"reinstall,omitempty"`
}

// ContainerSpec describes one singularity image to build.
type ContainerSpec struct {
	Name      string   `yaml:"name"`
	Tag       string   `yaml:"tag"`
	Registry  string   `yaml:"registry,omitempty"`
	DockerURL string   `yaml:"docker_url,omitempty"`
	Commands  []string `yaml:"commands,omitempty"`
}

// FullName returns the name:tag form used for image files and the
// installed-image registry.
func (c ContainerSpec) FullName() string {
	if c.Tag == "" {
		return c.Name
	}
	return c.Name + ":" + c.Tag
}

// CondaEnvSpec describes one anaconda environment to provision.
type CondaEnvSpec struct {
	Name             string   `yaml:"name"`
	Version          string   `yaml:"version"`
	InstallerVersion string   `yaml:"installer_version,omitempty"`
	Channels         []string `yaml:"channels,omitempty"`
	Packages         []string `yaml:"packages,omitempty"`
	EnvironmentFile  string   `yaml:"environment_file,omitempty"`

	// InstallerChecksum is the expected sha256 of the miniconda installer.
	// Empty disables verification.
	InstallerChecksum string `yaml:"installer_checksum,omitempty"`
}
