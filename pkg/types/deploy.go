package types

// SyncPair is one named source directory shipped to a destination path on
// the deploy target.
type SyncPair struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

// DeployTarget describes where and how built artifact trees are shipped.
type DeployTarget struct {
	// Method selects the transport. Only "rsync" is implemented.
	Method string `yaml:"method"`

	// TargetHost is the remote host. Empty means a local sync.
	TargetHost string `yaml:"target_host,omitempty"`

	// Paths are synchronized in order.
	Paths []SyncPair `yaml:"paths"`

	// Delete removes files present at dest but absent from source.
	Delete bool `yaml:"delete,omitempty"`

	// SetSbit applies the sticky bit to synced directories.
	SetSbit bool `yaml:"set_sbit,omitempty"`

	// WorkingDir, when set, is the directory rsync runs from; sources are
	// relativized against it.
	WorkingDir string `yaml:"working_directory,omitempty"`

	// SSHCommand overrides the remote shell passed to rsync -e.
	SSHCommand string `yaml:"ssh_command,omitempty"`

	// RsyncFlags overrides the default flag set.
	RsyncFlags string `yaml:"rsync_flags,omitempty"`

	// ChmodOptions is passed through as --chmod.
	ChmodOptions string `yaml:"chmod_options,omitempty"`
}
