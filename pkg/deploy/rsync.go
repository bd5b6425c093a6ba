package deploy

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/shell"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// defaultRsyncFlags mirrors the long-standing site default: recursive,
// preserve everything except ownership, stay on one filesystem, verbose.
const defaultRsyncFlags = "-surlptDxv"

// defaultSSHCommand is used when the target does not override it.
const defaultSSHCommand = "ssh"

// RsyncTransport syncs directories with rsync, over ssh when the target
// names a host.
type RsyncTransport struct {
	runner shell.Runner
}

// NewRsyncTransport creates the transport.
func NewRsyncTransport(runner shell.Runner) *RsyncTransport {
	return &RsyncTransport{runner: runner}
}

// Commands implements Transport.
func (t *RsyncTransport) Commands(target types.DeployTarget, pair types.SyncPair) ([]shell.Command, error) {
	argv := []string{"rsync"}

	flags := target.RsyncFlags
	if flags == "" {
		flags = defaultRsyncFlags
	}
	argv = append(argv, strings.Fields(flags)...)

	if target.ChmodOptions != "" {
		argv = append(argv, "--chmod="+target.ChmodOptions)
	}
	if target.SetSbit {
		// Sticky bit on every synced directory.
		argv = append(argv, "--chmod=Dt")
	}
	if target.Delete {
		argv = append(argv, "--delete")
	}
	if target.TargetHost != "" {
		ssh := target.SSHCommand
		if ssh == "" {
			ssh = defaultSSHCommand
		}
		argv = append(argv, "-e", ssh)
	}

	source := pair.Source
	if target.WorkingDir != "" {
		rel, err := filepath.Rel(target.WorkingDir, pair.Source)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrInvalidInput,
				"source %q is not reachable from working directory %q", pair.Source, target.WorkingDir)
		}
		source = rel
	}

	dest := pair.Dest
	if target.TargetHost != "" {
		dest = target.TargetHost + ":" + dest
	}

	argv = append(argv, source+"/", dest)

	return []shell.Command{{Argv: argv, Dir: target.WorkingDir}}, nil
}

// Sync implements Transport.
func (t *RsyncTransport) Sync(ctx context.Context, target types.DeployTarget, pair types.SyncPair) error {
	cmds, err := t.Commands(target, pair)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := t.runner.Run(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
