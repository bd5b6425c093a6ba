// Package deploy ships built artifact trees to deploy targets.
//
// Deployment never runs against a build that had a fatal failure, and
// never rolls back: a partially transferred target is recovered by
// re-running the whole deploy, which is idempotent at the rsync level.
package deploy

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/logging"
	"github.com/sciencebuild/buildrules/pkg/shell"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// Transport moves one source directory to its destination on a target.
type Transport interface {
	// Commands renders the external invocations for one pair, in order.
	Commands(target types.DeployTarget, pair types.SyncPair) ([]shell.Command, error)

	// Sync transfers one pair.
	Sync(ctx context.Context, target types.DeployTarget, pair types.SyncPair) error
}

// Deployer ships artifact trees over a pluggable transport.
type Deployer struct {
	transports map[string]Transport
	logger     zerolog.Logger
}

// New creates a Deployer with the rsync transport registered.
func New(runner shell.Runner) *Deployer {
	return &Deployer{
		transports: map[string]Transport{
			"rsync": NewRsyncTransport(runner),
		},
		logger: logging.GetLogger("deploy"),
	}
}

// Deploy ships every pair of every target in declaration order. It refuses
// to run when the report carries a fatal failure; the first transport
// failure aborts the call without rolling back earlier pairs.
func (d *Deployer) Deploy(ctx context.Context, targets []types.DeployTarget, report types.BuildReport) error {
	if report.Fatal() {
		return errors.New(errors.ErrDeployPrecondition,
			"refusing to deploy: build report contains a failed halting rule")
	}

	for _, target := range targets {
		transport, err := d.transport(target)
		if err != nil {
			return err
		}

		for _, pair := range target.Paths {
			d.logger.Info().
				Str("pair", pair.Name).
				Str("source", pair.Source).
				Str("dest", pair.Dest).
				Str("host", target.TargetHost).
				Msg("Deploying")

			if err := transport.Sync(ctx, target, pair); err != nil {
				return errors.Wrapf(err, errors.ErrDeployTransport,
					"transfer failed for pair %q", pair.Name).
					WithDetail("pair", pair.Name).
					WithDetail("host", target.TargetHost)
			}
		}
	}

	return nil
}

// Commands renders every transport invocation a deploy would run, for
// describe mode.
func (d *Deployer) Commands(targets []types.DeployTarget) ([]shell.Command, error) {
	var cmds []shell.Command
	for _, target := range targets {
		transport, err := d.transport(target)
		if err != nil {
			return nil, err
		}
		for _, pair := range target.Paths {
			pairCmds, err := transport.Commands(target, pair)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, pairCmds...)
		}
	}
	return cmds, nil
}

func (d *Deployer) transport(target types.DeployTarget) (Transport, error) {
	transport, ok := d.transports[target.Method]
	if !ok {
		return nil, errors.Newf(errors.ErrInvalidInput, "unsupported deploy method %q", target.Method).
			WithDetail("method", target.Method)
	}
	return transport, nil
}
