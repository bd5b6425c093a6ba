package deploy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buildErrors "github.com/sciencebuild/buildrules/pkg/errors"

	"github.com/sciencebuild/buildrules/pkg/deploy"
	"github.com/sciencebuild/buildrules/pkg/testutil"
	"github.com/sciencebuild/buildrules/pkg/types"
)

func cleanReport() types.BuildReport {
	return types.BuildReport{
		Tool: types.ToolSpack,
		Results: []types.RuleResult{
			{Label: "install package openmpi@3.1.4", Halting: true, Outcome: types.OutcomeApplied},
		},
	}
}

func rsyncTarget() types.DeployTarget {
	return types.DeployTarget{
		Method:     "rsync",
		TargetHost: "deploy.example.org",
		Paths: []types.SyncPair{
			{Name: "software", Source: "/appl/opt", Dest: "/appl/opt"},
		},
	}
}

func TestDeployRunsRsync(t *testing.T) {
	runner := testutil.NewFakeRunner()
	err := deploy.New(runner).Deploy(context.Background(),
		[]types.DeployTarget{rsyncTarget()}, cleanReport())
	require.NoError(t, err)

	calls := runner.CallStrings()
	require.Len(t, calls, 1)
	assert.Equal(t, "rsync -surlptDxv -e ssh /appl/opt/ deploy.example.org:/appl/opt", calls[0])
}

func TestDeployRefusesFatalReport(t *testing.T) {
	runner := testutil.NewFakeRunner()
	report := types.BuildReport{
		Tool:   types.ToolSpack,
		Halted: true,
		Results: []types.RuleResult{
			{Label: "install compiler gcc@9.3.0", Halting: true, Outcome: types.OutcomeFailed},
		},
	}

	err := deploy.New(runner).Deploy(context.Background(),
		[]types.DeployTarget{rsyncTarget()}, report)
	require.Error(t, err)
	assert.True(t, buildErrors.IsErrorCode(err, buildErrors.ErrDeployPrecondition))
	assert.Empty(t, runner.Calls())
}

func TestDeployUnknownMethod(t *testing.T) {
	target := rsyncTarget()
	target.Method = "carrier-pigeon"

	err := deploy.New(testutil.NewFakeRunner()).Deploy(context.Background(),
		[]types.DeployTarget{target}, cleanReport())
	require.Error(t, err)
	assert.True(t, buildErrors.IsErrorCode(err, buildErrors.ErrInvalidInput))
}

func TestDeployTransportFailureCarriesPair(t *testing.T) {
	runner := testutil.NewFakeRunner()
	runner.FailOn("rsync", errors.New("connection refused"))

	err := deploy.New(runner).Deploy(context.Background(),
		[]types.DeployTarget{rsyncTarget()}, cleanReport())
	require.Error(t, err)
	assert.True(t, buildErrors.IsErrorCode(err, buildErrors.ErrDeployTransport))

	details := buildErrors.GetErrorDetails(err)
	assert.Equal(t, "software", details["pair"])
	assert.Equal(t, "deploy.example.org", details["host"])
}

func TestDeployStopsAtFirstFailure(t *testing.T) {
	runner := testutil.NewFakeRunner()
	runner.FailOn("/appl/opt/", errors.New("disk full"))

	target := rsyncTarget()
	target.Paths = append(target.Paths,
		types.SyncPair{Name: "modules", Source: "/appl/modules", Dest: "/appl/modules"})

	err := deploy.New(runner).Deploy(context.Background(),
		[]types.DeployTarget{target}, cleanReport())
	require.Error(t, err)
	assert.Len(t, runner.Calls(), 1)
}

func TestCommandsRenderWithoutRunning(t *testing.T) {
	runner := testutil.NewFakeRunner()
	cmds, err := deploy.New(runner).Commands([]types.DeployTarget{rsyncTarget()})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Empty(t, runner.Calls())
}
