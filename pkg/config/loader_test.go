package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciencebuild/buildrules/pkg/config"
	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/testutil"
	"github.com/sciencebuild/buildrules/pkg/types"
)

func TestLoadTargetConfigSpack(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "spack", map[string]string{
		config.BuildConfigFile: `target_architecture: linux-centos7-x86_64
compilers:
  - name: gcc
    version: 4.8.5
    system_compiler: true
  - name: gcc
    version: 9.3.0
    variants: ["+piclibs"]
    flags:
      cflags: "-O2"
packages:
  - name: openmpi
    version: 3.1.4
    dependencies: ["gcc@9.3.0"]
`,
	})

	cfg, err := config.LoadTargetConfig(dir, types.ToolSpack)
	require.NoError(t, err)

	assert.Equal(t, types.ToolSpack, cfg.Tool)
	assert.Equal(t, "linux-centos7-x86_64", cfg.Target)
	require.Len(t, cfg.Compilers, 2)
	assert.True(t, cfg.Compilers[0].SystemCompiler)
	assert.Equal(t, "9.3.0", cfg.Compilers[1].Version)
	assert.Equal(t, []string{"+piclibs"}, cfg.Compilers[1].Variants)
	assert.Equal(t, "-O2", cfg.Compilers[1].Flags.CFlags)
	require.Len(t, cfg.Packages, 1)
	assert.Equal(t, []string{"gcc@9.3.0"}, cfg.Packages[0].Dependencies)
}

func TestLoadTargetConfigNameVersionOnlyIsValid(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "spack", map[string]string{
		config.BuildConfigFile: testutil.MinimalSpackBuildConfig,
	})

	cfg, err := config.LoadTargetConfig(dir, types.ToolSpack)
	require.NoError(t, err)

	// All keys beyond name+version default to empty/false.
	pkg := cfg.Packages[0]
	assert.Empty(t, pkg.Variants)
	assert.Empty(t, pkg.Dependencies)
	assert.True(t, pkg.Flags.Empty())
	assert.False(t, pkg.Reinstall)
}

func TestLoadTargetConfigMissingTargetArchitecture(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "spack", map[string]string{
		config.BuildConfigFile: `compilers: []
packages: []
`,
	})

	_, err := config.LoadTargetConfig(dir, types.ToolSpack)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigMissingKey))
	assert.Equal(t, "target_architecture", errors.GetErrorDetails(err)["key"])
}

func TestLoadTargetConfigTypeMismatch(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "spack", map[string]string{
		config.BuildConfigFile: `target_architecture: linux-centos7-x86_64
compilers:
  gcc: 4.8.5
packages: []
`,
	})

	_, err := config.LoadTargetConfig(dir, types.ToolSpack)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigTypeMismatch))
	details := errors.GetErrorDetails(err)
	assert.Equal(t, "compilers", details["key"])
	assert.Equal(t, "mapping", details["got"])
}

func TestLoadTargetConfigMissingSpecField(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "spack", map[string]string{
		config.BuildConfigFile: `target_architecture: linux-centos7-x86_64
compilers:
  - name: gcc
    version: 4.8.5
packages:
  - name: openmpi
`,
	})

	_, err := config.LoadTargetConfig(dir, types.ToolSpack)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigMissingKey))
	assert.Equal(t, "packages[0].version", errors.GetErrorDetails(err)["key"])
}

func TestLoadTargetConfigParseError(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "spack", map[string]string{
		config.BuildConfigFile: "target_architecture: [unclosed\n",
	})

	_, err := config.LoadTargetConfig(dir, types.ToolSpack)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigParse))
}

func TestLoadTargetConfigSingularity(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "singularity", map[string]string{
		config.BuildConfigFile: `target_architecture: linux-centos7-x86_64
containers:
  - name: tensorflow
    tag: 2.4.1
    docker_url: docker://tensorflow/tensorflow:2.4.1
`,
	})

	cfg, err := config.LoadTargetConfig(dir, types.ToolSingularity)
	require.NoError(t, err)
	require.Len(t, cfg.Containers, 1)
	assert.Equal(t, "tensorflow:2.4.1", cfg.Containers[0].FullName())
}

func TestLoadDeployTargets(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "spack", map[string]string{
		config.DeploymentConfigFile: `- method: rsync
  target_host: deploy.example.org
  delete: true
  set_sbit: true
  paths:
    - name: software
      source: /appl/spack
      dest: /appl/spack
    - name: modules
      source: /appl/modules
      dest: /appl/modules
`,
	})

	targets, err := config.LoadDeployTargets(dir, types.ToolSpack)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "rsync", targets[0].Method)
	assert.True(t, targets[0].Delete)
	assert.True(t, targets[0].SetSbit)
	require.Len(t, targets[0].Paths, 2)
	assert.Equal(t, "modules", targets[0].Paths[1].Name)
}

func TestLoadDeployTargetsMissingFileMeansNoDeploy(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "spack", map[string]string{})

	targets, err := config.LoadDeployTargets(dir, types.ToolSpack)
	require.NoError(t, err)
	assert.Nil(t, targets)
}

func TestLoadDeployTargetsMissingPaths(t *testing.T) {
	dir := testutil.WriteConfigTree(t, t.TempDir(), "spack", map[string]string{
		config.DeploymentConfigFile: `- method: rsync
  target_host: deploy.example.org
`,
	})

	_, err := config.LoadDeployTargets(dir, types.ToolSpack)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigMissingKey))
}
