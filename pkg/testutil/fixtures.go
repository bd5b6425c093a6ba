package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteConfigTree lays out a config dir for one tool:
// <dir>/<tool>/<name> for each file given.
func WriteConfigTree(t *testing.T, dir, tool string, files map[string]string) string {
	t.Helper()

	toolDir := filepath.Join(dir, tool)
	if err := os.MkdirAll(toolDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	for name, content := range files {
		path := filepath.Join(toolDir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

// MinimalSpackBuildConfig is a build_config.yaml with one system compiler
// and one package, the smallest useful spack target.
const MinimalSpackBuildConfig = `target_architecture: linux-centos7-x86_64
compilers:
  - name: gcc
    version: 4.8.5
    system_compiler: true
packages:
  - name: openmpi
    version: 3.1.4
`

// MinimalDeploymentConfig ships one pair over rsync.
const MinimalDeploymentConfig = `- method: rsync
  target_host: build-host.example.org
  paths:
    - name: software
      source: /appl/spack
      dest: /appl/spack
`
