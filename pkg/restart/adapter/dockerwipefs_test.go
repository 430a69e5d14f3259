package adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/comeback/pkg/cgroup"
)

// fakeCgroupMonitor builds a Monitor whose Name() is name, without
// touching the filesystem — adapters only ever call cg.Name() on it.
func fakeCgroupMonitor(name string) *cgroup.Monitor {
	return cgroup.New(filepath.Join("/sys/fs/cgroup/memory/docker", name))
}

// withTempAUFSLayout points the package's AUFS path vars at a temp
// directory for the duration of the test.
func withTempAUFSLayout(t *testing.T, dir string) {
	t.Helper()
	oldBase, oldMounts := aufsBaseDir, aufsMountsDir
	aufsBaseDir = dir
	aufsMountsDir = filepath.Join(dir, "layerdb-mounts")
	t.Cleanup(func() {
		aufsBaseDir = oldBase
		aufsMountsDir = oldMounts
	})
}

func TestWipeFSAbortsWhenMountDirNotEmpty(t *testing.T) {
	dir := t.TempDir()
	withTempAUFSLayout(t, dir)

	name := "abc123"
	mnt := filepath.Join(aufsBaseDir, "mnt", name)
	require.NoError(t, os.MkdirAll(mnt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mnt, "still-running"), nil, 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(aufsBaseDir, "diff", name), 0o755))

	cg := fakeCgroupMonitor(name)
	err := wipeFS(cg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "abort wipe")
}

func TestWipeFSSwapsDiffDirAndBacksUpTheOld(t *testing.T) {
	dir := t.TempDir()
	withTempAUFSLayout(t, dir)

	name := "abc123"
	require.NoError(t, os.MkdirAll(filepath.Join(aufsBaseDir, "mnt", name), 0o755))

	diffDir := filepath.Join(aufsBaseDir, "diff", name)
	require.NoError(t, os.MkdirAll(diffDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(diffDir, "marker"), []byte("original"), 0o644))

	cg := fakeCgroupMonitor(name)
	require.NoError(t, wipeFS(cg))

	entries, err := os.ReadDir(diffDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	backupRoot := filepath.Join(aufsBaseDir, backupDirName)
	backups, err := os.ReadDir(backupRoot)
	require.NoError(t, err)
	require.Len(t, backups, 1)

	marker, err := os.ReadFile(filepath.Join(backupRoot, backups[0].Name(), "marker"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(marker))
}
