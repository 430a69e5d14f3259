package adapter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/log"
)

// These are vars, not consts, so tests can point them at a temp
// directory instead of the real Docker storage layout.
var (
	aufsBaseDir = "/var/lib/docker/aufs"

	aufsMountsDir = "/var/lib/docker/image/aufs/layerdb/mounts"
	aufsMountFile = "mount-id"
	backupDirName = "captain-comeback-backup"
)

// DockerWipeFS restarts a container the same way Docker does, but also
// swaps its AUFS diff directory for an empty one first. This works around
// containers whose root filesystem accumulated enough AUFS layers to make
// a restart itself slow or memory-hungry, at the cost of losing any
// writable-layer state (the old diff directory is preserved as a backup,
// not deleted).
type DockerWipeFS struct{}

// NewDockerWipeFS constructs the AUFS-wiping docker adapter.
func NewDockerWipeFS() *DockerWipeFS { return &DockerWipeFS{} }

func (d *DockerWipeFS) Restart(cg *cgroup.Monitor) error {
	logger := log.WithCgroup("adapter", cg.Name())

	stopOK := tryDockerCommand(cg, "docker", "stop", "-t", "0", cg.Name())
	if stopOK {
		if err := wipeFS(cg); err != nil {
			logger.Error().Err(err).Msg("could not wipe fs")
		}
	} else {
		logger.Warn().Msg("not wiping fs: stop failed")
	}

	if !tryDockerCommand(cg, "docker", "restart", "-t", "0", cg.Name()) {
		return fmt.Errorf("%s: docker restart failed", cg.Name())
	}
	return nil
}

// wipeFS swaps the container's AUFS diff directory for a freshly created
// empty one, preserving the old one under a backup directory instead of
// deleting it.
func wipeFS(cg *cgroup.Monitor) error {
	logger := log.WithCgroup("adapter", cg.Name())

	aufsID := cg.Name()
	restoreID := fmt.Sprintf("cc-%s", uuid.NewString())

	logger.Info().Str("restore_id", restoreID).Msg("wipe with restore id")

	mountIDPath := filepath.Join(aufsMountsDir, cg.Name(), aufsMountFile)
	if b, err := os.ReadFile(mountIDPath); err == nil {
		aufsID = string(b)
	} else {
		logger.Warn().Str("path", mountIDPath).Msg("mount ID not found")
	}

	// The container was just stopped, so this directory should be empty. If
	// it's not, bail rather than risk bricking the container.
	aufsMnt := filepath.Join(aufsBaseDir, "mnt", aufsID)
	entries, err := os.ReadDir(aufsMnt)
	if err != nil {
		return fmt.Errorf("read mnt dir: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("abort wipe: mnt is not empty: %s", aufsMnt)
	}

	diffDir := filepath.Join(aufsBaseDir, "diff")
	aufsContainer := filepath.Join(diffDir, aufsID)
	aufsOutbound := filepath.Join(diffDir, restoreID+"-out")
	aufsInbound := filepath.Join(diffDir, restoreID+"-in")

	if err := os.Mkdir(aufsInbound, 0o755); err != nil {
		return fmt.Errorf("mkdir inbound: %w", err)
	}

	// This is the critical section: renaming two directories is not atomic,
	// so a concurrent access by the runtime between these two calls could
	// brick the container. No data is lost either way, though.
	logger.Info().Str("restore_id", restoreID).Msg("rename: start")
	if err := os.Rename(aufsContainer, aufsOutbound); err != nil {
		return fmt.Errorf("rename container to outbound: %w", err)
	}
	if err := os.Rename(aufsInbound, aufsContainer); err != nil {
		if rbErr := os.Rename(aufsOutbound, aufsContainer); rbErr != nil {
			logger.Error().Err(rbErr).Msg("could not roll back rename")
		}
		return fmt.Errorf("rename inbound to container: %w", err)
	}
	logger.Info().Str("restore_id", restoreID).Msg("rename: done")

	backupDir := filepath.Join(aufsBaseDir, backupDirName)
	backup := filepath.Join(backupDir, fmt.Sprintf("%s-%s", cg.Name(), restoreID))
	logger.Info().Str("backup", backup).Msg("backup to")

	if err := os.MkdirAll(filepath.Dir(backup), 0o755); err != nil {
		return fmt.Errorf("mkdir backup dir: %w", err)
	}
	return os.Rename(aufsOutbound, backup)
}
