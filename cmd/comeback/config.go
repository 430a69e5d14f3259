package main

import "time"

// Default flag values, applied when a flag is unset or falls back after
// failing validation.
const (
	defaultRootCG             = "/sys/fs/cgroup/memory/docker"
	defaultActivityDir        = "/var/log/container-activity"
	defaultSyncInterval       = 1.0
	defaultRestartGracePeriod = 10
)

// config holds the daemon's resolved, validated settings, built from the
// CLI flags in main.go.
type config struct {
	rootCG              string
	activityDir         string
	syncInterval        time.Duration
	restartGracePeriod  time.Duration
	adapterName         string
	containerdSocket    string
	containerdNamespace string
	restartContainerID  string
}
