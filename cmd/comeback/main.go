package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/comeback/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "comeback",
	Short: "Captain Comeback - userland OOM manager for container hosts",
	Long: `Captain Comeback watches the memory cgroups under --root-cg, disables
the in-kernel OOM killer for each one, and restarts any container that
exceeds its memory allocation: signal its processes, wait out a grace
period, then ask the container runtime to bring it back.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"comeback version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	flags := rootCmd.Flags()
	flags.String("root-cg", defaultRootCG, "parent memory cgroup (children will be monitored)")
	flags.String("activity", defaultActivityDir, "directory to write per-container activity logs")
	flags.Float64("sync-interval", defaultSyncInterval, "target sync interval, in seconds, to refresh cgroups")
	flags.Int("restart-grace-period", defaultRestartGracePeriod, "seconds to wait after SIGTERM before sending SIGKILL")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("adapter", "docker", "container-runtime adapter to use: docker, docker-wipe-fs, containerd, null")
	flags.String("containerd-socket", "", "containerd socket path (only used by --adapter=containerd)")
	flags.String("containerd-namespace", "", "containerd namespace (only used by --adapter=containerd)")
	flags.String("restart", "", "restart one container by id and exit, instead of running the daemon")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	debug, _ := rootCmd.Flags().GetBool("debug")
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level})
}
