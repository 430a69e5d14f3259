package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/comeback/pkg/activity"
	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/index"
	"github.com/cuemby/comeback/pkg/log"
	"github.com/cuemby/comeback/pkg/queue"
	"github.com/cuemby/comeback/pkg/restart"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.restartContainerID != "" {
		return restartOne(cfg)
	}
	return runLoop(cfg)
}

// resolveConfig reads flags into a config, falling back to defaults with a
// warning log for out-of-range values.
func resolveConfig(cmd *cobra.Command) (*config, error) {
	flags := cmd.Flags()
	logger := log.WithComponent("cli")

	rootCG, _ := flags.GetString("root-cg")
	activityDir, _ := flags.GetString("activity")
	syncIntervalSec, _ := flags.GetFloat64("sync-interval")
	gracePeriodSec, _ := flags.GetInt("restart-grace-period")
	adapterName, _ := flags.GetString("adapter")
	containerdSocket, _ := flags.GetString("containerd-socket")
	containerdNamespace, _ := flags.GetString("containerd-namespace")
	restartID, _ := flags.GetString("restart")

	if syncIntervalSec < 0 {
		logger.Warn().Float64("sync_interval", syncIntervalSec).Msg("invalid sync interval, must be >= 0")
		syncIntervalSec = defaultSyncInterval
	}
	if gracePeriodSec < 0 {
		logger.Warn().Int("restart_grace_period", gracePeriodSec).Msg("invalid restart grace period, must be >= 0")
		gracePeriodSec = defaultRestartGracePeriod
	}

	return &config{
		rootCG:              rootCG,
		activityDir:         activityDir,
		syncInterval:        time.Duration(syncIntervalSec * float64(time.Second)),
		restartGracePeriod:  time.Duration(gracePeriodSec) * time.Second,
		adapterName:         adapterName,
		containerdSocket:    containerdSocket,
		containerdNamespace: containerdNamespace,
		restartContainerID:  restartID,
	}, nil
}

// runLoop runs the daemon's sync/poll cycle until a consumer goroutine
// dies, at which point it returns an error so main can exit non-zero.
func runLoop(cfg *config) error {
	logger := log.WithComponent("main")

	a, closeAdapter, err := buildAdapter(cfg)
	if err != nil {
		return err
	}
	defer closeAdapter()

	jobQueue := queue.New[restart.JobMessage]()
	jobSink := restart.NewJobQueue(jobQueue)
	activityQueue := queue.New[activity.Message]()

	idx := index.New(cfg.rootCG, jobSink, activityQueue)
	if err := idx.Open(); err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	restarter := restart.NewEngine(a, cfg.restartGracePeriod, jobSink, activityQueue)
	activityEngine := activity.New(cfg.activityDir, activityQueue)

	// Fire an initial sync, then drain the activity queue before starting the
	// activity worker: we don't want "container has started" lines for
	// containers that already existed when Captain Comeback itself started.
	idx.Sync()
	for {
		if _, ok := activityQueue.TryPop(); !ok {
			break
		}
	}

	restarterDone := make(chan struct{})
	go func() { restarter.Run(); close(restarterDone) }()

	activityDone := make(chan struct{})
	go func() { activityEngine.Run(); close(activityDone) }()

	for {
		idx.Sync()
		nextSync := time.Now().Add(cfg.syncInterval)

		for {
			timeout := time.Until(nextSync)
			if timeout <= 0 {
				break
			}
			if err := idx.Poll(timeout); err != nil {
				return fmt.Errorf("poll: %w", err)
			}
		}

		select {
		case <-restarterDone:
			logger.Error().Msg("restart engine thread is dead")
			return fmt.Errorf("restart engine exited unexpectedly")
		case <-activityDone:
			logger.Error().Msg("activity engine thread is dead")
			return fmt.Errorf("activity engine exited unexpectedly")
		default:
		}
	}
}

// restartOne runs a single restart synchronously against a throwaway cgroup
// monitor and activity queue, then exits, for the daemon's one-shot
// "--restart <container_id>" mode.
func restartOne(cfg *config) error {
	logger := log.WithComponent("cli")

	a, closeAdapter, err := buildAdapter(cfg)
	if err != nil {
		return err
	}
	defer closeAdapter()

	cg := cgroup.New(filepath.Join(cfg.rootCG, cfg.restartContainerID))
	activityQueue := queue.New[activity.Message]()

	err = restart.RestartOne(a, cfg.restartGracePeriod, cg, activityQueue)

	for {
		m, ok := activityQueue.TryPop()
		if !ok {
			break
		}
		logger.Debug().Str("cgroup", cg.Name()).Msgf("received %T", m)
	}

	if err != nil {
		logger.Error().Err(err).Str("cgroup", cg.Name()).Msg("container does not exist or restart failed")
		return err
	}
	return nil
}
