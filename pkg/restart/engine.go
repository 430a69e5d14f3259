package restart

import (
	"fmt"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/cuemby/comeback/pkg/activity"
	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/log"
	"github.com/cuemby/comeback/pkg/queue"
	"github.com/cuemby/comeback/pkg/restart/adapter"
)

// restartStatePolls is how many times the engine checks on a signaled
// cgroup over the course of its grace period.
const restartStatePolls = 20

// Engine consumes job-queue messages and drives each restart: signal,
// optionally relieve memory pressure, wait out the grace period, signal
// harder if needed, then hand off to the adapter.
type Engine struct {
	adapter       adapter.Adapter
	gracePeriod   time.Duration
	jobs          *JobQueue
	activityQueue *queue.Queue[activity.Message]

	counter int
	running map[string]struct{}
}

// NewEngine constructs a restart Engine. gracePeriod bounds how long a
// signaled cgroup is given to exit on its own before SIGKILL.
func NewEngine(a adapter.Adapter, gracePeriod time.Duration, jobs *JobQueue, activityQueue *queue.Queue[activity.Message]) *Engine {
	return &Engine{
		adapter:       a,
		gracePeriod:   gracePeriod,
		jobs:          jobs,
		activityQueue: activityQueue,
		running:       make(map[string]struct{}),
	}
}

// Run blocks, consuming job messages until the queue is closed.
func (e *Engine) Run() {
	logger := log.WithComponent("restart")
	logger.Info().Msg("ready to restart containers")

	for {
		msg, ok := e.jobs.Queue().Pop()
		if !ok {
			return
		}

		switch m := msg.(type) {
		case Requested:
			e.handleRequested(m.Cg)
		case Complete:
			e.handleComplete(m.Cg)
		case Pressure:
			logger.Warn().
				Str("cgroup", m.Cg.Name()).
				Int64("usage_bytes", m.UsageBytes).
				Int64("limit_bytes", m.LimitBytes).
				Msg("memory pressure")
		default:
			logger.Fatal().Msgf("unexpected message: %#v", msg)
		}
	}
}

func (e *Engine) handleRequested(cg *cgroup.Monitor) {
	logger := log.WithCgroup("restart", cg.Name())

	if _, already := e.running[cg.Path()]; already {
		logger.Info().Msg("already being restarted")
		return
	}
	logger.Debug().Msg("scheduling restart")
	e.running[cg.Path()] = struct{}{}

	jobName := fmt.Sprintf("restart-job-%d", e.counter)
	e.counter++

	go runRestartJob(jobName, e.adapter, e.gracePeriod, cg, e.jobs, e.activityQueue)
}

func (e *Engine) handleComplete(cg *cgroup.Monitor) {
	log.WithCgroup("restart", cg.Name()).Debug().Msg("registering restart complete")
	delete(e.running, cg.Path())
}

// runRestartJob is the body of a restart worker goroutine. It always
// reports Complete, even if the restart attempt failed, so the engine's
// running set never wedges a cgroup open forever.
func runRestartJob(jobName string, a adapter.Adapter, gracePeriod time.Duration, cg *cgroup.Monitor, jobs *JobQueue, activityQueue *queue.Queue[activity.Message]) {
	logger := log.WithJob(jobName)
	defer jobs.Complete(cg)

	if err := doRestart(a, gracePeriod, cg, activityQueue); err != nil {
		logger.Error().Err(err).Str("cgroup", cg.Name()).Msg("restart failed")
		return
	}
	logger.Info().Str("cgroup", cg.Name()).Msg("restart succeeded")
}

// RestartOne runs the restart procedure synchronously against cg, outside
// of the engine's goroutine-per-cgroup machinery. It is used by the
// daemon's one-shot "--restart <container_id>" mode, where there is no
// job queue to dedupe against and no need for one.
func RestartOne(a adapter.Adapter, gracePeriod time.Duration, cg *cgroup.Monitor, activityQueue *queue.Queue[activity.Message]) error {
	return doRestart(a, gracePeriod, cg, activityQueue)
}

func doRestart(a adapter.Adapter, gracePeriod time.Duration, cg *cgroup.Monitor, activityQueue *queue.Queue[activity.Message]) error {
	logger := log.WithCgroup("restart", cg.Name())
	logger.Info().Msg("restarting")

	psTable, err := cg.PSTable()
	if err != nil {
		psTable = nil
	}
	activityQueue.Push(activity.RestartCgroup{Name: cg.Name(), PSTable: psTable})

	// Signal first: this increases the odds of a clean shutdown before we
	// go allocate extra memory for it below.
	signalCgroup(cg, syscall.SIGTERM)

	signaledAt := time.Now()

	relieveMemoryPressure(cg)

	deadline := signaledAt.Add(gracePeriod)
	pollInterval := gracePeriod / restartStatePolls

	exited := false
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)

		pids, err := cg.Pids()
		if err != nil {
			logger.Info().Msg("cgroup has exited after SIGTERM")
			exited = true
			break
		}
		logger.Info().Ints("pids", pids).Msg("waiting for processes to exit")
	}

	if !exited {
		logger.Warn().Dur("grace_period", gracePeriod).Msg("container did not exit within grace period")
		activityQueue.Push(activity.RestartTimeout{Name: cg.Name(), GracePeriod: int(gracePeriod.Seconds())})

		logger.Info().Msg("sending SIGKILL")
		signalCgroup(cg, syscall.SIGKILL)
	}

	return a.Restart(cg)
}

// relieveMemoryPressure raises the cgroup's memory limit by 10%, but
// only if the host has enough free memory to spare — we look at free
// rather than available memory so granting this doesn't require the
// kernel to reclaim buffers first.
func relieveMemoryPressure(cg *cgroup.Monitor) {
	logger := log.WithCgroup("restart", cg.Name())

	memoryLimit, err := cg.MemoryLimitInBytes()
	if err != nil {
		return
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn().Err(err).Msg("could not read host memory stats")
		return
	}

	extra := memoryLimit / 10
	logger.Info().
		Int64("memory_limit", memoryLimit).
		Uint64("free_memory", vm.Free).
		Int64("extra", extra).
		Msg("considering memory relief")

	if vm.Free > uint64(extra) {
		newLimit := memoryLimit + extra
		logger.Info().Int64("new_limit", newLimit).Msg("increasing memory limit")
		if err := cg.SetMemoryLimitInBytes(newLimit); err != nil {
			logger.Warn().Err(err).Msg("could not raise memory limit")
		}
	}
}

// signalCgroup delivers signum to every pid currently in the cgroup. A
// pid that has already exited is not an error; this routinely races the
// processes exiting on their own.
func signalCgroup(cg *cgroup.Monitor, signum syscall.Signal) {
	logger := log.WithCgroup("restart", cg.Name())
	logger.Info().Int("signal", int(signum)).Msg("signalling")

	pids, err := cg.Pids()
	if err != nil {
		logger.Error().Err(err).Msg("could not signal processes")
		return
	}

	for _, pid := range pids {
		logger.Debug().Int("pid", pid).Msg("deliver signal")
		if err := syscall.Kill(pid, signum); err != nil {
			if err == syscall.ESRCH {
				logger.Debug().Int("pid", pid).Msg("had already exited")
			} else {
				logger.Error().Err(err).Int("pid", pid).Msg("failed to deliver signal")
			}
		}
	}
}
