package index

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cuemby/comeback/pkg/activity"
	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/log"
	"github.com/cuemby/comeback/pkg/queue"
)

// Index owns the set of live Monitors for every subdirectory of rootCGPath,
// and the single poller multiplexing their event descriptors.
type Index struct {
	rootCGPath    string
	jobs          cgroup.JobSink
	activityQueue *queue.Queue[activity.Message]

	poll *poller

	byPath map[string]*cgroup.Monitor
	byFD   map[int]*cgroup.Monitor
}

// New constructs an Index watching rootCGPath. jobs receives RestartRequested
// and MemoryPressure messages surfaced by individual monitors; activityQueue
// receives NewCgroup/StaleCgroup registration events.
func New(rootCGPath string, jobs cgroup.JobSink, activityQueue *queue.Queue[activity.Message]) *Index {
	return &Index{
		rootCGPath:    rootCGPath,
		jobs:          jobs,
		activityQueue: activityQueue,
		byPath:        make(map[string]*cgroup.Monitor),
		byFD:          make(map[int]*cgroup.Monitor),
	}
}

// Open allocates the poller. Must be called before Sync or Poll.
func (idx *Index) Open() error {
	if idx.poll != nil {
		panic("index: already open")
	}
	p, err := openPoller()
	if err != nil {
		return err
	}
	idx.poll = p
	log.WithComponent("index").Info().Msg("ready to sync")
	return nil
}

// Close deregisters and closes every remaining monitor, then releases the
// poller. Close is always safe to call once after Open.
func (idx *Index) Close() {
	if idx.poll == nil {
		panic("index: already closed")
	}

	for _, cg := range idx.snapshotMonitors() {
		idx.deregister(cg)
		cg.Close()
	}

	if err := idx.poll.close(); err != nil {
		log.WithComponent("index").Warn().Err(err).Msg("error closing poller")
	}
	idx.poll = nil
}

// Len reports how many cgroups are currently tracked. Exposed so tests can
// assert that the by-path and by-fd maps stay in agreement.
func (idx *Index) Len() int { return len(idx.byPath) }

// register opens cg, wires both its event descriptors into the poller and
// the two lookup maps, and announces it to the activity queue.
func (idx *Index) register(cg *cgroup.Monitor) error {
	logger := log.WithCgroup("index", cg.Name())
	logger.Info().Msg("registering")

	if err := cg.Open(); err != nil {
		return err
	}

	oomFD, pressureFD := cg.EventFDs()
	if err := idx.poll.add(oomFD); err != nil {
		cg.Close()
		return err
	}
	if err := idx.poll.add(pressureFD); err != nil {
		idx.poll.remove(oomFD)
		cg.Close()
		return err
	}

	idx.byPath[cg.Path()] = cg
	idx.byFD[oomFD] = cg
	idx.byFD[pressureFD] = cg

	idx.activityQueue.Push(activity.NewCgroup{Name: cg.Name()})
	return nil
}

// deregister announces cg as stale, unregisters its descriptors from the
// poller, and removes it from both maps. Removal from the maps happens
// before Close is invoked by the caller, so a sync pass racing this
// deregistration can never re-enter a half-closed monitor.
func (idx *Index) deregister(cg *cgroup.Monitor) {
	logger := log.WithCgroup("index", cg.Name())
	logger.Info().Msg("deregistering")

	idx.activityQueue.Push(activity.StaleCgroup{Name: cg.Name()})

	oomFD, pressureFD := cg.EventFDs()
	if err := idx.poll.remove(oomFD); err != nil {
		logger.Warn().Err(err).Msg("could not unregister oom fd")
	}
	if err := idx.poll.remove(pressureFD); err != nil {
		logger.Warn().Err(err).Msg("could not unregister pressure fd")
	}

	delete(idx.byPath, cg.Path())
	delete(idx.byFD, oomFD)
	delete(idx.byFD, pressureFD)
}

// snapshotMonitors returns the current monitors as a slice, so callers can
// iterate while mutating the maps (e.g. deregistering a stale monitor
// encountered mid-sync).
func (idx *Index) snapshotMonitors() []*cgroup.Monitor {
	monitors := make([]*cgroup.Monitor, 0, len(idx.byPath))
	for _, cg := range idx.byPath {
		monitors = append(monitors, cg)
	}
	return monitors
}

// Sync reconciles the tracked set against the filesystem: it re-wakes every
// currently-tracked monitor (catching cgroups that have just had their
// memory limit set by the runtime, after the window where it briefly
// looked unconstrained), then discovers and registers any new
// subdirectory of rootCGPath.
func (idx *Index) Sync() {
	logger := log.WithComponent("index")
	logger.Debug().Msg("syncing cgroups")

	for _, cg := range idx.snapshotMonitors() {
		if err := cg.Wakeup(idx.jobs, cgroup.NoFD, true); err != nil {
			idx.deregister(cg)
			cg.Close()
		}
	}

	entries, err := os.ReadDir(idx.rootCGPath)
	if err != nil {
		logger.Error().Err(err).Str("root", idx.rootCGPath).Msg("could not list root cgroup")
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(idx.rootCGPath, entry.Name())
		if _, tracked := idx.byPath[path]; tracked {
			continue
		}

		cg := cgroup.New(path)
		if err := idx.register(cg); err != nil {
			// The cgroup may have disappeared between listdir and open; that's
			// an expected, non-fatal race with the container runtime.
			logger.Warn().Err(err).Str("cgroup", cg.Name()).Msg("error opening new cgroup")
			continue
		}
		if err := cg.Wakeup(idx.jobs, cgroup.NoFD, false); err != nil {
			logger.Warn().Err(err).Str("cgroup", cg.Name()).Msg("error on initial wakeup")
		}
	}
}

// Poll waits up to timeout for readiness on any registered descriptor,
// classifies each ready monitor's wakeup, and acknowledges the eventfd by
// draining its counter. EINTR is not treated as an error; the caller's loop
// simply calls Poll again with a recomputed timeout.
func (idx *Index) Poll(timeout time.Duration) error {
	millis := int(timeout.Milliseconds())
	if timeout < 0 {
		millis = -1
	}

	events, err := idx.poll.wait(millis)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ev.Events&unix.EPOLLIN == 0 {
			panic(fmt.Sprintf("index: unexpected event bits: %#x", ev.Events))
		}

		fd := int(ev.Fd)
		cg, ok := idx.byFD[fd]
		if !ok {
			// The monitor was deregistered concurrently with this wakeup
			// arriving; nothing to do.
			continue
		}

		if err := cg.Wakeup(idx.jobs, fd, false); err != nil {
			log.WithCgroup("index", cg.Name()).Warn().Err(err).Msg("wakeup failed")
		}

		drainEventFD(fd)
	}

	return nil
}

// drainEventFD reads and discards the eventfd's 8-byte counter so it
// doesn't remain signalled and spin the poller.
func drainEventFD(fd int) {
	var buf [8]byte
	if _, err := unix.Read(fd, buf[:]); err != nil {
		log.WithComponent("index").Debug().Err(err).Int("fd", fd).Msg("could not drain eventfd")
	}
}
