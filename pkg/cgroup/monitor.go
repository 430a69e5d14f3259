package cgroup

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/cuemby/comeback/pkg/log"
)

// unconstrainedLimit is the boundary above which memory.limit_in_bytes is
// treated as "effectively unlimited" — the kernel reports a huge sentinel
// rather than -1 in practice, so both are checked.
const unconstrainedLimit = int64(1e15)

// NoFD marks a sync-triggered wakeup that is not in response to any
// particular event descriptor becoming readable.
const NoFD = -1

// JobSink receives the messages a Monitor produces while classifying a
// kernel wakeup. It is implemented by the restart package's job queue
// wrapper; defining it here (rather than importing the restart package)
// keeps Monitor a dependency-free leaf, per the component's place at the
// bottom of the dependency order.
type JobSink interface {
	// RestartRequested reports that cg is under OOM and must be restarted.
	RestartRequested(cg *Monitor)
	// MemoryPressure reports a critical memory-pressure notification.
	MemoryPressure(cg *Monitor, usageBytes, limitBytes int64)
}

// Monitor owns the kernel handles for one memory cgroup and translates
// kernel wakeups (OOM, critical memory pressure, or a periodic sync) into
// job-queue messages. It is not safe for concurrent Open/Close/Wakeup from
// multiple goroutines — the Index serializes all access to it.
type Monitor struct {
	path string

	oomControl    *os.File
	pressureLevel *os.File
	eventOOM      int
	eventPressure int

	isOpen bool
}

// New constructs a Monitor for the cgroup directory at path. The monitor
// starts Closed; call Open before using it.
func New(path string) *Monitor {
	return &Monitor{path: path, eventOOM: NoFD, eventPressure: NoFD}
}

// Path returns the absolute cgroup directory this monitor watches.
func (m *Monitor) Path() string { return m.path }

// Name returns the final path component, typically a container id.
func (m *Monitor) Name() string {
	return filepath.Base(m.path)
}

// IsOpen reports whether the monitor currently holds live kernel handles.
func (m *Monitor) IsOpen() bool { return m.isOpen }

// Open arms the kernel notification channels for both memory.oom_control
// and memory.pressure_level (critical level). It is all-or-nothing: on any
// failure, every descriptor already acquired in this call is released
// before returning.
func (m *Monitor) Open() (err error) {
	if m.isOpen {
		panic(fmt.Sprintf("%s: already open", m.Name()))
	}

	log.WithCgroup("cgroup", m.Name()).Debug().Msg("open")

	var acquired []func()
	rollback := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i]()
		}
	}
	defer func() {
		if err != nil {
			rollback()
		}
	}()

	oomControl, err := os.Open(m.oomControlPath())
	if err != nil {
		return fmt.Errorf("open memory.oom_control: %w", err)
	}
	acquired = append(acquired, func() { oomControl.Close() })

	eventOOM, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("create oom eventfd: %w", err)
	}
	acquired = append(acquired, func() { unix.Close(eventOOM) })

	if err = m.armEvent(eventOOM, oomControl.Fd(), ""); err != nil {
		return fmt.Errorf("arm oom_control event: %w", err)
	}

	pressureLevel, err := os.Open(m.pressureLevelPath())
	if err != nil {
		return fmt.Errorf("open memory.pressure_level: %w", err)
	}
	acquired = append(acquired, func() { pressureLevel.Close() })

	eventPressure, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("create pressure eventfd: %w", err)
	}
	acquired = append(acquired, func() { unix.Close(eventPressure) })

	if err = m.armEvent(eventPressure, pressureLevel.Fd(), "critical"); err != nil {
		return fmt.Errorf("arm pressure_level event: %w", err)
	}

	m.oomControl = oomControl
	m.pressureLevel = pressureLevel
	m.eventOOM = eventOOM
	m.eventPressure = eventPressure
	m.isOpen = true

	return nil
}

// armEvent appends the registration line to cgroup.event_control, wiring
// evFD to receive notifications about ctrlFD (optionally with an argument,
// e.g. the pressure level).
func (m *Monitor) armEvent(evFD int, ctrlFD uintptr, arg string) error {
	line := fmt.Sprintf("%d %d", evFD, ctrlFD)
	if arg != "" {
		line = fmt.Sprintf("%s %s", line, arg)
	}
	line += "\n"

	f, err := os.OpenFile(m.eventControlPath(), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(line)
	return err
}

// Close releases the four descriptors in reverse order. Closing a monitor
// that isn't open is a programmer error.
func (m *Monitor) Close() {
	if !m.isOpen {
		panic(fmt.Sprintf("%s: already closed", m.Name()))
	}

	log.WithCgroup("cgroup", m.Name()).Debug().Msg("close")

	unix.Close(m.eventPressure)
	m.pressureLevel.Close()
	unix.Close(m.eventOOM)
	m.oomControl.Close()

	m.eventPressure = NoFD
	m.eventOOM = NoFD
	m.pressureLevel = nil
	m.oomControl = nil
	m.isOpen = false
}

// EventFDs returns the two event descriptors the Index must register with
// its poller. Only valid while Open.
func (m *Monitor) EventFDs() (oomFD, pressureFD int) {
	return m.eventOOM, m.eventPressure
}

// Wakeup is the central classifier. It is invoked either because the
// Index's poller reported readiness on fd, or because the Index is
// performing a periodic sync (fd == NoFD).
func (m *Monitor) Wakeup(sink JobSink, fd int, raiseForStale bool) error {
	log.WithCgroup("cgroup", m.Name()).Debug().Msg("wakeup")

	if fd != NoFD && fd == m.eventPressure {
		usage, limit := m.pressureObservation()
		sink.MemoryPressure(m, usage, limit)
		return nil
	}

	status, err := m.oomControlStatus()
	if err != nil {
		if isStale(err) {
			log.WithCgroup("cgroup", m.Name()).Warn().Msg("cgroup is stale")
			if raiseForStale {
				return err
			}
			return nil
		}
		return err
	}

	if status["oom_kill_disable"] == "0" {
		m.onOOMKillerEnabled()
	}

	if status["under_oom"] == "1" {
		m.onOOMEvent(sink)
	}

	return nil
}

// onOOMKillerEnabled disables the in-kernel OOM killer for this cgroup,
// but only once a bounded memory limit has actually been set — the kernel
// ignores the write otherwise, and acting earlier just races the runtime.
func (m *Monitor) onOOMKillerEnabled() {
	limit, err := m.MemoryLimitInBytes()
	if err != nil {
		log.WithCgroup("cgroup", m.Name()).Warn().Err(err).Msg("could not read memory limit")
		return
	}

	if limit < 0 || limit > unconstrainedLimit {
		return
	}

	log.WithCgroup("cgroup", m.Name()).Info().Msg("set oom_kill_disable = 1")

	f, err := os.OpenFile(m.oomControlPath(), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		log.WithCgroup("cgroup", m.Name()).Error().Err(err).Msg("could not disable oom killer")
		return
	}
	defer f.Close()

	if _, err := f.WriteString("1\n"); err != nil {
		log.WithCgroup("cgroup", m.Name()).Error().Err(err).Msg("could not disable oom killer")
	}
}

// onOOMEvent logs a best-effort diagnostic read of memory.stat, then
// reports the cgroup as needing a restart.
func (m *Monitor) onOOMEvent(sink JobSink) {
	log.WithCgroup("cgroup", m.Name()).Warn().Msg("under_oom")

	if stat, err := m.readFile("memory.stat"); err == nil {
		log.WithCgroup("cgroup", m.Name()).Debug().Str("memory_stat", stat).Msg("memory.stat")
	}

	sink.RestartRequested(m)
}

// pressureObservation reads current usage and limit for logging purposes;
// zero values are returned on any read failure rather than propagated,
// since a pressure notification firing during cgroup teardown is routine.
func (m *Monitor) pressureObservation() (usage, limit int64) {
	usage, _ = m.MemoryUsageInBytes()
	limit, _ = m.MemoryLimitInBytes()
	return usage, limit
}

// oomControlStatus reads memory.oom_control as a space-separated "key
// value" table, e.g. "oom_kill_disable 0\nunder_oom 0\n". The file is
// re-opened by path, so a cgroup directory that has been removed yields a
// stale error here.
func (m *Monitor) oomControlStatus() (map[string]string, error) {
	content, err := m.readFile("memory.oom_control")
	if err != nil {
		return nil, err
	}

	status := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		status[fields[0]] = fields[1]
	}
	return status, nil
}

// MemoryUsageInBytes reads memory.usage_in_bytes.
func (m *Monitor) MemoryUsageInBytes() (int64, error) {
	return m.readInt("memory.usage_in_bytes")
}

// MemoryLimitInBytes reads memory.limit_in_bytes.
func (m *Monitor) MemoryLimitInBytes() (int64, error) {
	return m.readInt("memory.limit_in_bytes")
}

// SetMemoryLimitInBytes writes a new memory.limit_in_bytes.
func (m *Monitor) SetMemoryLimitInBytes(limit int64) error {
	f, err := os.OpenFile(m.memoryLimitPath(), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%d\n", limit)
	return err
}

// Pids reads cgroup.procs as the set of process ids currently in the
// cgroup (process-level view, not the thread-level "tasks" file — see the
// project's resolved Open Question on that ambiguity).
func (m *Monitor) Pids() ([]int, error) {
	f, err := os.Open(m.cgroupProcsPath())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pids []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, scanner.Err()
}

// PSTable enumerates each pid in the cgroup and collects a process
// snapshot row. A pid that has already exited is silently skipped —
// processes exit concurrently with this scan.
func (m *Monitor) PSTable() ([]ProcessSnapshot, error) {
	pids, err := m.Pids()
	if err != nil {
		return nil, err
	}

	rows := make([]ProcessSnapshot, 0, len(pids))
	for _, pid := range pids {
		row, ok, err := snapshotProcess(int32(pid))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (m *Monitor) readInt(name string) (int64, error) {
	s, err := m.readFile(name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func (m *Monitor) readFile(name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(m.path, name))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m *Monitor) oomControlPath() string    { return filepath.Join(m.path, "memory.oom_control") }
func (m *Monitor) eventControlPath() string  { return filepath.Join(m.path, "cgroup.event_control") }
func (m *Monitor) pressureLevelPath() string { return filepath.Join(m.path, "memory.pressure_level") }
func (m *Monitor) memoryLimitPath() string   { return filepath.Join(m.path, "memory.limit_in_bytes") }
func (m *Monitor) cgroupProcsPath() string   { return filepath.Join(m.path, "cgroup.procs") }

// isStale reports whether err indicates the cgroup directory has
// disappeared underneath us (runtime removed the container), as opposed
// to a genuine I/O error.
func isStale(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if errors.Is(err, syscall.ENODEV) {
		return true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, fs.ErrNotExist) || errors.Is(pathErr.Err, syscall.ENODEV)
	}
	return false
}
