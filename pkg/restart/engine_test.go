package restart

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/comeback/pkg/activity"
	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/queue"
	"github.com/cuemby/comeback/pkg/restart/adapter"
)

// writeProcs records pids as the cgroup's process list.
func writeProcs(t *testing.T, dir string, pids ...int) {
	t.Helper()
	var content string
	for _, pid := range pids {
		content += strconv.Itoa(pid) + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup.procs"), []byte(content), 0o644))
}

// fixture builds a cgroup directory with the files doRestart touches
// (cgroup.procs, memory.limit_in_bytes) without needing a real Monitor.Open.
func newFixture(t *testing.T) (string, *cgroup.Monitor) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memory.limit_in_bytes"), []byte("1073741824\n"), 0o644))
	writeProcs(t, dir)
	return dir, cgroup.New(dir)
}

func TestDoRestartExitsEarlyWhenProcessExitsOnSIGTERM(t *testing.T) {
	dir, cg := newFixture(t)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()
	writeProcs(t, dir, cmd.Process.Pid)

	// Play the kernel's part: once the process dies, the cgroup goes away.
	reaped := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		_ = os.Remove(filepath.Join(dir, "cgroup.procs"))
		close(reaped)
	}()

	aq := queue.New[activity.Message]()
	start := time.Now()
	err := doRestart(adapter.NewNull(), 5*time.Second, cg, aq)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	<-reaped

	var sawTimeout bool
	for {
		m, ok := aq.TryPop()
		if !ok {
			break
		}
		if _, ok := m.(activity.RestartTimeout); ok {
			sawTimeout = true
		}
	}
	assert.False(t, sawTimeout)
}

func TestDoRestartSendsSIGKILLAfterGracePeriodElapses(t *testing.T) {
	dir, cg := newFixture(t)

	cmd := exec.Command("sh", "-c", `trap '' TERM; sleep 30`)
	require.NoError(t, cmd.Start())
	writeProcs(t, dir, cmd.Process.Pid)

	aq := queue.New[activity.Message]()
	err := doRestart(adapter.NewNull(), 300*time.Millisecond, cg, aq)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		cmd.Process.Kill()
		t.Fatal("process was not killed within the deadline")
	}

	var sawTimeout bool
	for {
		m, ok := aq.TryPop()
		if !ok {
			break
		}
		if to, ok := m.(activity.RestartTimeout); ok {
			sawTimeout = true
			assert.Equal(t, 0, to.GracePeriod)
		}
	}
	assert.True(t, sawTimeout)
}

func TestDoRestartPublishesRestartCgroupFirst(t *testing.T) {
	dir, cg := newFixture(t)
	_ = dir

	aq := queue.New[activity.Message]()
	require.NoError(t, doRestart(adapter.NewNull(), 50*time.Millisecond, cg, aq))

	first, ok := aq.TryPop()
	require.True(t, ok)
	_, isRestart := first.(activity.RestartCgroup)
	assert.True(t, isRestart)
}

func TestEngineDropsDuplicateRestartRequests(t *testing.T) {
	jobQueue := queue.New[JobMessage]()
	jq := NewJobQueue(jobQueue)
	aq := queue.New[activity.Message]()
	e := NewEngine(adapter.NewNull(), 50*time.Millisecond, jq, aq)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memory.limit_in_bytes"), []byte("1024\n"), 0o644))
	writeProcs(t, dir)
	cg := cgroup.New(dir)

	e.handleRequested(cg)
	assert.Len(t, e.running, 1)

	e.handleRequested(cg)
	assert.Len(t, e.running, 1)

	e.handleComplete(cg)
	assert.Len(t, e.running, 0)
}
