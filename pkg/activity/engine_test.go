package activity

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/queue"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	q := queue.New[Message]()
	return New(dir, q), dir
}

func loggedLines(t *testing.T, dir, cgName string) []string {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, cgName+"-json.log"))
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry struct {
			Log string `json:"log"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry.Log)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestEngineExitStopsImmediately(t *testing.T) {
	e, _ := newTestEngine(t)
	e.queue.Push(Exit{})
	e.Run()
}

func TestEngineLogsNewAndStaleCgroup(t *testing.T) {
	e, dir := newTestEngine(t)
	e.queue.Push(NewCgroup{Name: "foo"})
	e.queue.Push(StaleCgroup{Name: "foo"})
	e.queue.Push(Exit{})
	e.Run()

	lines := loggedLines(t, dir, "foo")
	assert.Equal(t, []string{"container has started", "container has exited"}, lines)
}

func TestEngineLogsRestartCgroupTable(t *testing.T) {
	e, dir := newTestEngine(t)
	e.queue.Push(RestartCgroup{
		Name: "foo",
		PSTable: []cgroup.ProcessSnapshot{
			{PID: 123, PPID: 0, RSS: 1024 * 8, VMS: 1024 * 16, Cmdline: []string{"some", "proc"}, Status: process.Stop},
			{PID: 456, PPID: 123, RSS: 1024 * 2, VMS: 1024 * 4, Cmdline: []string{"sh", "-c", "a && b"}, Status: process.Running},
		},
	})
	e.queue.Push(Exit{})
	e.Run()

	lines := loggedLines(t, dir, "foo")
	require.Len(t, lines, 3)
	assert.Equal(t, "container exceeded its memory allocation", lines[0])
	assert.Equal(t, "container is restarting:", lines[1])
	assert.Regexp(t, regexp.MustCompile(`123\s+0\s+16\s+8\s+T\s+some proc`), lines[2])
	assert.Regexp(t, regexp.MustCompile(`456\s+123\s+4\s+2\s+R\s+sh -c 'a && b'`), lines[2])
}

func TestEngineLargeMemoryValueIsNotScientificNotation(t *testing.T) {
	e, dir := newTestEngine(t)
	size := uint64(2 * 1024 * 1024 * 1024)
	e.queue.Push(RestartCgroup{
		Name: "foo",
		PSTable: []cgroup.ProcessSnapshot{
			{PID: 123, PPID: 0, RSS: size, VMS: size, Cmdline: []string{"some", "proc"}, Status: process.Running},
		},
	})
	e.queue.Push(Exit{})
	e.Run()

	lines := loggedLines(t, dir, "foo")
	require.Len(t, lines, 3)
	assert.Regexp(t, regexp.MustCompile(`123\s+0\s+2097152\s+2097152\s+R\s+some proc`), lines[2])
}

func TestEngineTimestampCarriesExplicitUTCOffset(t *testing.T) {
	e, dir := newTestEngine(t)
	e.queue.Push(NewCgroup{Name: "foo"})
	e.queue.Push(Exit{})
	e.Run()

	f, err := os.Open(filepath.Join(dir, "foo-json.log"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var entry struct {
		Time string `json:"time"`
	}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))

	// The offset must be spelled out as +00:00, never collapsed to "Z".
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}\+00:00$`), entry.Time)

	parsed, err := time.Parse(activityTimeLayout, entry.Time)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, time.Minute)
}

func TestEngineLogsRestartTimeout(t *testing.T) {
	e, dir := newTestEngine(t)
	e.queue.Push(RestartTimeout{Name: "foo", GracePeriod: 3})
	e.queue.Push(Exit{})
	e.Run()

	lines := loggedLines(t, dir, "foo")
	assert.Equal(t, []string{"container did not exit within 3 seconds grace period"}, lines)
}
