package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/log"
	"github.com/cuemby/comeback/pkg/queue"
)

const bytesPerKB = 1024

// activityTimeLayout renders UTC timestamps with an explicit numeric
// "+00:00" offset rather than the "Z" shorthand, so every activity log
// timestamp carries the same fixed-width offset.
const activityTimeLayout = "2006-01-02T15:04:05.000000-07:00"

// Engine consumes activity messages and mirrors them to both a per-cgroup
// JSON-lines file under activityDir and the process-wide structured log.
type Engine struct {
	activityDir string
	queue       *queue.Queue[Message]
}

// New constructs an Engine that writes per-cgroup logs under activityDir.
func New(activityDir string, q *queue.Queue[Message]) *Engine {
	return &Engine{activityDir: activityDir, queue: q}
}

// Run blocks, consuming messages until an Exit message is received or the
// queue is closed.
func (e *Engine) Run() {
	logger := log.WithComponent("activity")
	logger.Info().Msg("ready to process activity")

	for {
		msg, ok := e.queue.Pop()
		if !ok {
			return
		}

		switch m := msg.(type) {
		case NewCgroup:
			e.logActivity(m.Name, "container has started")
		case StaleCgroup:
			e.logActivity(m.Name, "container has exited")
		case RestartCgroup:
			e.logRestart(m)
		case RestartTimeout:
			e.logActivity(m.Name, fmt.Sprintf(
				"container did not exit within %d seconds grace period", m.GracePeriod))
		case Exit:
			logger.Warn().Msg("shutting down")
			return
		default:
			logger.Fatal().Msgf("unexpected message: %#v", msg)
		}
	}
}

func (e *Engine) logRestart(m RestartCgroup) {
	bits := []string{
		"container exceeded its memory allocation",
		"container is restarting:",
		renderPSTable(m.PSTable),
	}
	for _, bit := range bits {
		e.logActivity(m.Name, bit)
	}
}

// renderPSTable formats a process snapshot table the way tabulate's
// "plain" format does: column-aligned, no borders.
func renderPSTable(rows []cgroup.ProcessSnapshot) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"PID", "PPID", "VSZ", "RSS", "STAT", "COMMAND"})
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowLine(false)
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range rows {
		table.Append([]string{
			fmt.Sprintf("%d", row.PID),
			fmt.Sprintf("%d", row.PPID),
			fmt.Sprintf("%d", row.VMS/bytesPerKB),
			fmt.Sprintf("%d", row.RSS/bytesPerKB),
			statusCode(row.Status),
			quoteCmdline(row.Cmdline),
		})
	}

	table.Render()
	return strings.TrimRight(buf.String(), "\n")
}

// quoteCmdline joins argv the way a shell would print it back: an argument
// is left bare unless it is empty or contains whitespace, a quote
// character or a backslash, in which case it's single-quoted so the
// boundary between arguments stays unambiguous in the plain-text log.
func quoteCmdline(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// logActivity appends a JSON line to the cgroup's activity log and mirrors
// each non-empty line of message to the structured logger.
func (e *Engine) logActivity(cgName, message string) {
	path := filepath.Join(e.activityDir, fmt.Sprintf("%s-json.log", cgName))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.WithComponent("activity").Error().Err(err).Str("cgroup", cgName).Msg("could not open activity log")
	} else {
		entry := struct {
			Log  string `json:"log"`
			Time string `json:"time"`
		}{Log: message, Time: time.Now().UTC().Format(activityTimeLayout)}

		enc := json.NewEncoder(f)
		if err := enc.Encode(entry); err != nil {
			log.WithComponent("activity").Error().Err(err).Str("cgroup", cgName).Msg("could not write activity log")
		}
		f.Close()
	}

	for _, line := range strings.Split(message, "\n") {
		if line == "" {
			continue
		}
		log.WithComponent("activity").Info().Str("cgroup", cgName).Msg(line)
	}
}
