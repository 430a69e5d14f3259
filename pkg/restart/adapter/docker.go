package adapter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/log"
)

// dockerFatalErrors are substrings that, when seen in a failed docker
// command's stderr, mean retrying is pointless: the container is gone.
var dockerFatalErrors = []string{
	"No such container",
	"no such id",
}

// Docker restarts a container via the docker CLI: "docker stop" followed
// by "docker restart", both with a zero-second timeout since the cgroup
// has already been signaled and waited out by the restart engine.
type Docker struct{}

// NewDocker constructs the docker CLI adapter.
func NewDocker() *Docker { return &Docker{} }

func (d *Docker) Restart(cg *cgroup.Monitor) error {
	tryDockerCommand(cg, "docker", "stop", "-t", "0", cg.Name())
	if !tryDockerCommand(cg, "docker", "restart", "-t", "0", cg.Name()) {
		return fmt.Errorf("%s: docker restart failed", cg.Name())
	}
	return nil
}

// tryDockerCommand runs command, retrying with backoff on failure, and
// bailing out early if stderr names a fatal, non-retryable error.
func tryDockerCommand(cg *cgroup.Monitor, command ...string) bool {
	retrySchedule := []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	logger := log.WithCgroup("adapter", cg.Name())

	for _, sleepFor := range retrySchedule {
		if sleepFor > 0 {
			logger.Error().Dur("wait", sleepFor).Msg("wait before retrying")
			time.Sleep(sleepFor)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		cancel()

		if err == nil {
			return true
		}

		out := strings.TrimSpace(stdout.String())
		errOut := strings.TrimSpace(stderr.String())

		logger.Error().Strs("command", command).Msg("failed")
		logger.Error().Err(err).Msg("status")
		logger.Error().Str("stdout", out).Msg("stdout")
		logger.Error().Str("stderr", errOut).Msg("stderr")

		for _, fatal := range dockerFatalErrors {
			if strings.Contains(errOut, fatal) {
				logger.Error().Msg("fatal error: no more retries")
				return false
			}
		}
	}

	logger.Error().Msg("failed after all retries")
	return false
}
