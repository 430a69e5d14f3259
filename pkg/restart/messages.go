package restart

import (
	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/queue"
)

// JobMessage is the tagged union the restart engine's consume loop
// switches on.
type JobMessage interface {
	isJobMessage()
}

// Requested reports that a cgroup is under OOM and needs restarting.
type Requested struct {
	Cg *cgroup.Monitor
}

// Complete reports that a restart worker has finished, successfully or
// not, and the cgroup is no longer exclusively claimed.
type Complete struct {
	Cg *cgroup.Monitor
}

// Pressure reports a critical memory-pressure notification. The engine
// logs it for visibility; it triggers no restart action on its own.
type Pressure struct {
	Cg                     *cgroup.Monitor
	UsageBytes, LimitBytes int64
}

func (Requested) isJobMessage() {}
func (Complete) isJobMessage()  {}
func (Pressure) isJobMessage()  {}

// JobQueue adapts a queue.Queue[JobMessage] to the cgroup.JobSink
// interface, so a Monitor can report to it without importing this
// package.
type JobQueue struct {
	q *queue.Queue[JobMessage]
}

// NewJobQueue wraps q as a cgroup.JobSink.
func NewJobQueue(q *queue.Queue[JobMessage]) *JobQueue {
	return &JobQueue{q: q}
}

// Queue returns the underlying queue, for the engine's consume loop.
func (jq *JobQueue) Queue() *queue.Queue[JobMessage] { return jq.q }

// RestartRequested implements cgroup.JobSink.
func (jq *JobQueue) RestartRequested(cg *cgroup.Monitor) {
	jq.q.Push(Requested{Cg: cg})
}

// MemoryPressure implements cgroup.JobSink.
func (jq *JobQueue) MemoryPressure(cg *cgroup.Monitor, usageBytes, limitBytes int64) {
	jq.q.Push(Pressure{Cg: cg, UsageBytes: usageBytes, LimitBytes: limitBytes})
}

// Complete pushes a Complete message; called by the restart worker
// itself once a restart attempt finishes.
func (jq *JobQueue) Complete(cg *cgroup.Monitor) {
	jq.q.Push(Complete{Cg: cg})
}
