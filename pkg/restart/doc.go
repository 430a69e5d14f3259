/*
Package restart drives the actual recovery of an out-of-memory container.

The Engine consumes a queue.Queue[JobMessage] built from a JobQueue (which
also serves as the cgroup.JobSink a Monitor reports to). A Requested
message spawns a restart worker goroutine unless that cgroup is already
being restarted, tracked via a set keyed by cgroup path. Each worker:

 1. snapshots the cgroup's processes and reports it to the activity queue
 2. sends SIGTERM to every process in the cgroup
 3. optionally raises the cgroup's memory limit by 10%, if the host has
    enough free memory, to give a graceful shutdown room to work with
 4. polls until the cgroup empties out or its grace period elapses,
    escalating to SIGKILL on timeout
 5. hands off to the configured adapter to actually restart the
    container at the runtime level
 6. unconditionally reports Complete, success or failure, so the cgroup
    is never stuck marked as "restarting"

A goroutine spawn has no equivalent to an OS thread-creation failure
under resource pressure, so there is no synchronous fallback path here —
every restart runs as its own goroutine.

RestartOne runs the same procedure synchronously, bypassing the Engine's
dedup set and goroutine spawn entirely. It backs the daemon's one-shot
"--restart <container_id>" CLI mode, where there is nothing to dedupe
against and no reason to return before the restart finishes.
*/
package restart
