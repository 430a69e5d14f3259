/*
Package cgroup watches a single memory cgroup (v1) directory and turns
kernel notifications into job-queue messages.

A Monitor owns four kernel handles for as long as it is Open: a read handle
on memory.oom_control and an eventfd registered against it via
cgroup.event_control, and the same pair for memory.pressure_level at the
"critical" level. The Index polls both eventfds with epoll and calls
Wakeup when either becomes readable, or periodically during a sync pass
with no particular fd (NoFD).

Wakeup classifies the notification:

  - pressure eventfd readable: memory is critically short; report
    MemoryPressure for visibility, take no restart action.
  - oom_control eventfd readable, or a sync pass: read oom_control's
    key/value status. If oom_kill_disable is still 0, write "1" to take
    over from the in-kernel OOM killer (once a bounded memory limit is in
    place). If under_oom is 1, the cgroup is out of memory right now;
    report RestartRequested.

A Monitor never imports the restart package — it reports through the
JobSink interface so the cgroup package stays a dependency-free leaf.
*/
package cgroup
