/*
Package activity maintains a human-readable history of what happened to
each container, independent of the process-wide structured log.

Every event — a cgroup appearing, disappearing, or being restarted — is
appended as a JSON line to <activity-dir>/<name>-json.log and mirrored to
the structured logger. A restart additionally logs a rendered process
table, a plain-text snapshot of what was running in the cgroup at the
moment it was killed.

The engine is a single consumer pulling off a queue.Queue[Message]; no
other goroutine touches the activity log files.
*/
package activity
