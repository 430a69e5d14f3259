/*
Package log provides structured logging for Captain Comeback using zerolog.

A single package-level Logger is configured once via Init and shared by
every subsystem. Component loggers (WithComponent, WithCgroup, WithJob)
attach the fields that identify which cgroup or restart job a line came
from.
*/
package log
