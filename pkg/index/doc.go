/*
Package index discovers and maintains the live set of cgroup.Monitor
instances under a single root directory (in practice Docker's memory
cgroup root), and multiplexes their event descriptors through one epoll
instance.

Index is the only component that touches the poller or the two lookup
maps (by path, by event descriptor); it is designed to run entirely from
one goroutine, so none of its methods take a lock. Sync() reconciles
against the filesystem — re-waking every tracked monitor (to catch a
cgroup that has just had its memory limit set by the runtime) before
discovering new subdirectories. Poll() blocks in epoll_wait and
classifies whichever monitors became ready.
*/
package index
