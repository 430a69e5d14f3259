/*
Package adapter implements the runtime-specific strategies the restart
engine delegates to once a cgroup has been signaled and waited out:

  - Docker: docker stop then docker restart, with retries.
  - DockerWipeFS: the same, plus swapping the container's AUFS diff
    directory for an empty one, for hosts where a full restart is too
    slow or memory-hungry on its own.
  - Containerd: talks to containerd directly, recreating the container's
    task instead of shelling out to a CLI.
  - Null: does nothing, for tests and dry runs.
*/
package adapter
