package adapter

import "github.com/cuemby/comeback/pkg/cgroup"

// Adapter hands a cgroup off to a container runtime for its actual
// restart. Implementations must treat cg.Name() as the runtime-level
// container identifier.
type Adapter interface {
	Restart(cg *cgroup.Monitor) error
}
