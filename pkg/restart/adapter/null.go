package adapter

import "github.com/cuemby/comeback/pkg/cgroup"

// Null is a no-op adapter, useful for testing the restart engine without
// a real container runtime, or for dry-run deployments.
type Null struct{}

// NewNull constructs the no-op adapter.
func NewNull() *Null { return &Null{} }

func (Null) Restart(cg *cgroup.Monitor) error { return nil }
