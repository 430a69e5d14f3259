package main

import (
	"fmt"

	"github.com/cuemby/comeback/pkg/restart/adapter"
)

// buildAdapter resolves the --adapter flag to a concrete container-runtime
// adapter. Adapters are strategies: nothing downstream of this selection
// branches on adapter kind again.
func buildAdapter(cfg *config) (adapter.Adapter, func(), error) {
	switch cfg.adapterName {
	case "", "docker":
		return adapter.NewDocker(), func() {}, nil
	case "docker-wipe-fs":
		return adapter.NewDockerWipeFS(), func() {}, nil
	case "null":
		return adapter.NewNull(), func() {}, nil
	case "containerd":
		c, err := adapter.NewContainerd(cfg.containerdSocket, cfg.containerdNamespace)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to containerd: %w", err)
		}
		return c, func() { c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown adapter %q", cfg.adapterName)
	}
}
