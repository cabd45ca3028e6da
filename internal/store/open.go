package store

import (
	"fmt"
	"strings"

	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

// Open builds a Store for the configured driver.
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
