// SPDX-License-Identifier: MIT

package cache

import (
	"fmt"
	"time"
)

// Open builds the configured cache backend: "memory" (default), "redis",
// or "off".
func Open(backend string, redisCfg RedisConfig, sweep time.Duration) (Cache, error) {
	switch backend {
	case "", "memory":
		return NewMemory(sweep), nil
	case "redis":
		return NewRedis(redisCfg)
	case "off":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}
