// SPDX-License-Identifier: MIT

package availability

import (
	"fmt"
	"time"
)

// OpenStore creates an availability store for the configured backend.
func OpenStore(backend, path string, jobTTL time.Duration, opts Options) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(opts), nil
	case "badger":
		return OpenBadgerStore(path, jobTTL, opts)
	default:
		return nil, fmt.Errorf("unknown availability store backend: %s", backend)
	}
}
