// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: the base doubles per retry up to the cap,
// plus uniform jitter so parallel workers do not synchronize their retries.
type Backoff struct {
	// Base is the first retry delay (default 1s).
	Base time.Duration

	// Cap bounds the grown delay (default 60s).
	Cap time.Duration
}

// Delay returns the wait before retry number retry (zero-based).
func (b Backoff) Delay(retry int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 60 * time.Second
	}

	d := base
	for i := 0; i < retry && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}

	jitter := base
	if jitter > time.Second {
		jitter = time.Second
	}
	return d + rand.N(jitter)
}
