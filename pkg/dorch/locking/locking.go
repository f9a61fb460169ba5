// Package locking serialises data-plane programming per switch. A
// realisation takes the locks of every switch its paths traverse before
// allocating VLANs and pushing flows, so two sessions never interleave
// their checks and writes on one switch. The process-local backend covers
// single-instance deployments; the Redis backend spans several
// orchestrator instances sharing one data plane.
package locking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dorch-network/dorch/pkg/util"
)

// lockRetryInterval paces AcquireWithRetry while the switches are busy.
const lockRetryInterval = 100 * time.Millisecond

// Locker is the per-switch lock manager.
type Locker interface {
	// Acquire takes the lock of every listed switch for holder, in
	// canonical order, all or nothing. Fails with ErrSwitchLocked when
	// any switch is held by someone else.
	Acquire(ctx context.Context, holder string, switches []string) error

	// Release drops the holder's locks on the listed switches. Best
	// effort: locks held by others are left alone.
	Release(ctx context.Context, holder string, switches []string)
}

// AcquireWithRetry keeps trying to take the switch locks until it
// succeeds or the context ends. Only busy-switch failures are retried.
func AcquireWithRetry(ctx context.Context, l Locker, holder string, switches []string) error {
	operation := func() error {
		err := l.Acquire(ctx, holder, switches)
		if err == nil || errors.Is(err, util.ErrSwitchLocked) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(operation,
		backoff.WithContext(backoff.NewConstantBackOff(lockRetryInterval), ctx))
}

// sortedUnique returns the switches sorted with duplicates removed.
// Every backend locks in this order so concurrent acquirers cannot
// deadlock on overlapping sets.
func sortedUnique(switches []string) []string {
	out := make([]string, len(switches))
	copy(out, switches)
	sort.Strings(out)
	n := 0
	for i, sw := range out {
		if i > 0 && sw == out[i-1] {
			continue
		}
		out[n] = sw
		n++
	}
	return out[:n]
}
