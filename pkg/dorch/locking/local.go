package locking

import (
	"context"
	"fmt"
	"sync"

	"github.com/dorch-network/dorch/pkg/util"
)

// Local is the in-process lock backend.
type Local struct {
	mu      sync.Mutex
	holders map[string]string
}

// NewLocal returns an empty in-process lock table.
func NewLocal() *Local {
	return &Local{holders: map[string]string{}}
}

// Acquire implements Locker. Re-acquiring a switch the holder already
// owns is allowed.
func (l *Local) Acquire(ctx context.Context, holder string, switches []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	wanted := sortedUnique(switches)
	for _, sw := range wanted {
		if current, ok := l.holders[sw]; ok && current != holder {
			return fmt.Errorf("%w: %s", util.ErrSwitchLocked, sw)
		}
	}
	for _, sw := range wanted {
		l.holders[sw] = holder
	}
	return nil
}

// Release implements Locker.
func (l *Local) Release(ctx context.Context, holder string, switches []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sw := range switches {
		if l.holders[sw] == holder {
			delete(l.holders, sw)
		}
	}
}
