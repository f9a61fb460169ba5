package locking

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dorch-network/dorch/pkg/util"
)

const (
	s1 = "of:0000000000000001"
	s2 = "of:0000000000000002"
	s3 = "of:0000000000000003"
)

func TestLocalAcquireRelease(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	if err := l.Acquire(ctx, "a", []string{s2, s1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Overlapping set from another holder is refused whole.
	err := l.Acquire(ctx, "b", []string{s1, s3})
	if !errors.Is(err, util.ErrSwitchLocked) {
		t.Fatalf("got %v, want ErrSwitchLocked", err)
	}
	if err := l.Acquire(ctx, "b", []string{s3}); err != nil {
		t.Fatalf("disjoint acquire failed: %v", err)
	}

	l.Release(ctx, "a", []string{s1, s2})
	if err := l.Acquire(ctx, "b", []string{s1, s2}); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestLocalReacquireSameHolder(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	if err := l.Acquire(ctx, "a", []string{s1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Acquire(ctx, "a", []string{s1, s2}); err != nil {
		t.Fatalf("reacquire by holder failed: %v", err)
	}
}

func TestLocalReleaseKeepsForeignLocks(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	if err := l.Acquire(ctx, "a", []string{s1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Release(ctx, "b", []string{s1})
	if err := l.Acquire(ctx, "b", []string{s1}); !errors.Is(err, util.ErrSwitchLocked) {
		t.Fatalf("got %v, foreign release must not free the lock", err)
	}
}

func TestAcquireWithRetryWaits(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	if err := l.Acquire(ctx, "a", []string{s1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		l.Release(context.Background(), "a", []string{s1})
	}()

	if err := AcquireWithRetry(ctx, l, "b", []string{s1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAcquireWithRetryHonoursContext(t *testing.T) {
	l := NewLocal()
	if err := l.Acquire(context.Background(), "a", []string{s1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	err := AcquireWithRetry(ctx, l, "b", []string{s1})
	if err == nil {
		t.Fatal("expected error for held lock")
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, util.ErrSwitchLocked) {
		t.Fatalf("got %v", err)
	}
}

func TestSortedUnique(t *testing.T) {
	got := sortedUnique([]string{s2, s1, s2, s3, s1})
	want := []string{s1, s2, s3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
