//go:build integration || e2e

// Package testutil provides shared helpers for the integration and e2e
// suites: a Redis gate for the distributed lock tests and a fake ONOS
// controller the full-stack tests program against.
package testutil

import (
	"context"
	"testing"
	"time"
)

// Context returns a context bounded to 30 seconds, cancelled via t.Cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
