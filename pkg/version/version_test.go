package version

import (
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	if Version != "dev" {
		t.Errorf("default Version = %q, want %q", Version, "dev")
	}
	if GitCommit != "unknown" {
		t.Errorf("default GitCommit = %q, want %q", GitCommit, "unknown")
	}
}

func TestInfo(t *testing.T) {
	s := Info()
	if !strings.Contains(s, Version) || !strings.Contains(s, GitCommit) {
		t.Errorf("Info() = %q, missing version or commit", s)
	}
}
