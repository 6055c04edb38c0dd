package utils

import (
	"context"
	"testing"
	"time"
)

func TestSessionLockScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if sessionAcquireScript == nil || sessionReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireSessionLock_RejectsInvalidArgs(t *testing.T) {
	ctx := context.Background()

	if _, err := AcquireSessionLock(ctx, nil, "k", "o", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseSessionLock(ctx, nil, "k", "o"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
