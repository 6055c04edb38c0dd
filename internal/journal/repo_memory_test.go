package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAppend_Validation(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()

	if err := r.Append(ctx, Entry{Outcome: OutcomePlaced}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing user id: %v", err)
	}
	if err := r.Append(ctx, Entry{UserID: "u1"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing outcome: %v", err)
	}
	if err := r.Append(ctx, Entry{UserID: "u1", Outcome: OutcomePlaced}); err != nil {
		t.Fatalf("valid entry: %v", err)
	}
}

func TestListByUser_NewestFirstAndIsolated(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := Entry{
			UserID:    "u1",
			Outcome:   OutcomePlaced,
			CallID:    fmt.Sprintf("call-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := r.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := r.Append(ctx, Entry{UserID: "u2", Outcome: OutcomeStopped}); err != nil {
		t.Fatalf("append u2: %v", err)
	}

	got, err := r.ListByUser(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d entries, want 5", len(got))
	}
	if got[0].CallID != "call-4" || got[4].CallID != "call-0" {
		t.Fatalf("not newest first: %v ... %v", got[0].CallID, got[4].CallID)
	}
	for _, e := range got {
		if e.UserID != "u1" {
			t.Fatalf("leaked entry for %s", e.UserID)
		}
	}

	got, err = r.ListByUser(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(got) != 2 || got[0].CallID != "call-4" {
		t.Fatalf("limit broken: %+v", got)
	}

	if _, err := r.ListByUser(ctx, "", 10); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty user id: %v", err)
	}
}
