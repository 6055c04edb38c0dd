package journal

import (
	"context"
	"errors"
)

var ErrInvalidArgument = errors.New("journal: invalid argument")

// Repo is the append-only store behind the dial journal. Entries are never
// updated or deleted; reads are per-user, newest first.
type Repo interface {
	Append(ctx context.Context, e Entry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}
