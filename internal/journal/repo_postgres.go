package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"roofline/pkg/utils"
)

// PostgresRepo persists the journal. Schema (managed externally):
//
//	CREATE TABLE dial_journal (
//	    id          UUID PRIMARY KEY,
//	    user_id     TEXT NOT NULL,
//	    tenant_id   TEXT NOT NULL DEFAULT '',
//	    session_id  TEXT NOT NULL,
//	    project_id  TEXT NOT NULL DEFAULT '',
//	    call_id     TEXT NOT NULL DEFAULT '',
//	    outcome     TEXT NOT NULL,
//	    status      TEXT NOT NULL DEFAULT '',
//	    detail      TEXT NOT NULL DEFAULT '',
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX dial_journal_user_created ON dial_journal (user_id, created_at DESC);
type PostgresRepo struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	if e.UserID == "" || e.Outcome == "" {
		return ErrInvalidArgument
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock().UTC()
	}

	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dial_journal
				(id, user_id, tenant_id, session_id, project_id, call_id, outcome, status, detail, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.UserID, e.TenantID, e.SessionID, e.ProjectID, e.CallID,
			string(e.Outcome), e.Status, e.Detail, e.CreatedAt,
		)
		return err
	})
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, tenant_id, session_id, project_id, call_id, outcome, status, detail, created_at
		FROM dial_journal
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		if err := rows.Scan(&e.ID, &e.UserID, &e.TenantID, &e.SessionID, &e.ProjectID,
			&e.CallID, &outcome, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}
