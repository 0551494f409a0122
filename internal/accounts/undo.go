package accounts

import (
	"context"
	"database/sql"
)

type undoStep struct {
	query string
	args  []any
}

// UndoLog accumulates the inverse of every mutating statement the manager
// issues (§4.1.3): a straight sequence, applied in reverse order by Apply.
// Account DDL (CREATE USER/DROP USER/GRANT) isn't transactional in MySQL,
// so the log is applied directly against a *sql.DB rather than a *sql.Tx.
type UndoLog struct {
	steps []undoStep
}

// NewUndoLog returns an empty log.
func NewUndoLog() *UndoLog {
	return &UndoLog{}
}

func (u *UndoLog) record(query string, args ...any) {
	if u == nil {
		return
	}
	u.steps = append(u.steps, undoStep{query: query, args: args})
}

// Apply executes every recorded inverse statement against db, most
// recently recorded first, clearing each step as it succeeds.
func (u *UndoLog) Apply(ctx context.Context, db *sql.DB) error {
	if u == nil {
		return nil
	}
	for len(u.steps) > 0 {
		last := u.steps[len(u.steps)-1]
		if _, err := db.ExecContext(ctx, last.query, last.args...); err != nil {
			return err
		}
		u.steps = u.steps[:len(u.steps)-1]
	}
	return nil
}

// Empty reports whether the log has no recorded steps.
func (u *UndoLog) Empty() bool {
	return u == nil || len(u.steps) == 0
}
