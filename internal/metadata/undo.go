package metadata

import "context"

// undoStep is one inverse statement recorded by a mutating call.
type undoStep struct {
	query string
	args  []any
}

// UndoHandle accumulates the inverse of every mutating statement issued
// against a Tx (§4.4: "every statement is accompanied by its inverse").
// Applying it replays the inverses in reverse order, most-recent-first, so
// a partially-applied sequence of structural changes can be unwound.
type UndoHandle struct {
	steps []undoStep
}

// NewUndoHandle returns an empty handle ready to record inverse statements.
func NewUndoHandle() *UndoHandle {
	return &UndoHandle{}
}

func (u *UndoHandle) record(query string, args ...any) {
	if u == nil {
		return
	}
	u.steps = append(u.steps, undoStep{query: query, args: args})
}

// Apply executes every recorded inverse statement against tx, most recently
// recorded first, and clears the handle. If a step fails the remaining
// steps are left unapplied and the handle retains them so the caller can
// retry or surface the error.
func (u *UndoHandle) Apply(ctx context.Context, tx *Tx) error {
	if u == nil {
		return nil
	}
	for len(u.steps) > 0 {
		last := u.steps[len(u.steps)-1]
		if _, err := tx.tx.ExecContext(ctx, last.query, last.args...); err != nil {
			return err
		}
		u.steps = u.steps[:len(u.steps)-1]
	}
	return nil
}

// Empty reports whether the handle has no recorded steps.
func (u *UndoHandle) Empty() bool {
	return u == nil || len(u.steps) == 0
}
