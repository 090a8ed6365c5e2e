// Package oplog holds the per-room record of drawing operations together with
// the in-flight stroke of every member and the room-wide undo/redo stack.
//
// A Log is not safe for concurrent use. Callers serialize access through the
// owning room's lock (see hub.Registry.Update).
package oplog

import (
	"time"

	"drawsync-server/domain"
)

// Draft is an operation before the log has assigned it an id and timestamp.
type Draft struct {
	UserID    string
	Kind      string
	Tool      string
	Color     string
	Width     float64
	Points    []domain.Point
	Completed bool
}

type Log struct {
	// ops[i].ID == i; ids are dense because nothing is removed before Clear.
	ops  []*domain.Operation
	open map[string]int
	now  func() time.Time
}

func New() *Log {
	return &Log{
		open: make(map[string]int),
		now:  time.Now,
	}
}

// Append stores d under the next id. A draft that is not completed becomes
// the owner's open operation; any earlier incomplete operation of the same
// owner is completed first.
func (l *Log) Append(d Draft) domain.Operation {
	if !d.Completed {
		if id, ok := l.open[d.UserID]; ok {
			l.ops[id].Completed = true
			delete(l.open, d.UserID)
		}
	}

	kind := d.Kind
	if kind == "" {
		kind = domain.KindStroke
	}

	op := &domain.Operation{
		ID:        len(l.ops),
		UserID:    d.UserID,
		Kind:      kind,
		Tool:      d.Tool,
		Color:     d.Color,
		Width:     d.Width,
		Points:    copyPoints(d.Points),
		Completed: d.Completed,
		Timestamp: l.now().UnixMilli(),
	}
	l.ops = append(l.ops, op)
	if !op.Completed {
		l.open[op.UserID] = op.ID
	}
	return clone(op)
}

// FindOpen returns the stroke userID is currently drawing, if any.
func (l *Log) FindOpen(userID string) (domain.Operation, bool) {
	id, ok := l.open[userID]
	if !ok {
		return domain.Operation{}, false
	}
	op := l.ops[id]
	if op.Undone {
		return domain.Operation{}, false
	}
	return clone(op), true
}

func (l *Log) AppendPoint(id int, p domain.Point) (domain.Operation, bool) {
	op, ok := l.openByID(id)
	if !ok {
		return domain.Operation{}, false
	}
	op.Points = append(op.Points, p)
	return clone(op), true
}

// Complete marks the operation finished. Afterwards only its undone flag may
// change.
func (l *Log) Complete(id int) (domain.Operation, bool) {
	op, ok := l.openByID(id)
	if !ok {
		return domain.Operation{}, false
	}
	op.Completed = true
	delete(l.open, op.UserID)
	return clone(op), true
}

// UndoLast marks the highest-id operation that is not undone, whoever owns it.
func (l *Log) UndoLast() (domain.Operation, bool) {
	for i := len(l.ops) - 1; i >= 0; i-- {
		if op := l.ops[i]; !op.Undone {
			op.Undone = true
			return clone(op), true
		}
	}
	return domain.Operation{}, false
}

// RedoLast restores the highest-id undone operation.
func (l *Log) RedoLast() (domain.Operation, bool) {
	for i := len(l.ops) - 1; i >= 0; i-- {
		if op := l.ops[i]; op.Undone {
			op.Undone = false
			return clone(op), true
		}
	}
	return domain.Operation{}, false
}

// Clear drops every operation and restarts ids at 0.
func (l *Log) Clear() {
	l.ops = nil
	l.open = make(map[string]int)
}

// Snapshot returns a copy of every operation in id order, undone ones
// included.
func (l *Log) Snapshot() []domain.Operation {
	out := make([]domain.Operation, 0, len(l.ops))
	for _, op := range l.ops {
		out = append(out, clone(op))
	}
	return out
}

// Active returns the operations that are currently visible.
func (l *Log) Active() []domain.Operation {
	out := make([]domain.Operation, 0, len(l.ops))
	for _, op := range l.ops {
		if !op.Undone {
			out = append(out, clone(op))
		}
	}
	return out
}

func (l *Log) Len() int {
	return len(l.ops)
}

func (l *Log) openByID(id int) (*domain.Operation, bool) {
	if id < 0 || id >= len(l.ops) {
		return nil, false
	}
	op := l.ops[id]
	if op.Completed || op.Undone {
		return nil, false
	}
	return op, true
}

func clone(op *domain.Operation) domain.Operation {
	c := *op
	c.Points = copyPoints(op.Points)
	return c
}

func copyPoints(pts []domain.Point) []domain.Point {
	out := make([]domain.Point, len(pts))
	copy(out, pts)
	return out
}
