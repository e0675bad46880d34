package repository

import (
	"database/sql"
	"errors"
	"fmt"
)

// Kind classifies repository failures.
type Kind int

const (
	KindOperation Kind = iota
	KindNotFound
	KindDuplicate
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	default:
		return "operation"
	}
}

// Sentinels for errors.Is. Every *Error matches exactly one of them.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	ErrOperation = errors.New("database operation failed")
)

// ErrUnknownColumn is wrapped by operation errors for filters, ordering or
// fields naming a column the table does not expose.
var ErrUnknownColumn = errors.New("unknown column")

// Error is returned by every Repository method in place of raw driver errors.
type Error struct {
	Kind   Kind
	Op     string // create, get, list, update, delete, ...
	Entity string
	ID     any
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		if e.ID != nil {
			return fmt.Sprintf("%s with ID %v not found", e.Entity, e.ID)
		}
		return fmt.Sprintf("%s not found", e.Entity)
	case KindDuplicate:
		return fmt.Sprintf("%s already exists: %v", e.Entity, e.Err)
	default:
		return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Entity, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrDuplicate:
		return e.Kind == KindDuplicate
	case ErrOperation:
		return e.Kind == KindOperation
	}
	return false
}

// KindOf returns the Kind of err, or KindOperation for foreign errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindOperation
}

func (r *Repository[T]) notFound(op string, id any) error {
	return &Error{Kind: KindNotFound, Op: op, Entity: r.table.Entity, ID: id, Err: sql.ErrNoRows}
}

// classify translates a driver error into an *Error.
func (r *Repository[T]) classify(op string, id any, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &Error{Kind: KindNotFound, Op: op, Entity: r.table.Entity, ID: id, Err: err}
	case r.db.Dialect.IsUniqueViolation(err):
		return &Error{Kind: KindDuplicate, Op: op, Entity: r.table.Entity, ID: id, Err: err}
	default:
		return &Error{Kind: KindOperation, Op: op, Entity: r.table.Entity, ID: id, Err: err}
	}
}
