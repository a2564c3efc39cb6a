package service

import (
	"fmt"

	"github.com/ignatij/coachflow/pkg/storage"
	"github.com/pkg/errors"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("forbidden")
	ErrSinkFailure     = errors.New("sink failure")
	ErrStoreFailure    = errors.New("store failure")
)

// Error carries the kind of a failure, the operation that produced it and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(kind error, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// storeError classifies an error returned by the record store.
func storeError(op string, err error, what string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, storage.ErrNotFound) {
		return &Error{Kind: ErrNotFound, Op: op, Err: errors.WithMessage(err, what)}
	}
	return &Error{Kind: ErrStoreFailure, Op: op, Err: errors.Wrap(err, what)}
}
