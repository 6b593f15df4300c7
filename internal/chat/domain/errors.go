package domain

import (
	"errors"
	"fmt"
)

// ErrorKind taxonomy of chat failures
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindPermission ErrorKind = "permission"
	KindNotFound   ErrorKind = "not_found"
	KindTransient  ErrorKind = "transient"
)

// Sentinels for errors.Is.
var (
	ErrValidation = &ChatError{Kind: KindValidation}
	ErrPermission = &ChatError{Kind: KindPermission}
	ErrNotFound   = &ChatError{Kind: KindNotFound}
	ErrTransient  = &ChatError{Kind: KindTransient}
)

// ChatError carries the kind of a failure and the operation that hit it.
type ChatError struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *ChatError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *ChatError) Unwrap() error { return e.Err }

// Is matches any ChatError of the same kind.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	return ok && t.Kind == e.Kind
}

// Retryable only transient failures may be retried by the user.
func (e *ChatError) Retryable() bool {
	return e.Kind == KindTransient
}

func NewValidationError(op, msg string) error {
	return &ChatError{Kind: KindValidation, Op: op, Msg: msg}
}

func NewPermissionError(op, msg string) error {
	return &ChatError{Kind: KindPermission, Op: op, Msg: msg}
}

func NewNotFoundError(op, msg string) error {
	return &ChatError{Kind: KindNotFound, Op: op, Msg: msg}
}

// Transient wraps err as a transient failure unless it already has a kind.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ChatError
	if errors.As(err, &ce) {
		return err
	}
	return &ChatError{Kind: KindTransient, Op: op, Err: err}
}

// KindOf returns the kind of err, transient for foreign errors.
func KindOf(err error) ErrorKind {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}
