package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindProviderUnavailable ErrorKind = "ProviderUnavailable"
	KindProviderError       ErrorKind = "ProviderError"
	KindStorageUnavailable  ErrorKind = "StorageUnavailable"
	KindInvalidDocument     ErrorKind = "InvalidDocument"
	KindConfigurationError  ErrorKind = "ConfigurationError"
	KindInvalidRequest      ErrorKind = "InvalidRequest"
)

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrProviderError       = &Error{Kind: KindProviderError}
	ErrStorageUnavailable  = &Error{Kind: KindStorageUnavailable}
	ErrInvalidDocument     = &Error{Kind: KindInvalidDocument}
	ErrConfiguration       = &Error{Kind: KindConfigurationError}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
)

type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// WithPath returns err annotated with the document path, wrapping plain errors
// as kind.
func WithPath(err error, kind ErrorKind, path string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Path = path
		return &cp
	}
	return &Error{Kind: kind, Path: path, Err: err}
}
