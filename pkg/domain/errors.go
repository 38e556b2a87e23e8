package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so transports can map them to status codes.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindExtensionNotAllowed ErrorKind = "extension_not_allowed"
	KindMediaTypeNotAllowed ErrorKind = "media_type_not_allowed"
	KindDuplicateFile       ErrorKind = "duplicate_file"
	KindConflict            ErrorKind = "conflict"
	KindTooLarge            ErrorKind = "too_large"
	KindStorageWriteFailed  ErrorKind = "storage_write_failed"
	KindStorageReadFailed   ErrorKind = "storage_read_failed"
	KindMetadataWriteFailed ErrorKind = "metadata_write_failed"
	KindMetadataReadFailed  ErrorKind = "metadata_read_failed"
	KindOrphanCleanupFailed ErrorKind = "orphan_cleanup_failed"
)

// Store sentinels. Metadata stores wrap these; coordinators translate them
// into kinded errors.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Error is a kinded failure raised by the upload, read and deletion paths.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// NewError builds a kinded error with a formatted message.
func NewError(kind ErrorKind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
