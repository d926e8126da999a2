package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrFeedUnavailable  = errors.New("FeedUnavailable")
	ErrInsufficientData = errors.New("InsufficientData")
	ErrUpstream         = errors.New("UpstreamError")
	ErrParse            = errors.New("ParseError")
	ErrValidation       = errors.New("ValidationError")
	ErrStorage          = errors.New("StorageError")
	// ErrInternal marks faults inside the service itself: a recovered panic or
	// a missing component.
	ErrInternal         = errors.New("InternalError")
)

var kinds = []error{
	ErrFeedUnavailable, ErrInsufficientData, ErrUpstream, ErrParse, ErrValidation, ErrStorage, ErrInternal,
}

// Error carries a kind, a human-facing message and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// NewError constructs a kinded error.
func NewError(kind error, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Errorf constructs a kinded error with a formatted message and no cause.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the name of err's kind, or "" if it has none.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ""
}
