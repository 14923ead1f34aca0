package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition indicates the entity is not in a state that allows the operation.
	ErrPrecondition = errors.New("precondition failed")
	// ErrForbidden indicates the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNoop marks an idempotent repeat that changed nothing.
	ErrNoop = errors.New("no change")
	// ErrUnauthenticated indicates a missing or invalid bearer token.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Error is a coded domain error. errors.Is matches both the error value
// itself and its Kind, so callers can branch on either.
type Error struct {
	Code string
	Kind error
	Msg  string
}

// NewError builds a coded error of the given kind.
func NewError(code string, kind error, msg string) *Error {
	return &Error{Code: code, Kind: kind, Msg: msg}
}

func (e *Error) Error() string { return e.Msg }

// Is reports whether target is this error or its kind.
func (e *Error) Is(target error) bool {
	if e == target {
		return true
	}
	return e.Kind != nil && e.Kind == target
}

// Unwrap exposes the kind for errors.As chains.
func (e *Error) Unwrap() error { return e.Kind }

// CodeOf returns the code of the first coded error in err's chain.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
