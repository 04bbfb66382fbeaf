package errs

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/withstack"
)

// PublicError is an error that, when caught by error handler, should return a user-friendly error response to the user.
// The wrapped error keeps its ErrorKind so the handler can pick a status code.
type PublicError struct {
	err     error
	message string
}

func (p PublicError) Error() string {
	return p.err.Error()
}

func (p PublicError) Message() string {
	return p.message
}

func (p PublicError) Unwrap() error {
	return p.err
}

// NewPublicError returns an error of the given kind that shows message to the user.
func NewPublicError(kind ErrorKind, message string) error {
	return withstack.WithStackDepth(&PublicError{err: errors.Wrap(kind, message), message: message}, 1)
}

// WithPublicMessage marks err as safe to show to the user with the given message.
func WithPublicMessage(err error, message string) error {
	if err == nil {
		return nil
	}
	if message == "" {
		message = err.Error()
	}
	return withstack.WithStackDepth(&PublicError{err: err, message: message}, 1)
}
