package room

import (
	"fmt"

	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// Error is a room operation failure carrying a wire error code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func opErr(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return opErr(protocol.ErrNotFound, format, args...)
}

func conflict(format string, args ...any) *Error {
	return opErr(protocol.ErrConflict, format, args...)
}

func forbidden(format string, args ...any) *Error {
	return opErr(protocol.ErrForbidden, format, args...)
}

func invalid(format string, args ...any) *Error {
	return opErr(protocol.ErrValidationFailed, format, args...)
}

func tooLarge(format string, args ...any) *Error {
	return opErr(protocol.ErrTooLarge, format, args...)
}

func internal(err error) *Error {
	return opErr(protocol.ErrInternal, "%v", err)
}
