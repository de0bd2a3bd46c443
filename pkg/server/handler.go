package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/vango-dev/taskwire/pkg/protocol"
)

// HandlerFunc answers one request. The returned value becomes the response
// data; a nil value is sent as an empty object.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (any, error)

// StatusError makes a handler respond with a specific status. Message is
// sent as the response data.
type StatusError struct {
	Status  protocol.Status
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", int(e.Status), e.Message)
}

// Errorf returns a *StatusError with a formatted message.
func Errorf(status protocol.Status, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// DecodeJSON is a HandlerFunc adapter that decodes the request data into T.
// Undecodable data is answered with 400.
func DecodeJSON[T any](fn func(ctx context.Context, in T) (any, error)) HandlerFunc {
	return func(ctx context.Context, req *protocol.Request) (any, error) {
		var in T
		if err := req.Decode(&in); err != nil {
			return nil, Errorf(protocol.StatusBadRequest, "invalid payload: %v", err)
		}
		return fn(ctx, in)
	}
}

// statusOf maps a handler error to a response status and message.
func statusOf(err error) (protocol.Status, string) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, se.Message
	}
	return protocol.StatusInternalError, err.Error()
}
