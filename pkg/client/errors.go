package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/vango-dev/taskwire/pkg/protocol"
)

var (
	// ErrConnectFailed matches every *ConnectError.
	ErrConnectFailed = errors.New("taskwire: connect failed")

	// ErrRequestTimeout matches every *TimeoutError.
	ErrRequestTimeout = errors.New("taskwire: request timed out")

	// ErrTerminalClose matches every *TerminalCloseError.
	ErrTerminalClose = errors.New("taskwire: reconnect attempts exhausted")

	// ErrClosed is returned once the client has been closed by its owner.
	ErrClosed = errors.New("taskwire: client closed")

	// ErrNotConnected is returned by Request when no connection is live.
	// Requests are never queued.
	ErrNotConnected = errors.New("taskwire: not connected")

	// ErrConnectionReset fails requests that were in flight on a
	// connection that has since been replaced.
	ErrConnectionReset = errors.New("taskwire: connection reset before response")

	// ErrInvalidEvent is returned when subscribing to an empty or reserved
	// event name.
	ErrInvalidEvent = errors.New("taskwire: invalid event name")
)

// ConnectError reports a failed initial dial. The client returns to
// StateInit and does not retry on its own.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("taskwire: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnectFailed }

// TimeoutError reports a request that received no response before its
// deadline. Response is the synthetic timeout response.
type TimeoutError struct {
	Route    string
	Sequence string
	Timeout  time.Duration
	Response *protocol.Response
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("taskwire: request %s (%s) timed out after %s", e.Route, e.Sequence, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrRequestTimeout }

// ServerError reports a response whose status is not 200.
type ServerError struct {
	Route    string
	Sequence string
	Status   protocol.Status
	Message  string
	Response *protocol.Response
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("taskwire: %s returned status %d", e.Route, int(e.Status))
	}
	return fmt.Sprintf("taskwire: %s returned status %d: %s", e.Route, int(e.Status), e.Message)
}

func newServerError(route string, resp *protocol.Response) *ServerError {
	return &ServerError{
		Route:    route,
		Sequence: resp.Sequence,
		Status:   resp.Status,
		Message:  resp.Text(),
		Response: resp,
	}
}

// TerminalCloseError is delivered to OnClose listeners and to every
// pending request when the reconnect budget runs out.
type TerminalCloseError struct {
	Attempts int
	Err      error // last dial error
}

func (e *TerminalCloseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("taskwire: gave up after %d reconnect attempts", e.Attempts)
	}
	return fmt.Sprintf("taskwire: gave up after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *TerminalCloseError) Unwrap() error { return e.Err }

func (e *TerminalCloseError) Is(target error) bool { return target == ErrTerminalClose }
