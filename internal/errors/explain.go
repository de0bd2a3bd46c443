package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/vango-dev/taskwire/pkg/client"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

// Explain maps an error from the client libraries onto a coded *Error.
// Errors that are already coded are returned as is; anything unrecognised
// becomes an uncoded CLI error wrapping err.
func Explain(err error) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if stderrors.As(err, &coded) {
		return coded
	}

	var (
		connectErr  *client.ConnectError
		timeoutErr  *client.TimeoutError
		terminalErr *client.TerminalCloseError
		serverErr   *client.ServerError
		decodeErr   *protocol.DecodeError
	)
	switch {
	case stderrors.As(err, &connectErr):
		return New("TW200").WithDetailf("Dialing %s failed: %v", connectErr.URL, connectErr.Err).Wrap(err)
	case stderrors.As(err, &timeoutErr):
		return New("TW201").WithDetailf("No response to %s (sequence %s) within %s.",
			timeoutErr.Route, timeoutErr.Sequence, timeoutErr.Timeout).Wrap(err)
	case stderrors.As(err, &terminalErr):
		return New("TW202").WithDetailf("Gave up after %d attempts.", terminalErr.Attempts).Wrap(err)
	case stderrors.As(err, &serverErr):
		return New("TW206").WithDetailf("%s answered %d: %s",
			serverErr.Route, int(serverErr.Status), serverErr.Message).Wrap(err)
	case stderrors.Is(err, client.ErrClosed):
		return New("TW203").Wrap(err)
	case stderrors.Is(err, client.ErrNotConnected):
		return New("TW204").Wrap(err)
	case stderrors.Is(err, client.ErrConnectionReset):
		return New("TW205").Wrap(err)
	case stderrors.Is(err, protocol.ErrFrameTooLarge):
		return New("TW302").WithDetail(fmt.Sprintf("Frames are limited to %d bytes.", protocol.MaxFrameSize)).Wrap(err)
	case stderrors.As(err, &decodeErr), stderrors.Is(err, protocol.ErrMalformedFrame):
		return New("TW300").Wrap(err)
	}
	return Newf(CategoryCLI, "%s", err.Error())
}
