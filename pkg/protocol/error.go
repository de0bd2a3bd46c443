package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is wrapped by every DecodeError caused by bytes that
	// do not form a valid message.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownKind is wrapped by DecodeErrors for frames whose
	// discriminant names no known kind.
	ErrUnknownKind = errors.New("protocol: unknown message kind")

	// ErrFrameTooLarge is wrapped when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// DecodeError describes a frame that could not be decoded.
type DecodeError struct {
	Codec  string // codec name
	Kind   Kind   // discriminant, if it was readable
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("protocol: %s decode %s: %s", e.Codec, e.Kind, e.Reason)
	}
	return fmt.Sprintf("protocol: %s decode: %s", e.Codec, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func malformed(codec string, kind Kind, format string, args ...any) *DecodeError {
	return &DecodeError{
		Codec:  codec,
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
		Err:    ErrMalformedFrame,
	}
}

func unknownKind(codec string, kind Kind) *DecodeError {
	return &DecodeError{
		Codec:  codec,
		Kind:   kind,
		Reason: fmt.Sprintf("unknown kind %q", string(kind)),
		Err:    ErrUnknownKind,
	}
}

// wrapped keeps the underlying parser error while still matching
// ErrMalformedFrame with errors.Is.
func wrapped(codec string, err error) *DecodeError {
	return &DecodeError{
		Codec:  codec,
		Reason: err.Error(),
		Err:    fmt.Errorf("%w: %w", ErrMalformedFrame, err),
	}
}
