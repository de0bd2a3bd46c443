package protocol

import "fmt"

// MaxFrameSize bounds a single encoded frame. Decoders reject larger input
// before parsing it, and servers use it as the websocket read limit.
const MaxFrameSize = 1 << 20

func checkSize(codec string, data []byte) *DecodeError {
	if len(data) == 0 {
		return malformed(codec, "", "empty frame")
	}
	if len(data) > MaxFrameSize {
		return &DecodeError{
			Codec:  codec,
			Reason: "frame exceeds MaxFrameSize",
			Err:    fmt.Errorf("%w: %w", ErrMalformedFrame, ErrFrameTooLarge),
		}
	}
	return nil
}
