package media

import "errors"

// Pipeline error categories. Components wrap these with the failing
// operation and the underlying cause; callers match them with errors.Is.
var (
	ErrOpen          = errors.New("cannot open input")
	ErrNoAudioStream = errors.New("no audio stream")
	ErrDemux         = errors.New("demux failed")
	ErrDecode        = errors.New("decode failed")
	ErrConversion    = errors.New("conversion failed")

	// ErrUnexpectedPlaneCount and ErrMalformedFrame are contract violations
	// between the converter and the accumulator, never bad input.
	ErrUnexpectedPlaneCount = errors.New("unexpected plane count")
	ErrMalformedFrame       = errors.New("malformed frame")
)
