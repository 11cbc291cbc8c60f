// Package gmid converts between N64 compressed MIDI (cseq) and standard MIDI files.
//
// Both dialects are parsed into a common event model (Track / Event) that carries
// per-dialect delta times and parameters, so a track can be read in one dialect,
// restructured, and written in the other.
package gmid

import "errors"

// Errors returned by the codec. Everything in this package that fails on bad
// input wraps one of these.
var (
	ErrTruncated          = errors.New("unexpected end of data")
	ErrBadVarInt          = errors.New("invalid variable-length integer")
	ErrUnsupportedCommand = errors.New("unsupported command")
	ErrRunningStatus      = errors.New("running status without previous command")
	ErrBadChunk           = errors.New("invalid chunk")
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrLoopMismatch       = errors.New("loop marker mismatch")
	ErrPatternMismatch    = errors.New("pattern does not match track data")
	ErrNoProgress         = errors.New("pattern list makes no progress")
	ErrTooManyTracks      = errors.New("too many tracks")
)
