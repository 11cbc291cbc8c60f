// Package converter converts between N64 cseq sequences and standard MIDI files
package converter

import (
	"io"
	"log/slog"

	"github.com/james-see/cseq2midi/pkg/gmid"
)

// Format represents a file format
type Format string

const (
	FormatMIDI    Format = "midi"
	FormatCseq    Format = "cseq"
	FormatSbk     Format = "sbk"
	FormatInst    Format = "inst"
	FormatCoef    Format = "coef"
	FormatUnknown Format = "unknown"
)

// Options configures a Converter
type Options struct {
	// NoCompression disables pattern compression in both directions
	NoCompression bool
	// Patterns replays a recorded pattern list when writing cseq
	Patterns gmid.PatternSet
	// PatternLog receives the patterns expanded while reading cseq
	PatternLog io.Writer
	// PostUnroll receives each cseq track after decompression
	PostUnroll func(track int, data []byte) error
	Logger     *slog.Logger
}

// ConversionResult holds the result of a conversion
type ConversionResult struct {
	Data     []byte
	Filename string
	Format   Format
}

// Converter handles format conversions
type Converter struct {
	opts Options
}

// New creates a new Converter with the given options
func New(opts Options) *Converter {
	return &Converter{opts: opts}
}

// GetOptions returns the current options
func (c *Converter) GetOptions() Options {
	return c.opts
}

// SetOptions replaces the options used for later conversions
func (c *Converter) SetOptions(opts Options) {
	c.opts = opts
}

func (c *Converter) gmidOptions() *gmid.Options {
	return &gmid.Options{
		NoCompression: c.opts.NoCompression,
		Patterns:      c.opts.Patterns,
		PatternLog:    c.opts.PatternLog,
		PostUnroll:    c.opts.PostUnroll,
		Logger:        c.opts.Logger,
	}
}
