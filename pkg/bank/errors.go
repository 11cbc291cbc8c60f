// Package bank parses the text formats that describe N64 sound banks: .inst
// instrument bank descriptions and .coef ADPCM codebooks.
package bank

import "fmt"

// ParseError reports a syntax or reference error at a line of an input file.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

func newParseError(file string, line int, format string, args ...any) *ParseError {
	return &ParseError{File: file, Line: line, Msg: fmt.Sprintf(format, args...)}
}
