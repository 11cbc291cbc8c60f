// Package sbk splits soundbank files into their individual cseq sequences.
//
// A soundbank starts with a big-endian entry count followed by one
// (offset, length) pair per entry. Offsets are from the start of the file.
package sbk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/james-see/cseq2midi/pkg/logger"
)

// ErrBadHeader is returned for a header that does not fit the file.
var ErrBadHeader = errors.New("invalid soundbank header")

const entrySize = 8

// Entry is one sequence extracted from a soundbank.
type Entry struct {
	Index  int    `json:"index"`
	Offset uint32 `json:"offset"`
	Length uint32 `json:"length"`
	Data   []byte `json:"-"`
}

// Split returns the non-empty sequences of a soundbank. Zero-length entries
// are skipped with a warning.
func Split(data []byte, log *slog.Logger) ([]Entry, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadHeader, len(data))
	}
	count := binary.BigEndian.Uint32(data)
	if uint64(count)*entrySize+4 > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %d entries do not fit %d bytes", ErrBadHeader, count, len(data))
	}

	var entries []Entry
	for i := 0; i < int(count); i++ {
		p := 4 + i*entrySize
		off := binary.BigEndian.Uint32(data[p:])
		n := binary.BigEndian.Uint32(data[p+4:])
		if n == 0 {
			log.Warn("skipping empty soundbank entry", "index", i, "offset", off)
			continue
		}
		if uint64(off)+uint64(n) > uint64(len(data)) {
			return nil, fmt.Errorf("%w: entry %d at 0x%X+%d exceeds file size %d", ErrBadHeader, i, off, n, len(data))
		}
		entries = append(entries, Entry{
			Index:  i,
			Offset: off,
			Length: n,
			Data:   data[off : off+n],
		})
	}
	log.Debug("split soundbank", "entries", count, "extracted", len(entries))
	return entries, nil
}

// FileName returns the name an entry is written under.
func FileName(base string, index int) string {
	return fmt.Sprintf("%s_%03d.seq", base, index)
}

// WriteEntries writes each entry to dir as <base>_<NNN>.seq and returns the
// paths written.
func WriteEntries(dir, base string, entries []Entry) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		path := filepath.Join(dir, FileName(base, e.Index))
		if err := os.WriteFile(path, e.Data, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
