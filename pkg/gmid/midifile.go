package gmid

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var (
	chunkHeader = []byte("MThd")
	chunkTrack  = []byte("MTrk")
)

// MidiFile is a standard MIDI file split into its track chunk bodies.
type MidiFile struct {
	Format   uint16
	Division uint16
	Tracks   [][]byte
}

// ParseMidiFile reads the chunk structure of a format 1 MIDI file with a
// ticks-per-quarter-note division.
func ParseMidiFile(data []byte) (*MidiFile, error) {
	if len(data) < 14 {
		return nil, fmt.Errorf("%w: midi header", ErrTruncated)
	}
	if !bytes.Equal(data[:4], chunkHeader) {
		return nil, fmt.Errorf("%w: expected MThd, got %q", ErrBadChunk, data[:4])
	}
	hdrLen := int(binary.BigEndian.Uint32(data[4:8]))
	if hdrLen < 6 || 8+hdrLen > len(data) {
		return nil, fmt.Errorf("%w: header length %d", ErrBadChunk, hdrLen)
	}
	f := &MidiFile{
		Format:   binary.BigEndian.Uint16(data[8:]),
		Division: binary.BigEndian.Uint16(data[12:]),
	}
	ntracks := int(binary.BigEndian.Uint16(data[10:]))
	if f.Format != 1 {
		return nil, fmt.Errorf("%w: midi format %d", ErrUnsupportedFormat, f.Format)
	}
	if f.Division&0x8000 != 0 {
		return nil, fmt.Errorf("%w: SMPTE time division", ErrUnsupportedFormat)
	}

	pos := 8 + hdrLen
	for i := 0; i < ntracks; i++ {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("%w: track %d of %d missing", ErrTruncated, i, ntracks)
		}
		if !bytes.Equal(data[pos:pos+4], chunkTrack) {
			return nil, fmt.Errorf("%w: expected MTrk at offset %d, got %q", ErrBadChunk, pos, data[pos:pos+4])
		}
		n := int(binary.BigEndian.Uint32(data[pos+4:]))
		pos += 8
		if n < 0 || pos+n > len(data) {
			return nil, fmt.Errorf("%w: track %d length %d", ErrTruncated, i, n)
		}
		f.Tracks = append(f.Tracks, data[pos:pos+n])
		pos += n
	}
	return f, nil
}

// Bytes writes the file.
func (f *MidiFile) Bytes() []byte {
	size := 14
	for _, t := range f.Tracks {
		size += 8 + len(t)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, chunkHeader...)
	buf = binary.BigEndian.AppendUint32(buf, 6)
	buf = binary.BigEndian.AppendUint16(buf, f.Format)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(f.Tracks)))
	buf = binary.BigEndian.AppendUint16(buf, f.Division)
	for _, t := range f.Tracks {
		buf = append(buf, chunkTrack...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(t)))
		buf = append(buf, t...)
	}
	return buf
}
