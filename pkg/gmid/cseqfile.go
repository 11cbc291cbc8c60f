package gmid

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	// CseqTrackCount is the number of track slots in a cseq header.
	CseqTrackCount = 16
	// CseqHeaderSize is the size of the track offset table plus division.
	CseqHeaderSize = CseqTrackCount*4 + 4
)

// CseqFile is a whole cseq file. Offsets are absolute byte positions of each
// track slot's data, 0 for an empty slot. Data holds the complete file,
// header included.
type CseqFile struct {
	Offsets  [CseqTrackCount]uint32
	Division uint32
	Data     []byte
}

// NewCseqFile returns a file with an empty header and no track data.
func NewCseqFile(division uint32) *CseqFile {
	return &CseqFile{Division: division, Data: make([]byte, CseqHeaderSize)}
}

// ParseCseqFile reads the header of a cseq file.
func ParseCseqFile(data []byte) (*CseqFile, error) {
	if len(data) < CseqHeaderSize {
		return nil, fmt.Errorf("%w: cseq header needs %d bytes, have %d", ErrTruncated, CseqHeaderSize, len(data))
	}
	f := &CseqFile{Data: data}
	for i := range f.Offsets {
		off := binary.BigEndian.Uint32(data[i*4:])
		if off != 0 && (off < CseqHeaderSize || int64(off) > int64(len(data))) {
			return nil, fmt.Errorf("%w: track %d offset 0x%X outside file of %d bytes", ErrTruncated, i, off, len(data))
		}
		f.Offsets[i] = off
	}
	f.Division = binary.BigEndian.Uint32(data[CseqTrackCount*4:])
	return f, nil
}

// TrackLengths returns the byte length of each track slot. A track runs to
// the next higher track offset, or to the end of the file.
func (f *CseqFile) TrackLengths() [CseqTrackCount]int {
	var sorted []int
	for _, off := range f.Offsets {
		if off != 0 {
			sorted = append(sorted, int(off))
		}
	}
	sort.Ints(sorted)
	var lengths [CseqTrackCount]int
	for i, off := range f.Offsets {
		if off == 0 {
			continue
		}
		next := len(f.Data)
		j := sort.SearchInts(sorted, int(off)+1)
		if j < len(sorted) {
			next = sorted[j]
		}
		lengths[i] = next - int(off)
	}
	return lengths
}

// Bytes writes the header into Data and returns the complete file.
func (f *CseqFile) Bytes() []byte {
	if len(f.Data) < CseqHeaderSize {
		f.Data = append(f.Data, make([]byte, CseqHeaderSize-len(f.Data))...)
	}
	for i, off := range f.Offsets {
		binary.BigEndian.PutUint32(f.Data[i*4:], off)
	}
	binary.BigEndian.PutUint32(f.Data[CseqTrackCount*4:], f.Division)
	return f.Data
}

// TrackCount returns the number of non-empty track slots.
func (f *CseqFile) TrackCount() int {
	n := 0
	for _, off := range f.Offsets {
		if off != 0 {
			n++
		}
	}
	return n
}
