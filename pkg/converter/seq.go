package converter

import (
	"fmt"

	"github.com/james-see/cseq2midi/pkg/gmid"
)

// CseqTrack describes one used track slot of a cseq file
type CseqTrack struct {
	Slot   int    `json:"slot"`
	Offset uint32 `json:"offset"`
	Length int    `json:"length"`
}

// CseqSummary describes a cseq file
type CseqSummary struct {
	Division uint32      `json:"division"`
	Size     int         `json:"size"`
	Tracks   []CseqTrack `json:"tracks"`
}

// InspectCseq reads the header of a cseq file and lists its tracks
func InspectCseq(data []byte) (*CseqSummary, error) {
	f, err := gmid.ParseCseqFile(data)
	if err != nil {
		return nil, err
	}
	lengths := f.TrackLengths()
	sum := &CseqSummary{Division: f.Division, Size: len(data)}
	for i, off := range f.Offsets {
		if off == 0 {
			continue
		}
		sum.Tracks = append(sum.Tracks, CseqTrack{Slot: i, Offset: off, Length: lengths[i]})
	}
	return sum, nil
}

// ValidateCseq checks that every track of a cseq file decompresses
func ValidateCseq(data []byte) error {
	f, err := gmid.ParseCseqFile(data)
	if err != nil {
		return err
	}
	lengths := f.TrackLengths()
	for i, off := range f.Offsets {
		if off == 0 {
			continue
		}
		if _, _, err := gmid.Unroll(f.Data, int(off), lengths[i], i); err != nil {
			return fmt.Errorf("cseq track %d: %w", i, err)
		}
	}
	return nil
}
