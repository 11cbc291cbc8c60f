package converter

import (
	"bytes"
	"fmt"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/james-see/cseq2midi/pkg/gmid"
)

// TrackSummary describes one MTrk chunk
type TrackSummary struct {
	Index    int    `json:"index"`
	Channel  int    `json:"channel"` // -1 when the track has no channel messages
	Events   int    `json:"events"`
	NoteOns  int    `json:"noteOns"`
	NoteOffs int    `json:"noteOffs"`
	Ticks    uint64 `json:"ticks"`
}

// MIDISummary describes a standard MIDI file
type MIDISummary struct {
	Resolution uint16         `json:"resolution"`
	TempoBPM   float64        `json:"tempoBpm,omitempty"`
	Tracks     []TrackSummary `json:"tracks"`
	NoteOns    int            `json:"noteOns"`
	NoteOffs   int            `json:"noteOffs"`
	LoopStarts int            `json:"loopStarts"`
	LoopEnds   int            `json:"loopEnds"`
	LoopCounts int            `json:"loopCounts"`
}

// Inspect parses MIDI data and summarises its tracks, notes and the loop
// controllers written for cseq loops
func Inspect(data []byte) (*MIDISummary, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	sum := &MIDISummary{Tracks: make([]TrackSummary, 0, len(s.Tracks))}
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		sum.Resolution = mt.Resolution()
	}

	for i, track := range s.Tracks {
		ts := TrackSummary{Index: i, Channel: -1, Events: len(track)}
		for _, ev := range track {
			ts.Ticks += uint64(ev.Delta)
			msg := ev.Message

			var bpm float64
			if sum.TempoBPM == 0 && msg.GetMetaTempo(&bpm) {
				sum.TempoBPM = bpm
			}

			var ch, key, vel, cc, val uint8
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				ts.NoteOns++
			case msg.GetNoteEnd(&ch, &key):
				ts.NoteOffs++
			case msg.GetControlChange(&ch, &cc, &val):
				switch int(cc) {
				case gmid.ControllerLoopStart:
					sum.LoopStarts++
				case gmid.ControllerLoopEnd:
					sum.LoopEnds++
				case gmid.ControllerLoopCount, gmid.ControllerLoopCountHigh:
					sum.LoopCounts++
				}
			default:
				continue
			}
			if ts.Channel < 0 {
				ts.Channel = int(ch)
			}
		}
		sum.NoteOns += ts.NoteOns
		sum.NoteOffs += ts.NoteOffs
		sum.Tracks = append(sum.Tracks, ts)
	}
	return sum, nil
}
