package gmid

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/james-see/cseq2midi/pkg/logger"
)

// Options controls a conversion. The zero value compresses with computed
// patterns and logs to the global logger.
type Options struct {
	// NoCompression reads and writes cseq track data without pattern
	// compression.
	NoCompression bool
	// Patterns replays a recorded pattern list instead of searching for
	// patterns when writing cseq.
	Patterns PatternSet
	// PatternLog receives every back-reference expanded while reading cseq,
	// in the format ParsePatternFile reads.
	PatternLog io.Writer
	// PostUnroll is called with each cseq track's unrolled data before it is
	// parsed.
	PostUnroll func(track int, data []byte) error
	Logger     *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}
	return logger.GetLogger()
}

// CseqToMIDI converts a cseq file to a format 1 MIDI file. Empty track slots
// are dropped.
func CseqToMIDI(data []byte, opts *Options) ([]byte, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.logger()

	f, err := ParseCseqFile(data)
	if err != nil {
		return nil, err
	}
	if f.Division > 0x7FFF {
		return nil, fmt.Errorf("%w: division %d does not fit a MIDI header", ErrUnsupportedFormat, f.Division)
	}
	mf := &MidiFile{Format: 1, Division: uint16(f.Division)}
	lengths := f.TrackLengths()

	for i, off := range f.Offsets {
		if off == 0 {
			continue
		}
		var raw []byte
		if opts.NoCompression {
			raw, err = CopyTrack(f.Data, int(off), lengths[i])
		} else {
			var matches []PatternMatch
			raw, matches, err = Unroll(f.Data, int(off), lengths[i], i)
			if err == nil && opts.PatternLog != nil {
				err = WritePatterns(opts.PatternLog, matches)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("cseq track %d: %w", i, err)
		}
		if opts.PostUnroll != nil {
			if err := opts.PostUnroll(i, raw); err != nil {
				return nil, fmt.Errorf("cseq track %d: %w", i, err)
			}
		}

		t := NewTrack()
		t.CseqIndex = i
		t.MidiIndex = len(mf.Tracks)
		t.Data = raw
		body, err := cseqTrackToMIDI(t, log)
		if err != nil {
			return nil, fmt.Errorf("cseq track %d: %w", i, err)
		}
		log.Debug("converted track", "slot", i, "cseq_bytes", lengths[i], "unrolled_bytes", len(raw), "midi_bytes", len(body))
		mf.Tracks = append(mf.Tracks, body)
	}
	log.Info("cseq to midi", "tracks", len(mf.Tracks), "division", mf.Division)
	return mf.Bytes(), nil
}

func cseqTrackToMIDI(t *Track, log *slog.Logger) ([]byte, error) {
	if err := t.Parse(DialectCseq); err != nil {
		return nil, err
	}
	t.Channel = t.firstChannel()
	if t.Channel < 0 {
		t.Channel = t.CseqIndex
	}

	malformed, err := t.ResolveLoops()
	if err != nil {
		return nil, err
	}
	for _, s := range malformed {
		log.Warn("loop start without loop end", "slot", t.CseqIndex, "offset", s.CseqOffset, "loop", s.LoopNumber())
	}

	t.SynthesizeNoteOffs()
	t.SortByTime()
	if err := t.DeltaFromAbsolute(); err != nil {
		return nil, err
	}
	if err := t.LoopsToMIDI(); err != nil {
		return nil, err
	}
	t.placeMidiEndOfTrack()
	if err := t.DeltaFromAbsolute(); err != nil {
		return nil, err
	}
	t.ComputeSizes()
	return t.Serialize(DialectMIDI), nil
}

// placeMidiEndOfTrack makes sure the last MIDI event is an end-of-track at the
// latest time in the track. Synthesized note-offs can outlast the cseq
// end-of-track, in which case that one stays cseq-only and a new one is added.
// Events left valid in neither dialect are removed.
func (t *Track) placeMidiEndOfTrack() {
	var maxTime uint64
	var last, eot *Event
	for _, e := range t.Events {
		if !e.MidiValid {
			continue
		}
		if e.AbsoluteTime > maxTime {
			maxTime = e.AbsoluteTime
		}
		if eot == nil && e.IsEndOfTrack() {
			eot = e
		}
		last = e
	}
	if eot == nil || eot != last || eot.AbsoluteTime != maxTime {
		if eot != nil {
			eot.MidiValid = false
		}
		end := NewEndOfTrack()
		end.CseqValid = false
		end.AbsoluteTime = maxTime
		t.Append(end)
	}
	for _, e := range append([]*Event(nil), t.Events...) {
		if !e.CseqValid && !e.MidiValid {
			t.Remove(e)
		}
	}
}

// MIDIToCseq converts a format 1 MIDI file to a cseq file. Each MIDI track
// takes the slot of its first channel, or the lowest free slot.
func MIDIToCseq(data []byte, opts *Options) ([]byte, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.logger()

	mf, err := ParseMidiFile(data)
	if err != nil {
		return nil, err
	}
	if len(mf.Tracks) > CseqTrackCount {
		return nil, fmt.Errorf("%w: %d tracks, cseq holds %d", ErrTooManyTracks, len(mf.Tracks), CseqTrackCount)
	}
	tracks := make([]*Track, 0, len(mf.Tracks))
	for i, body := range mf.Tracks {
		t := NewTrack()
		t.MidiIndex = i
		t.Data = body
		if err := t.Parse(DialectMIDI); err != nil {
			return nil, fmt.Errorf("midi track %d: %w", i, err)
		}
		tracks = append(tracks, t)
	}
	slots, err := assignSlots(tracks)
	if err != nil {
		return nil, err
	}

	cf := NewCseqFile(uint32(mf.Division))
	for slot, t := range slots {
		if t == nil {
			continue
		}
		if err := midiTrackToCseq(t); err != nil {
			return nil, fmt.Errorf("midi track %d: %w", t.MidiIndex, err)
		}
		off := len(cf.Data)
		if opts.NoCompression {
			cf.Data = append(cf.Data, t.Data...)
		} else {
			var matches []PatternMatch
			if opts.Patterns != nil {
				matches = opts.Patterns[slot]
			} else {
				matches, err = FindPatterns(cf.Data, CseqHeaderSize, t)
				if err != nil {
					return nil, fmt.Errorf("midi track %d: %w", t.MidiIndex, err)
				}
			}
			cf.Data, err = Roll(cf.Data, CseqHeaderSize, t, matches)
			if err != nil {
				return nil, fmt.Errorf("midi track %d: %w", t.MidiIndex, err)
			}
		}
		cf.Offsets[slot] = uint32(off)
		log.Debug("converted track", "midi_track", t.MidiIndex, "slot", slot, "unrolled_bytes", len(t.Data), "cseq_bytes", len(cf.Data)-off)
	}
	log.Info("midi to cseq", "tracks", cf.TrackCount(), "bytes", len(cf.Data))
	return cf.Bytes(), nil
}

// assignSlots places each track in the cseq slot of its first channel. Tracks
// without channel events, or whose channel is taken, get the lowest free slot.
func assignSlots(tracks []*Track) ([CseqTrackCount]*Track, error) {
	var slots [CseqTrackCount]*Track
	var pending []*Track
	for _, t := range tracks {
		ch := t.firstChannel()
		if ch >= 0 && slots[ch] == nil {
			slots[ch] = t
			t.CseqIndex = ch
			continue
		}
		pending = append(pending, t)
	}
	for _, t := range pending {
		free := -1
		for i, s := range slots {
			if s == nil {
				free = i
				break
			}
		}
		if free < 0 {
			return slots, fmt.Errorf("%w: no free slot for midi track %d", ErrTooManyTracks, t.MidiIndex)
		}
		slots[free] = t
		t.CseqIndex = free
	}
	for _, t := range tracks {
		t.Channel = t.CseqIndex
	}
	return slots, nil
}

// midiTrackToCseq restructures a parsed MIDI track for cseq and leaves the
// uncompressed cseq bytes in t.Data.
func midiTrackToCseq(t *Track) error {
	if n := len(t.Events); n == 0 || !t.Events[n-1].IsEndOfTrack() {
		var last uint64
		if n > 0 {
			last = t.Events[n-1].AbsoluteTime
		}
		end := NewEndOfTrack()
		end.AbsoluteTime = last
		t.Append(end)
	}
	t.PairNoteOffs()
	t.SortByTime()
	if err := t.DeltaFromAbsolute(); err != nil {
		return err
	}
	t.LoopsToCseq()
	if err := t.DeltaFromAbsolute(); err != nil {
		return err
	}
	t.ComputeSizes()
	if err := t.FixLoopEndOffsets(); err != nil {
		return err
	}
	t.Data = t.Serialize(DialectCseq)
	return nil
}
