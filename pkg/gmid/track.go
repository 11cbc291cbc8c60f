package gmid

import (
	"fmt"
	"sort"
)

// Track is an ordered list of events together with the byte stream it was
// read from or written to.
type Track struct {
	// CseqIndex is the channel slot (0-15) in a cseq file, -1 if unassigned.
	CseqIndex int
	// MidiIndex is the position in a MIDI file's dense track list, -1 if unassigned.
	MidiIndex int
	// Channel is the channel used for events synthesized into this track.
	Channel int

	// Data is the decompressed cseq or raw MIDI track body.
	Data []byte

	Events []*Event

	CseqSize int
	MidiSize int

	byID   map[EventID]*Event
	nextID EventID
	sizes  map[EventID]int
}

// NewTrack returns an empty track.
func NewTrack() *Track {
	return &Track{
		CseqIndex: -1,
		MidiIndex: -1,
		byID:      make(map[EventID]*Event),
		sizes:     make(map[EventID]int),
	}
}

func (t *Track) register(e *Event) *Event {
	t.nextID++
	e.ID = t.nextID
	t.byID[e.ID] = e
	return e
}

// Append registers e with the track and adds it at the end.
func (t *Track) Append(e *Event) *Event {
	t.register(e)
	t.Events = append(t.Events, e)
	return e
}

// Index returns the position of e in the event list, or -1.
func (t *Track) Index(e *Event) int {
	for i, ev := range t.Events {
		if ev == e {
			return i
		}
	}
	return -1
}

// InsertBefore registers e and places it immediately before target.
func (t *Track) InsertBefore(target, e *Event) *Event {
	return t.insertAt(t.Index(target), e)
}

// InsertAfter registers e and places it immediately after target.
func (t *Track) InsertAfter(target, e *Event) *Event {
	i := t.Index(target)
	if i >= 0 {
		i++
	}
	return t.insertAt(i, e)
}

func (t *Track) insertAt(i int, e *Event) *Event {
	t.register(e)
	if i < 0 || i >= len(t.Events) {
		t.Events = append(t.Events, e)
		return e
	}
	t.Events = append(t.Events, nil)
	copy(t.Events[i+1:], t.Events[i:])
	t.Events[i] = e
	return e
}

// Lookup returns the event with the given id, or nil.
func (t *Track) Lookup(id EventID) *Event {
	if id == 0 {
		return nil
	}
	return t.byID[id]
}

// DualOf returns the event paired with e, or nil.
func (t *Track) DualOf(e *Event) *Event {
	return t.Lookup(e.Dual)
}

// Link pairs a and b.
func (t *Track) Link(a, b *Event) {
	a.Dual = b.ID
	b.Dual = a.ID
}

// Remove deletes e from the track and clears the pairing on its partner.
func (t *Track) Remove(e *Event) {
	if d := t.DualOf(e); d != nil && d.Dual == e.ID {
		d.Dual = 0
	}
	e.Dual = 0
	if i := t.Index(e); i >= 0 {
		t.Events = append(t.Events[:i], t.Events[i+1:]...)
	}
	delete(t.byID, e.ID)
	delete(t.sizes, e.ID)
}

// Parse reads t.Data in dialect d into events. Absolute times accumulate from
// the delta times; parsing stops after an end-of-track event.
func (t *Track) Parse(d Dialect) error {
	var running byte
	var abs uint64
	pos := 0
	for pos < len(t.Data) {
		e, n, next, err := ParseEvent(t.Data[pos:], d, running)
		if err != nil {
			return fmt.Errorf("%s track event at offset %d: %w", d, pos, err)
		}
		abs += uint64(e.Delta(d).Value)
		e.AbsoluteTime = abs
		e.setOffset(d, pos)
		t.Append(e)
		t.sizes[e.ID] = n
		running = next
		pos += n
		if e.IsEndOfTrack() {
			break
		}
	}
	return nil
}

// parsedSize returns the number of bytes e occupied in the data it was parsed
// from, falling back to its encoded length without running status.
func (t *Track) parsedSize(e *Event, d Dialect) int {
	if n, ok := t.sizes[e.ID]; ok {
		return n
	}
	n, _ := e.EncodedLen(d, 0)
	return n
}

// firstChannel returns the channel of the first channel voice event, or -1.
func (t *Track) firstChannel() int {
	for _, e := range t.Events {
		if e.Channel >= 0 {
			return e.Channel
		}
	}
	return -1
}

// SortByTime stably orders events by absolute time.
func (t *Track) SortByTime() {
	sort.SliceStable(t.Events, func(i, j int) bool {
		return t.Events[i].AbsoluteTime < t.Events[j].AbsoluteTime
	})
}

// DeltaFromAbsolute recomputes the delta times of both dialects from absolute
// times. The two dialects keep separate running clocks because not every
// event exists in both.
func (t *Track) DeltaFromAbsolute() error {
	var lastCseq, lastMidi uint64
	for _, e := range t.Events {
		for _, d := range []Dialect{DialectCseq, DialectMIDI} {
			if !e.Valid(d) {
				continue
			}
			last := &lastCseq
			if d == DialectMIDI {
				last = &lastMidi
			}
			if e.AbsoluteTime < *last {
				return fmt.Errorf("event %s out of order", e)
			}
			delta := e.AbsoluteTime - *last
			if delta > MaxVarIntValue {
				return fmt.Errorf("%w: delta time %d too large", ErrBadVarInt, delta)
			}
			e.setDelta(d, NewVarInt(uint32(delta)))
			*last = e.AbsoluteTime
		}
	}
	return nil
}

// ComputeSizes sets CseqSize and MidiSize to the serialized length of the
// track in each dialect.
func (t *Track) ComputeSizes() {
	for _, d := range []Dialect{DialectCseq, DialectMIDI} {
		var running byte
		size := 0
		for _, e := range t.Events {
			if !e.Valid(d) {
				continue
			}
			var n int
			n, running = e.EncodedLen(d, running)
			size += n
		}
		if d == DialectMIDI {
			t.MidiSize = size
		} else {
			t.CseqSize = size
		}
	}
}

// Serialize writes every event valid in d and records each event's offset.
func (t *Track) Serialize(d Dialect) []byte {
	size := t.CseqSize
	if d == DialectMIDI {
		size = t.MidiSize
	}
	buf := make([]byte, 0, size)
	var running byte
	for _, e := range t.Events {
		if !e.Valid(d) {
			continue
		}
		e.setOffset(d, len(buf))
		buf, running = e.AppendTo(buf, d, running)
	}
	return buf
}

// Count returns the number of events valid in d that satisfy match.
func (t *Track) Count(d Dialect, match func(*Event) bool) int {
	n := 0
	for _, e := range t.Events {
		if e.Valid(d) && match(e) {
			n++
		}
	}
	return n
}
