package gmid

import (
	"encoding/binary"
	"fmt"
)

// Dialect selects one of the two byte encodings an Event can be written in.
type Dialect int

const (
	DialectCseq Dialect = iota
	DialectMIDI
)

func (d Dialect) String() string {
	if d == DialectMIDI {
		return "midi"
	}
	return "cseq"
}

// Command codes (status byte without channel).
const (
	CmdNoteOff         = 0x80
	CmdNoteOn          = 0x90
	CmdPolyPressure    = 0xA0
	CmdControlChange   = 0xB0
	CmdProgramChange   = 0xC0
	CmdChannelPressure = 0xD0
	CmdPitchBend       = 0xE0
	CmdMeta            = 0xFF
)

// Meta event types. Loop start and loop end only exist in cseq.
const (
	MetaLoopEnd    = 0x2D
	MetaLoopStart  = 0x2E
	MetaEndOfTrack = 0x2F
	MetaTempo      = 0x51
)

// Controllers carrying cseq loop markers through a standard MIDI file.
const (
	ControllerLoopStart     = 102
	ControllerLoopEnd       = 103
	ControllerLoopCount     = 104
	ControllerLoopCountHigh = 105
)

// EventID identifies an Event within its Track. Zero means "no event".
type EventID int

// EventFlags records status bits set during conversion.
type EventFlags uint8

const (
	// FlagMalformedLoop marks a loop start with no loop end.
	FlagMalformedLoop EventFlags = 1 << iota
	// FlagLoopEndHandled marks a loop end already placed during translation.
	FlagLoopEndHandled
)

// Params holds the raw parameter bytes of an event in one dialect, along with
// the decoded values. For meta events Raw starts with the meta type byte.
type Params struct {
	Raw    []byte
	Values []int32
}

func (p Params) clone() Params {
	return Params{
		Raw:    append([]byte(nil), p.Raw...),
		Values: append([]int32(nil), p.Values...),
	}
}

// Event is a single command occurrence shared by both dialects.
type Event struct {
	ID      EventID
	Command byte
	// Channel is -1 for meta events.
	Channel int

	CseqValid bool
	MidiValid bool

	CseqDelta VarInt
	MidiDelta VarInt

	// AbsoluteTime is the tick count from the start of the track.
	AbsoluteTime uint64

	Cseq Params
	Midi Params

	// CseqOffset and MidiOffset are the byte positions of the event (start of its
	// delta time) within the serialized track, set when parsed or written.
	CseqOffset int
	MidiOffset int

	// Dual is the paired event: note-on/note-off or loop start/loop end.
	Dual  EventID
	Flags EventFlags
}

// Status returns the status byte as written (command with channel).
func (e *Event) Status() byte {
	if e.Command == CmdMeta {
		return CmdMeta
	}
	return e.Command | byte(e.Channel&0x0F)
}

// IsChannelVoice reports whether the event is a channel message that may use
// running status.
func (e *Event) IsChannelVoice() bool {
	return e.Command >= CmdNoteOff && e.Command < 0xF0
}

// IsMeta reports whether the event is a meta event of the given type.
func (e *Event) IsMeta(metaType byte) bool {
	return e.Command == CmdMeta && e.MetaType() == metaType
}

// MetaType returns the meta type byte, or 0 for channel events.
func (e *Event) MetaType() byte {
	if e.Command != CmdMeta {
		return 0
	}
	p := e.Cseq
	if len(p.Raw) == 0 {
		p = e.Midi
	}
	if len(p.Raw) == 0 {
		return 0
	}
	return p.Raw[0]
}

// IsLoopStart reports whether e is a cseq loop start.
func (e *Event) IsLoopStart() bool { return e.IsMeta(MetaLoopStart) }

// IsLoopEnd reports whether e is a cseq loop end.
func (e *Event) IsLoopEnd() bool { return e.IsMeta(MetaLoopEnd) }

// IsEndOfTrack reports whether e is an end-of-track meta event.
func (e *Event) IsEndOfTrack() bool { return e.IsMeta(MetaEndOfTrack) }

// IsNoteOn reports whether e is a note-on with non-zero velocity.
func (e *Event) IsNoteOn() bool {
	return e.Command == CmdNoteOn && e.velocity() > 0
}

// IsNoteOff reports whether e ends a note: a note-off, or a note-on with zero velocity.
func (e *Event) IsNoteOff() bool {
	return e.Command == CmdNoteOff || e.Command == CmdNoteOn && e.velocity() == 0
}

// IsController reports whether e is a control change for controller num.
func (e *Event) IsController(num int) bool {
	return e.Command == CmdControlChange && len(e.Midi.Values) == 2 && int(e.Midi.Values[0]) == num
}

func (e *Event) velocity() int32 {
	p := e.anyParams()
	if len(p.Values) < 2 {
		return 0
	}
	return p.Values[1]
}

// Note returns the note number of a note event.
func (e *Event) Note() int32 {
	p := e.anyParams()
	if len(p.Values) == 0 {
		return -1
	}
	return p.Values[0]
}

func (e *Event) anyParams() Params {
	if len(e.Midi.Values) > 0 || len(e.Midi.Raw) > 0 {
		return e.Midi
	}
	return e.Cseq
}

// Params returns the parameters for the given dialect.
func (e *Event) Params(d Dialect) *Params {
	if d == DialectMIDI {
		return &e.Midi
	}
	return &e.Cseq
}

// Delta returns the delta time for the given dialect.
func (e *Event) Delta(d Dialect) VarInt {
	if d == DialectMIDI {
		return e.MidiDelta
	}
	return e.CseqDelta
}

func (e *Event) setDelta(d Dialect, v VarInt) {
	if d == DialectMIDI {
		e.MidiDelta = v
	} else {
		e.CseqDelta = v
	}
}

// Valid reports whether the event exists in the given dialect.
func (e *Event) Valid(d Dialect) bool {
	if d == DialectMIDI {
		return e.MidiValid
	}
	return e.CseqValid
}

// Offset returns the byte position of the event in the serialized track.
func (e *Event) Offset(d Dialect) int {
	if d == DialectMIDI {
		return e.MidiOffset
	}
	return e.CseqOffset
}

func (e *Event) setOffset(d Dialect, off int) {
	if d == DialectMIDI {
		e.MidiOffset = off
	} else {
		e.CseqOffset = off
	}
}

// LoopNumber returns the loop number of a cseq loop start.
func (e *Event) LoopNumber() int {
	if len(e.Cseq.Values) == 0 {
		return -1
	}
	return int(e.Cseq.Values[0])
}

// LoopCount returns the loop count and current count bytes of a cseq loop end.
func (e *Event) LoopCount() (count, current int) {
	if len(e.Cseq.Values) < 3 {
		return 0, 0
	}
	return int(e.Cseq.Values[0]), int(e.Cseq.Values[1])
}

// LoopOffset returns the stored offset of a cseq loop end.
func (e *Event) LoopOffset() uint32 {
	if len(e.Cseq.Values) < 3 {
		return 0
	}
	return uint32(e.Cseq.Values[2])
}

// SetLoopOffset stores off in both the decoded value and the raw bytes of a
// cseq loop end.
func (e *Event) SetLoopOffset(off uint32) {
	if len(e.Cseq.Values) < 3 || len(e.Cseq.Raw) < 7 {
		return
	}
	e.Cseq.Values[2] = int32(off)
	binary.BigEndian.PutUint32(e.Cseq.Raw[3:7], off)
}

// NoteDuration returns the inline duration of a cseq note-on.
func (e *Event) NoteDuration() uint32 {
	if e.Command != CmdNoteOn || len(e.Cseq.Values) < 3 {
		return 0
	}
	return uint32(e.Cseq.Values[2])
}

// SetNoteDuration rewrites the cseq parameters of a note-on with a new duration.
func (e *Event) SetNoteDuration(d uint32) {
	if e.Command != CmdNoteOn || len(e.Cseq.Values) < 2 {
		return
	}
	note, vel := e.Cseq.Values[0], e.Cseq.Values[1]
	raw := []byte{byte(note), byte(vel)}
	e.Cseq = Params{
		Raw:    appendVarInt(raw, d),
		Values: []int32{note, vel, int32(d)},
	}
}

func (e *Event) String() string {
	if e.Command == CmdMeta {
		return fmt.Sprintf("#%d t=%d meta %02X %v", e.ID, e.AbsoluteTime, e.MetaType(), e.anyParams().Values)
	}
	return fmt.Sprintf("#%d t=%d %02X ch=%d %v", e.ID, e.AbsoluteTime, e.Command, e.Channel, e.anyParams().Values)
}

// newChannelEvent builds a channel voice event valid in both dialects with
// identical parameters.
func newChannelEvent(cmd byte, channel int, values ...int32) *Event {
	raw := make([]byte, len(values))
	for i, v := range values {
		raw[i] = byte(v)
	}
	p := Params{Raw: raw, Values: values}
	e := &Event{
		Command:   cmd,
		Channel:   channel,
		CseqValid: true,
		MidiValid: true,
		Cseq:      p.clone(),
		Midi:      p.clone(),
	}
	if cmd == CmdNoteOn {
		e.SetNoteDuration(0)
	}
	return e
}

// NewLoopStart returns a cseq-only loop start event.
func NewLoopStart(loop int) *Event {
	return &Event{
		Command:   CmdMeta,
		Channel:   -1,
		CseqValid: true,
		Cseq: Params{
			Raw:    []byte{MetaLoopStart, byte(loop), 0xFF},
			Values: []int32{int32(loop)},
		},
	}
}

// NewLoopEnd returns a cseq-only loop end event.
func NewLoopEnd(count, current int, offset uint32) *Event {
	raw := []byte{MetaLoopEnd, byte(count), byte(current), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(raw[3:], offset)
	return &Event{
		Command:   CmdMeta,
		Channel:   -1,
		CseqValid: true,
		Cseq: Params{
			Raw:    raw,
			Values: []int32{int32(count), int32(current), int32(offset)},
		},
	}
}

// NewEndOfTrack returns an end-of-track event valid in both dialects.
func NewEndOfTrack() *Event {
	return &Event{
		Command:   CmdMeta,
		Channel:   -1,
		CseqValid: true,
		MidiValid: true,
		Cseq:      Params{Raw: []byte{MetaEndOfTrack}},
		Midi:      Params{Raw: []byte{MetaEndOfTrack, 0x00}},
	}
}

// NewTempo returns a tempo event valid in both dialects.
func NewTempo(usPerQuarter uint32) *Event {
	t := []byte{byte(usPerQuarter >> 16), byte(usPerQuarter >> 8), byte(usPerQuarter)}
	v := []int32{int32(usPerQuarter & 0xFFFFFF)}
	return &Event{
		Command:   CmdMeta,
		Channel:   -1,
		CseqValid: true,
		MidiValid: true,
		Cseq:      Params{Raw: append([]byte{MetaTempo}, t...), Values: v},
		Midi:      Params{Raw: append([]byte{MetaTempo, 0x03}, t...), Values: append([]int32(nil), v...)},
	}
}

// NewController returns a MIDI-only control change.
func NewController(channel, controller, value int) *Event {
	e := newChannelEvent(CmdControlChange, channel, int32(controller), int32(value))
	e.CseqValid = false
	return e
}

// NewNoteOff returns a MIDI-only note-off with zero release velocity.
func NewNoteOff(channel int, note int32) *Event {
	e := newChannelEvent(CmdNoteOff, channel, note, 0)
	e.CseqValid = false
	return e
}
