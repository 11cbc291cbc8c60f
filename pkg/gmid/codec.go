package gmid

import (
	"encoding/binary"
	"fmt"
)

// channelParamCount returns the number of data bytes following a channel
// voice command, before any cseq note duration.
func channelParamCount(cmd byte) (int, error) {
	switch cmd {
	case CmdNoteOff, CmdNoteOn, CmdPolyPressure, CmdControlChange:
		return 2, nil
	case CmdProgramChange, CmdChannelPressure:
		return 1, nil
	case CmdPitchBend:
		return 0, fmt.Errorf("%w: pitch bend", ErrUnsupportedCommand)
	}
	return 0, fmt.Errorf("%w: 0x%02X", ErrUnsupportedCommand, cmd)
}

// ParseEvent reads one event from the start of buf. running is the status byte
// of the previous channel event (0 if none). It returns the event, the number
// of bytes consumed, and the running status to use for the next event.
//
// The event comes back valid in both dialects where it has a meaning in both,
// with the other dialect's parameters derived from the ones read.
func ParseEvent(buf []byte, d Dialect, running byte) (*Event, int, byte, error) {
	delta, err := DecodeVarInt(buf, MaxVarIntBytes)
	if err != nil {
		return nil, 0, running, fmt.Errorf("delta time: %w", err)
	}
	pos := delta.NumBytes
	if pos >= len(buf) {
		return nil, 0, running, fmt.Errorf("%w: missing command", ErrTruncated)
	}

	status := buf[pos]
	if status&0x80 != 0 {
		pos++
	} else {
		if running == 0 {
			return nil, 0, running, ErrRunningStatus
		}
		status = running
	}

	// both clocks start out equal; DeltaFromAbsolute separates them later
	e := &Event{CseqDelta: delta, MidiDelta: delta}

	if status == CmdMeta {
		n, err := parseMeta(e, buf[pos:], d)
		if err != nil {
			return nil, 0, 0, err
		}
		e.mirror(d)
		return e, pos + n, 0, nil
	}
	if status >= 0xF0 {
		return nil, 0, 0, fmt.Errorf("%w: system message 0x%02X", ErrUnsupportedCommand, status)
	}

	e.Command = status & 0xF0
	e.Channel = int(status & 0x0F)
	count, err := channelParamCount(e.Command)
	if err != nil {
		return nil, 0, 0, err
	}
	if pos+count > len(buf) {
		return nil, 0, 0, fmt.Errorf("%w: %02X parameters", ErrTruncated, status)
	}
	p := Params{Raw: append([]byte(nil), buf[pos:pos+count]...)}
	for _, b := range p.Raw {
		p.Values = append(p.Values, int32(b))
	}
	pos += count

	if d == DialectCseq && e.Command == CmdNoteOn {
		dur, err := DecodeVarInt(buf[pos:], MaxVarIntBytes)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("note duration: %w", err)
		}
		p.Raw = append(p.Raw, buf[pos:pos+dur.NumBytes]...)
		p.Values = append(p.Values, int32(dur.Value))
		pos += dur.NumBytes
	}
	*e.Params(d) = p
	e.mirror(d)
	return e, pos, status, nil
}

func parseMeta(e *Event, buf []byte, d Dialect) (int, error) {
	e.Command = CmdMeta
	e.Channel = -1
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: meta type", ErrTruncated)
	}
	metaType := buf[0]

	if d == DialectMIDI {
		length, err := DecodeVarInt(buf[1:], MaxVarIntBytes)
		if err != nil {
			return 0, fmt.Errorf("meta length: %w", err)
		}
		n := 1 + length.NumBytes + int(length.Value)
		if n > len(buf) {
			return 0, fmt.Errorf("%w: meta %02X data", ErrTruncated, metaType)
		}
		data := buf[1+length.NumBytes : n]
		switch {
		case metaType == MetaTempo && len(data) == 3:
			e.Midi = Params{
				Raw:    append([]byte(nil), buf[:n]...),
				Values: []int32{int32(data[0])<<16 | int32(data[1])<<8 | int32(data[2])},
			}
		case metaType == MetaEndOfTrack && len(data) == 0:
			e.Midi = Params{Raw: append([]byte(nil), buf[:n]...)}
		default:
			return 0, fmt.Errorf("%w: midi meta event %02X", ErrUnsupportedCommand, metaType)
		}
		return n, nil
	}

	var n int
	switch metaType {
	case MetaTempo:
		n = 4
	case MetaEndOfTrack:
		n = 1
	case MetaLoopStart:
		n = 3
	case MetaLoopEnd:
		n = 7
	default:
		return 0, fmt.Errorf("%w: cseq meta event %02X", ErrUnsupportedCommand, metaType)
	}
	if n > len(buf) {
		return 0, fmt.Errorf("%w: meta %02X data", ErrTruncated, metaType)
	}
	raw := append([]byte(nil), buf[:n]...)
	e.Cseq.Raw = raw
	switch metaType {
	case MetaTempo:
		e.Cseq.Values = []int32{int32(raw[1])<<16 | int32(raw[2])<<8 | int32(raw[3])}
	case MetaLoopStart:
		if raw[2] != 0xFF {
			return 0, fmt.Errorf("%w: loop start terminator 0x%02X", ErrLoopMismatch, raw[2])
		}
		e.Cseq.Values = []int32{int32(raw[1])}
	case MetaLoopEnd:
		e.Cseq.Values = []int32{int32(raw[1]), int32(raw[2]), int32(binary.BigEndian.Uint32(raw[3:7]))}
	}
	return n, nil
}

// mirror fills the parameters of the dialect other than from, and sets the
// validity flags.
func (e *Event) mirror(from Dialect) {
	if e.Command == CmdMeta {
		switch e.MetaType() {
		case MetaTempo:
			t := e.Params(from).Values[0]
			*e = *withDeltas(NewTempo(uint32(t)), e)
		case MetaEndOfTrack:
			*e = *withDeltas(NewEndOfTrack(), e)
		default:
			// loop markers exist in cseq only
			e.CseqValid = true
			e.MidiValid = false
		}
		return
	}

	e.CseqValid = true
	e.MidiValid = true
	if from == DialectCseq {
		e.Midi = e.Cseq.clone()
		if e.Command == CmdNoteOn {
			e.Midi.Raw = e.Midi.Raw[:2]
			e.Midi.Values = e.Midi.Values[:2]
		}
		return
	}
	e.Cseq = e.Midi.clone()
	if e.Command == CmdNoteOn {
		e.SetNoteDuration(0)
	}
}

func withDeltas(dst, src *Event) *Event {
	dst.ID = src.ID
	dst.CseqDelta = src.CseqDelta
	dst.MidiDelta = src.MidiDelta
	dst.AbsoluteTime = src.AbsoluteTime
	return dst
}

// EncodedLen returns the number of bytes the event occupies when written in
// dialect d after an event that left running status at running, and the
// running status after it.
func (e *Event) EncodedLen(d Dialect, running byte) (int, byte) {
	n := varIntLen(e.Delta(d).Value)
	status := e.Status()
	if e.Command == CmdMeta {
		running = 0
		n++
	} else if status != running {
		running = status
		n++
	}
	return n + len(e.Params(d).Raw), running
}

// AppendTo writes the event in dialect d and returns the extended buffer and
// the new running status. Only channel voice commands use running status;
// meta events always write their status and clear it.
func (e *Event) AppendTo(dst []byte, d Dialect, running byte) ([]byte, byte) {
	dst = appendVarInt(dst, e.Delta(d).Value)
	status := e.Status()
	if e.Command == CmdMeta {
		dst = append(dst, CmdMeta)
		running = 0
	} else if status != running {
		dst = append(dst, status)
		running = status
	}
	return append(dst, e.Params(d).Raw...), running
}
