package gmid

import (
	"encoding/binary"
	"fmt"
)

// ResolveLoops pairs every cseq loop end with the loop start it jumps back to.
//
// A loop end's offset counts the bytes from the end of its loop start to the
// end of the loop end itself, so the start is found by position arithmetic on
// the offsets recorded at parse time. Each end takes the nearest unclaimed start
// before it that satisfies the arithmetic; this also settles duplicate starts
// for the same loop number, where only one of them is referenced. An end with
// no such start is an error, and so is an unpaired start followed by a loop
// end of another loop opened after it. Other unpaired starts are flagged with
// FlagMalformedLoop and returned.
func (t *Track) ResolveLoops() ([]*Event, error) {
	for i, end := range t.Events {
		if !end.CseqValid || !end.IsLoopEnd() || end.Dual != 0 {
			continue
		}
		endPos := end.CseqOffset + t.parsedSize(end, DialectCseq)
		var start *Event
		for j := i - 1; j >= 0; j-- {
			s := t.Events[j]
			if !s.CseqValid || !s.IsLoopStart() || s.Dual != 0 {
				continue
			}
			startPos := s.CseqOffset + t.parsedSize(s, DialectCseq)
			if endPos-startPos == int(end.LoopOffset()) {
				start = s
				break
			}
		}
		if start == nil {
			return nil, fmt.Errorf("%w: loop end at offset %d (offset field %d) has no matching loop start",
				ErrLoopMismatch, end.CseqOffset, end.LoopOffset())
		}
		t.Link(start, end)
	}

	var malformed []*Event
	for i, s := range t.Events {
		if !s.CseqValid || !s.IsLoopStart() || s.Dual != 0 {
			continue
		}
		if end := t.skippedLoopEnd(s, i); end != nil {
			return nil, fmt.Errorf("%w: loop start at offset %d (loop %d) does not match loop end at offset %d",
				ErrLoopMismatch, s.CseqOffset, s.LoopNumber(), end.CseqOffset)
		}
		s.Flags |= FlagMalformedLoop
		malformed = append(malformed, s)
	}
	return malformed, nil
}

// skippedLoopEnd returns a loop end after the unpaired start at index i that
// belongs to a later start of another loop. A forward scan from s meets that
// end and it does not match. Ends taken by a later start of the same loop
// number are duplicates and do not count.
func (t *Track) skippedLoopEnd(s *Event, i int) *Event {
	for _, end := range t.Events[i+1:] {
		if !end.CseqValid || !end.IsLoopEnd() {
			continue
		}
		owner := t.DualOf(end)
		if owner != nil && owner.CseqOffset > s.CseqOffset && owner.LoopNumber() != s.LoopNumber() {
			return end
		}
	}
	return nil
}

// LoopsToMIDI inserts controller events carrying each cseq loop into the MIDI
// dialect: loop start and loop count immediately before the loop start, loop
// end immediately before the loop end. A malformed start only gets the start
// controller.
func (t *Track) LoopsToMIDI() error {
	starts := make([]*Event, 0)
	for _, e := range t.Events {
		if e.CseqValid && e.IsLoopStart() {
			starts = append(starts, e)
		}
	}
	for _, s := range starts {
		loop := s.LoopNumber()
		if loop < 0 || loop > 0x7F {
			return fmt.Errorf("%w: loop number %d cannot be stored in a controller", ErrLoopMismatch, loop)
		}
		startCC := NewController(t.Channel, ControllerLoopStart, loop)
		startCC.AbsoluteTime = s.AbsoluteTime
		t.InsertBefore(s, startCC)

		end := t.DualOf(s)
		if end == nil {
			continue
		}
		count, _ := end.LoopCount()
		var countCC *Event
		if count > 0x7F {
			countCC = NewController(t.Channel, ControllerLoopCountHigh, count-0x80)
		} else {
			countCC = NewController(t.Channel, ControllerLoopCount, count)
		}
		countCC.AbsoluteTime = s.AbsoluteTime
		t.InsertBefore(s, countCC)

		endCC := NewController(t.Channel, ControllerLoopEnd, loop)
		endCC.AbsoluteTime = end.AbsoluteTime
		t.InsertBefore(end, endCC)
		end.Flags |= FlagLoopEndHandled
	}
	return nil
}

func isLoopController(e *Event) bool {
	return e.IsController(ControllerLoopStart) || e.IsController(ControllerLoopEnd) ||
		e.IsController(ControllerLoopCount) || e.IsController(ControllerLoopCountHigh)
}

// LoopsToCseq turns loop controllers back into cseq loop markers. Every loop
// start controller yields a loop start; when it is directly followed by a
// loop count controller and a loop end controller for the same loop number
// comes later, a paired loop end is created too. The loop end offset is left
// at zero for FixLoopEndOffsets.
func (t *Track) LoopsToCseq() {
	events := append([]*Event(nil), t.Events...)
	for _, e := range events {
		if isLoopController(e) {
			e.CseqValid = false
		}
	}
	for i, cc := range events {
		if !cc.IsController(ControllerLoopStart) {
			continue
		}
		loop := int(cc.Midi.Values[1])
		start := NewLoopStart(loop)
		start.AbsoluteTime = cc.AbsoluteTime
		t.InsertBefore(cc, start)

		if i+1 >= len(events) {
			continue
		}
		next := events[i+1]
		var count int
		switch {
		case next.IsController(ControllerLoopCount):
			count = int(next.Midi.Values[1])
		case next.IsController(ControllerLoopCountHigh):
			count = int(next.Midi.Values[1]) + 0x80
		default:
			continue
		}

		for _, endCC := range events[i+2:] {
			if !endCC.IsController(ControllerLoopEnd) || int(endCC.Midi.Values[1]) != loop ||
				endCC.Flags&FlagLoopEndHandled != 0 {
				continue
			}
			end := NewLoopEnd(count, 0, 0)
			end.AbsoluteTime = endCC.AbsoluteTime
			t.InsertBefore(endCC, end)
			t.Link(start, end)
			endCC.Flags |= FlagLoopEndHandled
			break
		}
	}
}

// FixLoopEndOffsets stores in every cseq loop end the number of bytes from the
// end of its loop start to the end of the loop end, as the events will be
// written. Delta times must be final.
func (t *Track) FixLoopEndOffsets() error {
	for i, end := range t.Events {
		if !end.CseqValid || !end.IsLoopEnd() {
			continue
		}
		start := t.DualOf(end)
		if start == nil {
			return fmt.Errorf("%w: loop end %s has no loop start", ErrLoopMismatch, end)
		}
		si := t.Index(start)
		if si < 0 || si > i {
			return fmt.Errorf("%w: loop start %s is not before its loop end", ErrLoopMismatch, start)
		}
		// the loop start is a meta event, so running status is clear after it
		var running byte
		total := 0
		for _, e := range t.Events[si+1 : i+1] {
			if !e.CseqValid {
				continue
			}
			var n int
			n, running = e.EncodedLen(DialectCseq, running)
			total += n
		}
		end.SetLoopOffset(uint32(total))
	}
	return nil
}

// loopSpan is the byte range a loop end's offset covers in a serialized cseq
// track.
type loopSpan struct {
	event     *Event
	start     int
	end       int
	offsetPos int
	value     int64
	done      bool
}

// loopSpans returns the spans of all paired loop ends and a mask of the bytes
// belonging to loop markers. Offsets and t.Data must come from
// Serialize(DialectCseq).
func (t *Track) loopSpans(size int) ([]*loopSpan, []bool) {
	protected := make([]bool, size)
	mark := func(e *Event) int {
		n, _ := e.EncodedLen(DialectCseq, 0)
		last := e.CseqOffset + n
		for p := e.CseqOffset; p < last && p < size; p++ {
			protected[p] = true
		}
		return last
	}
	var spans []*loopSpan
	for _, e := range t.Events {
		if !e.CseqValid {
			continue
		}
		if e.IsLoopStart() {
			mark(e)
			continue
		}
		if !e.IsLoopEnd() {
			continue
		}
		endPos := mark(e)
		start := t.DualOf(e)
		if start == nil || endPos > len(t.Data) {
			continue
		}
		n, _ := start.EncodedLen(DialectCseq, 0)
		spans = append(spans, &loopSpan{
			event:     e,
			start:     start.CseqOffset + n,
			end:       endPos,
			offsetPos: endPos - 4,
			value:     int64(binary.BigEndian.Uint32(t.Data[endPos-4 : endPos])),
		})
	}
	return spans, protected
}
