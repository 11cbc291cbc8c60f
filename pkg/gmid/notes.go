package gmid

// SynthesizeNoteOffs gives every cseq note-on a MIDI-only note-off at the time
// its inline duration runs out. The note-off is placed right after its note-on
// and linked to it; SortByTime moves it into place afterwards.
func (t *Track) SynthesizeNoteOffs() {
	out := make([]*Event, 0, len(t.Events)*2)
	for _, e := range t.Events {
		out = append(out, e)
		if !e.CseqValid || !e.IsNoteOn() {
			continue
		}
		off := t.register(NewNoteOff(e.Channel, e.Note()))
		off.AbsoluteTime = e.AbsoluteTime + uint64(e.NoteDuration())
		t.Link(e, off)
		out = append(out, off)
	}
	t.Events = out
}

type noteKey struct {
	channel int
	note    int32
}

// PairNoteOffs matches MIDI note-offs to note-ons and folds the note length
// into the cseq note-on duration. The most recent open note-on for the same
// channel and note is closed first. Note-offs do not exist in cseq. Note-ons
// that are never closed last until the final event of the track.
func (t *Track) PairNoteOffs() {
	open := make(map[noteKey][]*Event)
	var last uint64
	for _, e := range t.Events {
		if !e.MidiValid {
			continue
		}
		if e.AbsoluteTime > last {
			last = e.AbsoluteTime
		}
		switch {
		case e.IsNoteOn():
			k := noteKey{e.Channel, e.Note()}
			open[k] = append(open[k], e)
		case e.IsNoteOff():
			e.CseqValid = false
			k := noteKey{e.Channel, e.Note()}
			stack := open[k]
			if len(stack) == 0 {
				continue
			}
			on := stack[len(stack)-1]
			open[k] = stack[:len(stack)-1]
			on.SetNoteDuration(uint32(e.AbsoluteTime - on.AbsoluteTime))
			t.Link(on, e)
		}
	}
	for _, stack := range open {
		for _, on := range stack {
			on.SetNoteDuration(uint32(last - on.AbsoluteTime))
		}
	}
}
