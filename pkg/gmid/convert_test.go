package gmid

import (
	"bytes"
	"errors"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// buildCseq lays out uncompressed track bodies behind a cseq header.
func buildCseq(division uint32, tracks map[int][]byte) []byte {
	f := NewCseqFile(division)
	for slot := 0; slot < CseqTrackCount; slot++ {
		body, ok := tracks[slot]
		if !ok {
			continue
		}
		f.Offsets[slot] = uint32(len(f.Data))
		f.Data = append(f.Data, body...)
	}
	return f.Bytes()
}

type timedMessage struct {
	tick uint64
	msg  []byte
}

func readMIDI(t *testing.T, data []byte) (*smf.SMF, [][]timedMessage) {
	t.Helper()
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("smf.ReadFrom() error = %v", err)
	}
	var tracks [][]timedMessage
	for _, track := range s.Tracks {
		var msgs []timedMessage
		var tick uint64
		for _, ev := range track {
			tick += uint64(ev.Delta)
			msgs = append(msgs, timedMessage{tick: tick, msg: []byte(ev.Message)})
		}
		tracks = append(tracks, msgs)
	}
	return s, tracks
}

func filterStatus(msgs []timedMessage, status byte) []timedMessage {
	var out []timedMessage
	for _, m := range msgs {
		if len(m.msg) > 0 && m.msg[0]&0xF0 == status {
			out = append(out, m)
		}
	}
	return out
}

func TestCseqToMIDISingleNote(t *testing.T) {
	body := []byte{
		0x00, 0x93, 0x3C, 0x64, 0x83, 0x60,
		0x83, 0x60, 0xFF, 0x2F,
	}
	in := buildCseq(480, map[int][]byte{0: body})

	for _, noCompress := range []bool{false, true} {
		out, err := CseqToMIDI(in, &Options{NoCompression: noCompress})
		if err != nil {
			t.Fatalf("CseqToMIDI(noCompress=%v) error = %v", noCompress, err)
		}
		s, tracks := readMIDI(t, out)
		if mt, ok := s.TimeFormat.(smf.MetricTicks); !ok || mt.Resolution() != 480 {
			t.Errorf("TimeFormat = %v, want 480 ticks", s.TimeFormat)
		}
		if len(tracks) != 1 {
			t.Fatalf("got %d tracks, want 1", len(tracks))
		}
		ons := filterStatus(tracks[0], 0x90)
		offs := filterStatus(tracks[0], 0x80)
		if len(ons) != 1 || len(offs) != 1 {
			t.Fatalf("got %d note-ons and %d note-offs, want 1 and 1", len(ons), len(offs))
		}
		if !bytes.Equal(ons[0].msg, []byte{0x93, 60, 100}) || ons[0].tick != 0 {
			t.Errorf("note-on = % X at %d, want 93 3C 64 at 0", ons[0].msg, ons[0].tick)
		}
		if offs[0].msg[0] != 0x83 || offs[0].msg[1] != 60 || offs[0].tick != 480 {
			t.Errorf("note-off = % X at %d, want 83 3C at 480", offs[0].msg, offs[0].tick)
		}
		last := tracks[0][len(tracks[0])-1]
		if !bytes.Equal(last.msg, []byte{0xFF, 0x2F, 0x00}) {
			t.Errorf("last event = % X, want end of track", last.msg)
		}
	}
}

// loopTrack returns a track with loop #0 whose loop end sits 100 bytes after
// the loop start, followed by end of track.
func loopTrack() []byte {
	body := []byte{0x00, 0xFF, 0x2E, 0x00, 0xFF}
	body = append(body, 0x10, 0x90, 0x30, 0x40, 0x08)
	for i := 1; i < 20; i++ {
		body = append(body, 0x10, byte(0x30+i), 0x40, 0x08)
	}
	body = append(body, 0x10, 0x44, 0x40, 0x81, 0x00)
	body = append(body, 0x10, 0x45, 0x40, 0x81, 0x00)
	body = append(body, 0x00, 0xFF, 0x2D, 0x04, 0x00, 0x00, 0x00, 0x00, 0x64)
	return append(body, 0x00, 0xFF, 0x2F)
}

func TestLoopRoundTrip(t *testing.T) {
	in := buildCseq(96, map[int][]byte{0: loopTrack()})

	mid, err := CseqToMIDI(in, nil)
	if err != nil {
		t.Fatalf("CseqToMIDI() error = %v", err)
	}
	_, tracks := readMIDI(t, mid)
	ccs := filterStatus(tracks[0], 0xB0)
	want := []timedMessage{
		{0, []byte{0xB0, 102, 0}},
		{0, []byte{0xB0, 104, 4}},
		{352, []byte{0xB0, 103, 0}},
	}
	if len(ccs) != len(want) {
		t.Fatalf("got %d controllers, want %d", len(ccs), len(want))
	}
	for i := range want {
		if ccs[i].tick != want[i].tick || !bytes.Equal(ccs[i].msg, want[i].msg) {
			t.Errorf("controller %d = % X at %d, want % X at %d", i, ccs[i].msg, ccs[i].tick, want[i].msg, want[i].tick)
		}
	}

	back, err := MIDIToCseq(mid, nil)
	if err != nil {
		t.Fatalf("MIDIToCseq() error = %v", err)
	}
	block := []byte{0xFF, 0x2D, 0x04, 0x00, 0x00, 0x00, 0x00, 0x64}
	if !bytes.Contains(back, block) {
		t.Errorf("round trip lost loop end block % X", block)
	}
	if !bytes.Contains(back, []byte{0x00, 0xFF, 0x2E, 0x00, 0xFF}) {
		t.Error("round trip lost loop start")
	}
}

func TestMalformedLoopStartOnlyController(t *testing.T) {
	body := []byte{
		0x00, 0xFF, 0x2E, 0x02, 0xFF,
		0x00, 0x90, 0x3C, 0x64, 0x10,
		0x10, 0xFF, 0x2F,
	}
	out, err := CseqToMIDI(buildCseq(96, map[int][]byte{4: body}), nil)
	if err != nil {
		t.Fatalf("CseqToMIDI() error = %v", err)
	}
	_, tracks := readMIDI(t, out)
	ccs := filterStatus(tracks[0], 0xB0)
	if len(ccs) != 1 || !bytes.Equal(ccs[0].msg, []byte{0xB0, 102, 2}) {
		t.Errorf("controllers = %v, want a single loop start for loop 2", ccs)
	}
}

func TestUnmatchedLoopEnd(t *testing.T) {
	body := []byte{
		0x00, 0xFF, 0x2E, 0x00, 0xFF,
		0x00, 0x90, 0x3C, 0x64, 0x10,
		0x00, 0xFF, 0x2D, 0x02, 0x00, 0x00, 0x00, 0x00, 0x30,
		0x00, 0xFF, 0x2F,
	}
	_, err := CseqToMIDI(buildCseq(96, map[int][]byte{0: body}), &Options{NoCompression: true})
	if !errors.Is(err, ErrLoopMismatch) {
		t.Errorf("CseqToMIDI() error = %v, want %v", err, ErrLoopMismatch)
	}
}

func TestSynthesizedEndOfTrackFollowsNotes(t *testing.T) {
	// the note outlasts the cseq end of track
	body := []byte{
		0x00, 0x90, 0x3C, 0x64, 0x81, 0x00,
		0x10, 0xFF, 0x2F,
	}
	out, err := CseqToMIDI(buildCseq(96, map[int][]byte{0: body}), nil)
	if err != nil {
		t.Fatalf("CseqToMIDI() error = %v", err)
	}
	_, tracks := readMIDI(t, out)
	msgs := tracks[0]
	last := msgs[len(msgs)-1]
	if !bytes.Equal(last.msg, []byte{0xFF, 0x2F, 0x00}) || last.tick != 128 {
		t.Errorf("last event = % X at %d, want end of track at 128", last.msg, last.tick)
	}
	eots := 0
	for _, m := range msgs {
		if len(m.msg) >= 2 && m.msg[0] == 0xFF && m.msg[1] == 0x2F {
			eots++
		}
	}
	if eots != 1 {
		t.Errorf("found %d end of track events, want 1", eots)
	}

	// written back, the end of track keeps the later time of the note-off
	back, err := MIDIToCseq(out, &Options{NoCompression: true})
	if err != nil {
		t.Fatalf("MIDIToCseq() error = %v", err)
	}
	want := []byte{
		0x00, 0x90, 0x3C, 0x64, 0x81, 0x00,
		0x81, 0x00, 0xFF, 0x2F,
	}
	if got := back[CseqHeaderSize:]; !bytes.Equal(got, want) {
		t.Errorf("round trip track = % X, want % X", got, want)
	}
}

func TestDuplicateLoopStartControllers(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want [][]byte
	}{
		{"end matches second start", dupEndsAtSecond, [][]byte{
			{0xB0, 102, 0}, {0xB0, 102, 0}, {0xB0, 104, 3}, {0xB0, 103, 0},
		}},
		{"end matches first start", dupEndsAtFirst, [][]byte{
			{0xB0, 102, 0}, {0xB0, 104, 3}, {0xB0, 102, 0}, {0xB0, 103, 0},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, noCompress := range []bool{false, true} {
				opts := &Options{NoCompression: noCompress}
				mid, err := CseqToMIDI(buildCseq(96, map[int][]byte{0: tt.body}), opts)
				if err != nil {
					t.Fatalf("CseqToMIDI(noCompress=%v) error = %v", noCompress, err)
				}
				_, tracks := readMIDI(t, mid)
				ccs := filterStatus(tracks[0], 0xB0)
				if len(ccs) != len(tt.want) {
					t.Fatalf("got %d controllers, want %d", len(ccs), len(tt.want))
				}
				for i, want := range tt.want {
					wantTick := uint64(0)
					if i == len(tt.want)-1 {
						wantTick = 16
					}
					if !bytes.Equal(ccs[i].msg, want) || ccs[i].tick != wantTick {
						t.Errorf("controller %d = % X at %d, want % X at %d", i, ccs[i].msg, ccs[i].tick, want, wantTick)
					}
				}

				back, err := MIDIToCseq(mid, &Options{NoCompression: true})
				if err != nil {
					t.Fatalf("MIDIToCseq() error = %v", err)
				}
				if got := back[CseqHeaderSize:]; !bytes.Equal(got, tt.body) {
					t.Errorf("round trip track = % X, want % X", got, tt.body)
				}
			}
		})
	}
}

func addPhrase(tr *smf.Track, notes int) {
	for i := 0; i < notes; i++ {
		tr.Add(0, midi.NoteOn(0, 60+uint8(i%3), 100))
		tr.Add(60, midi.NoteOff(0, 60+uint8(i%3)))
	}
}

func TestNestedLoopsCompress(t *testing.T) {
	var lead smf.Track
	lead.Add(0, midi.ControlChange(0, ControllerLoopStart, 0))
	lead.Add(0, midi.ControlChange(0, ControllerLoopCount, 2))
	addPhrase(&lead, 12)
	lead.Add(0, midi.ControlChange(0, ControllerLoopStart, 1))
	lead.Add(0, midi.ControlChange(0, ControllerLoopCount, 3))
	addPhrase(&lead, 12)
	lead.Add(0, midi.ControlChange(0, ControllerLoopEnd, 1))
	addPhrase(&lead, 12)
	lead.Add(0, midi.ControlChange(0, ControllerLoopEnd, 0))
	in := buildSMF(t, lead)

	packed, err := MIDIToCseq(in, nil)
	if err != nil {
		t.Fatalf("MIDIToCseq() error = %v", err)
	}
	plain, err := MIDIToCseq(in, &Options{NoCompression: true})
	if err != nil {
		t.Fatalf("MIDIToCseq(NoCompression) error = %v", err)
	}
	if len(packed) >= len(plain) {
		t.Errorf("compressed size %d, want less than %d", len(packed), len(plain))
	}

	var unrolled []byte
	fromPacked, err := CseqToMIDI(packed, &Options{
		PostUnroll: func(track int, data []byte) error {
			unrolled = data
			return nil
		},
	})
	if err != nil {
		t.Fatalf("CseqToMIDI() error = %v", err)
	}
	if !bytes.Equal(unrolled, plain[CseqHeaderSize:]) {
		t.Error("unrolled track differs from the uncompressed track")
	}
	fromPlain, err := CseqToMIDI(plain, &Options{NoCompression: true})
	if err != nil {
		t.Fatalf("CseqToMIDI(NoCompression) error = %v", err)
	}
	if !bytes.Equal(fromPacked, fromPlain) {
		t.Error("MIDI from the compressed file differs from MIDI from the uncompressed file")
	}

	_, tracks := readMIDI(t, fromPacked)
	ccs := filterStatus(tracks[0], 0xB0)
	want := [][]byte{
		{0xB0, 102, 0}, {0xB0, 104, 2}, {0xB0, 102, 1}, {0xB0, 104, 3}, {0xB0, 103, 1}, {0xB0, 103, 0},
	}
	if len(ccs) != len(want) {
		t.Fatalf("got %d controllers, want %d", len(ccs), len(want))
	}
	for i := range want {
		if !bytes.Equal(ccs[i].msg, want[i]) {
			t.Errorf("controller %d = % X, want % X", i, ccs[i].msg, want[i])
		}
	}
}

func buildSMF(t *testing.T, tracks ...smf.Track) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(480)
	for _, tr := range tracks {
		tr.Close(0)
		if err := s.Add(tr); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	return buf.Bytes()
}

func TestMIDIToCseqSlotsAndRoundTrip(t *testing.T) {
	var conductor smf.Track
	conductor.Add(0, smf.MetaTempo(120))

	var lead smf.Track
	for i := 0; i < 16; i++ {
		var delta uint32 = 120
		if i == 0 {
			delta = 0
		}
		lead.Add(delta, midi.NoteOn(3, 60+uint8(i%4), 100))
		lead.Add(120, midi.NoteOff(3, 60+uint8(i%4)))
	}

	var bass smf.Track
	bass.Add(0, midi.ProgramChange(3, 33))
	bass.Add(0, midi.NoteOn(3, 36, 90))
	bass.Add(960, midi.NoteOff(3, 36))

	in := buildSMF(t, conductor, lead, bass)

	out, err := MIDIToCseq(in, nil)
	if err != nil {
		t.Fatalf("MIDIToCseq() error = %v", err)
	}
	f, err := ParseCseqFile(out)
	if err != nil {
		t.Fatalf("ParseCseqFile() error = %v", err)
	}
	if f.Division != 480 {
		t.Errorf("Division = %d, want 480", f.Division)
	}
	// lead claims channel 3, the conductor and the colliding bass take free slots
	for _, slot := range []int{0, 1, 3} {
		if f.Offsets[slot] == 0 {
			t.Errorf("slot %d is empty", slot)
		}
	}
	if f.TrackCount() != 3 {
		t.Errorf("TrackCount() = %d, want 3", f.TrackCount())
	}

	mid, err := CseqToMIDI(out, nil)
	if err != nil {
		t.Fatalf("CseqToMIDI() error = %v", err)
	}
	_, tracks := readMIDI(t, mid)
	if len(tracks) != 3 {
		t.Fatalf("got %d tracks, want 3", len(tracks))
	}
	// slot order: conductor (0), bass (1), lead (3)
	ons := filterStatus(tracks[2], 0x90)
	offs := filterStatus(tracks[2], 0x80)
	if len(ons) != 16 || len(offs) != 16 {
		t.Fatalf("lead has %d note-ons and %d note-offs, want 16 each", len(ons), len(offs))
	}
	for i, on := range ons {
		if on.tick != uint64(i*240) || on.msg[1] != byte(60+i%4) {
			t.Errorf("note %d = % X at %d, want key %d at %d", i, on.msg, on.tick, 60+i%4, i*240)
		}
		if offs[i].tick != on.tick+120 {
			t.Errorf("note-off %d at %d, want %d", i, offs[i].tick, on.tick+120)
		}
	}
	bassOffs := filterStatus(tracks[1], 0x80)
	if len(bassOffs) != 1 || bassOffs[0].tick != 960 {
		t.Errorf("bass note-offs = %v, want one at 960", bassOffs)
	}
}

func TestMIDIToCseqCompresses(t *testing.T) {
	var lead smf.Track
	for i := 0; i < 32; i++ {
		lead.Add(0, midi.NoteOn(0, 60+uint8(i%3), 100))
		lead.Add(60, midi.NoteOff(0, 60+uint8(i%3)))
	}
	in := buildSMF(t, lead)

	packed, err := MIDIToCseq(in, nil)
	if err != nil {
		t.Fatalf("MIDIToCseq() error = %v", err)
	}
	plain, err := MIDIToCseq(in, &Options{NoCompression: true})
	if err != nil {
		t.Fatalf("MIDIToCseq(NoCompression) error = %v", err)
	}
	if len(packed) >= len(plain) {
		t.Errorf("compressed size %d, want less than %d", len(packed), len(plain))
	}

	var log bytes.Buffer
	var unrolled []byte
	opts := &Options{
		PatternLog: &log,
		PostUnroll: func(track int, data []byte) error {
			unrolled = data
			return nil
		},
	}
	if _, err := CseqToMIDI(packed, opts); err != nil {
		t.Fatalf("CseqToMIDI() error = %v", err)
	}
	if !bytes.Equal(unrolled, plain[CseqHeaderSize:]) {
		t.Error("unrolled track differs from the uncompressed track")
	}

	set, err := ParsePatternFile(&log)
	if err != nil {
		t.Fatalf("ParsePatternFile() error = %v", err)
	}
	replayed, err := MIDIToCseq(in, &Options{Patterns: set})
	if err != nil {
		t.Fatalf("MIDIToCseq(Patterns) error = %v", err)
	}
	if !bytes.Equal(replayed, packed) {
		t.Error("replaying the pattern log did not reproduce the compressed file")
	}
}

func TestMIDIToCseqErrors(t *testing.T) {
	format0 := []byte("MThd\x00\x00\x00\x06\x00\x00\x00\x01\x01\xE0MTrk\x00\x00\x00\x04\x00\xFF\x2F\x00")
	smpte := []byte("MThd\x00\x00\x00\x06\x00\x01\x00\x01\xE7\x28MTrk\x00\x00\x00\x04\x00\xFF\x2F\x00")
	badChunk := []byte("MThd\x00\x00\x00\x06\x00\x01\x00\x01\x01\xE0XTrk\x00\x00\x00\x04\x00\xFF\x2F\x00")
	pitchBend := []byte("MThd\x00\x00\x00\x06\x00\x01\x00\x01\x01\xE0MTrk\x00\x00\x00\x08\x00\xE0\x00\x40\x00\xFF\x2F\x00")

	var many []smf.Track
	for i := 0; i < 17; i++ {
		var tr smf.Track
		tr.Add(0, midi.NoteOn(uint8(i%16), 60, 100))
		tr.Add(10, midi.NoteOff(uint8(i%16), 60))
		many = append(many, tr)
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"format 0", format0, ErrUnsupportedFormat},
		{"smpte division", smpte, ErrUnsupportedFormat},
		{"bad chunk", badChunk, ErrBadChunk},
		{"pitch bend", pitchBend, ErrUnsupportedCommand},
		{"too many tracks", buildSMF(t, many...), ErrTooManyTracks},
		{"truncated", []byte("MThd"), ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MIDIToCseq(tt.data, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("MIDIToCseq() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
