package converter

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/james-see/cseq2midi/pkg/gmid"
)

// cseqFile lays out uncompressed track bodies behind a cseq header.
func cseqFile(division uint32, tracks map[int][]byte) []byte {
	f := gmid.NewCseqFile(division)
	for slot := 0; slot < gmid.CseqTrackCount; slot++ {
		body, ok := tracks[slot]
		if !ok {
			continue
		}
		f.Offsets[slot] = uint32(len(f.Data))
		f.Data = append(f.Data, body...)
	}
	return f.Bytes()
}

// one note on channel 0 lasting 96 ticks, then end of track
var singleNote = []byte{0x00, 0x90, 0x3C, 0x40, 0x60, 0x60, 0xFF, 0x2F}

// loop #0 repeated 4 times around 20 notes
func loopBody() []byte {
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

func smfBytes(t *testing.T, tracks ...smf.Track) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(96)
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

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		expected Format
	}{
		{"test.mid", FormatMIDI},
		{"test.MIDI", FormatMIDI},
		{"test.seq", FormatCseq},
		{"test.cseq", FormatCseq},
		{"test.bin", FormatCseq},
		{"sounds/bank.sbk", FormatSbk},
		{"bank.inst", FormatInst},
		{"kick.coef", FormatCoef},
		{"test.txt", FormatUnknown},
		{"test", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			result := DetectFormat(tt.filename)
			if result != tt.expected {
				t.Errorf("DetectFormat(%q) = %v, want %v", tt.filename, result, tt.expected)
			}
		})
	}
}

func TestDetectFormatFromContent(t *testing.T) {
	badOffset := cseqFile(480, map[int][]byte{0: singleNote})
	badOffset[3] = 0xF0

	tests := []struct {
		name     string
		data     []byte
		expected Format
	}{
		{"MIDI file", []byte("MThd\x00\x00\x00\x06"), FormatMIDI},
		{"cseq file", cseqFile(480, map[int][]byte{2: singleNote}), FormatCseq},
		{"cseq offset past end", badOffset, FormatUnknown},
		{"empty cseq header", make([]byte, gmid.CseqHeaderSize+4), FormatUnknown},
		{"short data", []byte{0x00, 0x01}, FormatUnknown},
		{"text", []byte("hello world"), FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DetectFormatFromContent(tt.data)
			if result != tt.expected {
				t.Errorf("DetectFormatFromContent() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestConverterOptions(t *testing.T) {
	conv := New(Options{NoCompression: true})
	if !conv.GetOptions().NoCompression {
		t.Error("GetOptions() lost NoCompression")
	}
	conv.SetOptions(Options{})
	if conv.GetOptions().NoCompression {
		t.Error("SetOptions() did not replace the options")
	}
	if got := conv.gmidOptions(); got.NoCompression || got.Patterns != nil {
		t.Errorf("gmidOptions() = %+v, want zero options", got)
	}
}

func TestCseqToMIDIInspect(t *testing.T) {
	conv := New(Options{})
	out, err := conv.CseqToMIDI(cseqFile(480, map[int][]byte{0: singleNote, 5: loopBody()}))
	if err != nil {
		t.Fatalf("CseqToMIDI() error = %v", err)
	}

	sum, err := Inspect(out)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if sum.Resolution != 480 {
		t.Errorf("Resolution = %d, want 480", sum.Resolution)
	}
	if len(sum.Tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(sum.Tracks))
	}
	if sum.Tracks[0].NoteOns != 1 || sum.Tracks[0].NoteOffs != 1 {
		t.Errorf("track 0 notes = %d on / %d off, want 1 / 1", sum.Tracks[0].NoteOns, sum.Tracks[0].NoteOffs)
	}
	if sum.Tracks[1].Channel != 0 {
		t.Errorf("track 1 channel = %d, want 0", sum.Tracks[1].Channel)
	}
	if sum.NoteOns != 22 || sum.NoteOffs != 22 {
		t.Errorf("notes = %d on / %d off, want 22 / 22", sum.NoteOns, sum.NoteOffs)
	}
	if sum.LoopStarts != 1 || sum.LoopEnds != 1 || sum.LoopCounts != 1 {
		t.Errorf("loop controllers = %d/%d/%d, want 1/1/1", sum.LoopStarts, sum.LoopEnds, sum.LoopCounts)
	}
}

func TestInspectErrors(t *testing.T) {
	if _, err := Inspect([]byte("not a midi file")); err == nil {
		t.Error("Inspect() error = nil for garbage input")
	}
}

func TestInspectTempo(t *testing.T) {
	var conductor smf.Track
	conductor.Add(0, smf.MetaTempo(150))
	var lead smf.Track
	lead.Add(0, midi.NoteOn(9, 36, 100))
	lead.Add(24, midi.NoteOff(9, 36))

	sum, err := Inspect(smfBytes(t, conductor, lead))
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if sum.TempoBPM < 149.9 || sum.TempoBPM > 150.1 {
		t.Errorf("TempoBPM = %v, want 150", sum.TempoBPM)
	}
	if sum.Tracks[0].Channel != -1 || sum.Tracks[1].Channel != 9 {
		t.Errorf("channels = %d, %d, want -1, 9", sum.Tracks[0].Channel, sum.Tracks[1].Channel)
	}
	if sum.Tracks[1].Ticks != 24 {
		t.Errorf("track 1 ticks = %d, want 24", sum.Tracks[1].Ticks)
	}
}

func TestInspectCseq(t *testing.T) {
	data := cseqFile(96, map[int][]byte{3: singleNote, 7: loopBody()})
	sum, err := InspectCseq(data)
	if err != nil {
		t.Fatalf("InspectCseq() error = %v", err)
	}
	if sum.Division != 96 || sum.Size != len(data) {
		t.Errorf("summary = %+v, want division 96 and size %d", sum, len(data))
	}
	want := []CseqTrack{
		{Slot: 3, Offset: gmid.CseqHeaderSize, Length: len(singleNote)},
		{Slot: 7, Offset: gmid.CseqHeaderSize + uint32(len(singleNote)), Length: len(loopBody())},
	}
	if len(sum.Tracks) != len(want) {
		t.Fatalf("Tracks = %+v, want %+v", sum.Tracks, want)
	}
	for i := range want {
		if sum.Tracks[i] != want[i] {
			t.Errorf("Tracks[%d] = %+v, want %+v", i, sum.Tracks[i], want[i])
		}
	}
	if err := ValidateCseq(data); err != nil {
		t.Errorf("ValidateCseq() error = %v", err)
	}
}

func TestValidateCseqErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short header", []byte{0, 0, 0}},
		{"dangling escape", cseqFile(96, map[int][]byte{0: {0x00, 0xFE}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateCseq(tt.data); err == nil {
				t.Error("ValidateCseq() error = nil")
			}
		})
	}
}

func TestConvertFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "song.seq")
	if err := os.WriteFile(in, cseqFile(480, map[int][]byte{0: singleNote}), 0644); err != nil {
		t.Fatal(err)
	}

	conv := New(Options{})
	mid := filepath.Join(dir, "song.mid")
	if err := conv.ConvertFile(in, mid); err != nil {
		t.Fatalf("ConvertFile(seq, mid) error = %v", err)
	}
	back := filepath.Join(dir, "back.cseq")
	if err := conv.ConvertFile(mid, back); err != nil {
		t.Fatalf("ConvertFile(mid, cseq) error = %v", err)
	}

	data, err := os.ReadFile(back)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := InspectCseq(data)
	if err != nil {
		t.Fatalf("InspectCseq() error = %v", err)
	}
	if sum.Division != 480 || len(sum.Tracks) != 1 || sum.Tracks[0].Slot != 0 {
		t.Errorf("round trip summary = %+v, want one track in slot 0 at division 480", sum)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want only the three converted files", names)
	}
}

func TestConvertFileContentDetection(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "rom_dump")
	if err := os.WriteFile(in, cseqFile(480, map[int][]byte{1: singleNote}), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.mid")
	if err := New(Options{}).ConvertFile(in, out); err != nil {
		t.Fatalf("ConvertFile() error = %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestConvertFileErrors(t *testing.T) {
	dir := t.TempDir()
	seq := filepath.Join(dir, "in.seq")
	if err := os.WriteFile(seq, cseqFile(480, map[int][]byte{0: singleNote}), 0644); err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(dir, "broken.mid")
	if err := os.WriteFile(broken, []byte("MThd\x00\x00\x00\x06\x00\x00"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		in, out string
		wantErr string
	}{
		{"missing input", filepath.Join(dir, "nope.seq"), filepath.Join(dir, "x.mid"), "failed to read input"},
		{"unknown output", seq, filepath.Join(dir, "x.txt"), "output format"},
		{"same format", seq, filepath.Join(dir, "x.bin"), "unsupported conversion"},
		{"soundbank output", seq, filepath.Join(dir, "x.sbk"), "unsupported conversion"},
		{"bad midi", broken, filepath.Join(dir, "x.seq"), "conversion failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(Options{}).ConvertFile(tt.in, tt.out)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ConvertFile() error = %v, want %q", err, tt.wantErr)
			}
			if _, statErr := os.Stat(tt.out); statErr == nil {
				t.Errorf("output %s written despite error", tt.out)
			}
		})
	}
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mid")
	if err := os.WriteFile(path, []byte("old contents"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("new")); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("file = %q, want %q", got, "new")
	}
}

func TestGetSupportedConversions(t *testing.T) {
	conversions := GetSupportedConversions()
	expected := []string{"cseq -> midi", "midi -> cseq"}
	if len(conversions) != len(expected) {
		t.Fatalf("GetSupportedConversions() returned %d conversions, want %d", len(conversions), len(expected))
	}
	for i, exp := range expected {
		if conversions[i] != exp {
			t.Errorf("conversions[%d] = %q, want %q", i, conversions[i], exp)
		}
	}
}
