package converter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/james-see/cseq2midi/pkg/gmid"
)

// DetectFormat detects the format of a file based on its extension
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mid", ".midi":
		return FormatMIDI
	case ".seq", ".cseq", ".bin":
		return FormatCseq
	case ".sbk":
		return FormatSbk
	case ".inst":
		return FormatInst
	case ".coef":
		return FormatCoef
	default:
		return FormatUnknown
	}
}

// DetectFormatFromContent detects format from file content
func DetectFormatFromContent(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}

	// Check for MIDI file signature "MThd"
	if string(data[:4]) == "MThd" {
		return FormatMIDI
	}

	if looksLikeCseq(data) {
		return FormatCseq
	}
	return FormatUnknown
}

// looksLikeCseq reports whether data starts with a cseq header whose track
// offsets all point into the file.
func looksLikeCseq(data []byte) bool {
	if len(data) < gmid.CseqHeaderSize {
		return false
	}
	tracks := 0
	for i := 0; i < gmid.CseqTrackCount; i++ {
		off := binary.BigEndian.Uint32(data[i*4:])
		if off == 0 {
			continue
		}
		if off < gmid.CseqHeaderSize || int64(off) >= int64(len(data)) {
			return false
		}
		tracks++
	}
	return tracks > 0
}

// ConvertFile converts a file from one format to another. The output is
// written to a temporary file next to outputPath and renamed into place once
// complete.
func (c *Converter) ConvertFile(inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	inputFormat := DetectFormat(inputPath)
	if inputFormat == FormatUnknown {
		inputFormat = DetectFormatFromContent(data)
	}
	outputFormat := DetectFormat(outputPath)
	if outputFormat == FormatUnknown {
		return errors.New("cannot determine output format from filename")
	}

	var outputData []byte
	switch {
	case inputFormat == FormatCseq && outputFormat == FormatMIDI:
		outputData, err = c.CseqToMIDI(data)
	case inputFormat == FormatMIDI && outputFormat == FormatCseq:
		outputData, err = c.MIDIToCseq(data)
	default:
		return fmt.Errorf("unsupported conversion: %s to %s", inputFormat, outputFormat)
	}
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	if err := WriteFileAtomic(outputPath, outputData); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// CseqToMIDI converts cseq data to a format 1 MIDI file
func (c *Converter) CseqToMIDI(cseqData []byte) ([]byte, error) {
	return gmid.CseqToMIDI(cseqData, c.gmidOptions())
}

// MIDIToCseq converts a format 1 MIDI file to cseq data
func (c *Converter) MIDIToCseq(midiData []byte) ([]byte, error) {
	return gmid.MIDIToCseq(midiData, c.gmidOptions())
}

// WriteFileAtomic writes data to a temporary file in the directory of path
// and renames it to path. Nothing is left behind on failure.
func WriteFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// GetSupportedConversions returns a list of supported conversion paths
func GetSupportedConversions() []string {
	return []string{
		"cseq -> midi",
		"midi -> cseq",
	}
}
