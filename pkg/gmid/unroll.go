package gmid

import (
	"encoding/binary"
	"fmt"
)

// loopCandidate is a loop start position in the unrolled output, with the
// frame's growth at the time it was seen.
type loopCandidate struct {
	pos      int
	growthAt int
}

// loopFrame tracks the size difference between unrolled and compressed bytes
// since a loop start. Consecutive starts for the same loop number share a
// frame, since only one of them is the real target of the loop end.
type loopFrame struct {
	loop   int
	growth int
	cands  []loopCandidate
}

// markerScanner recognizes loop markers in the unrolled byte stream as it is
// produced: FF 2E n FF for a loop start and FF 2D followed by six bytes for a
// loop end.
type markerScanner struct {
	start     int
	startLoop byte
	end       int
}

// feed advances the scanner by one byte and reports a completed marker.
func (s *markerScanner) feed(b byte) (loopStart bool, loop int, loopEnd bool) {
	switch s.start {
	case 0:
		if b == 0xFF {
			s.start = 1
		}
	case 1:
		switch b {
		case MetaLoopStart:
			s.start = 2
		case 0xFF:
		default:
			s.start = 0
		}
	case 2:
		s.startLoop = b
		s.start = 3
	case 3:
		s.start = 0
		if b == 0xFF {
			loopStart, loop = true, int(s.startLoop)
		}
	}

	switch {
	case s.end == 0:
		if b == 0xFF {
			s.end = 1
		}
	case s.end == 1:
		switch b {
		case MetaLoopEnd:
			s.end = 2
		case 0xFF:
		default:
			s.end = 0
		}
	default:
		s.end++
		if s.end == 8 {
			s.end = 0
			loopEnd = true
		}
	}
	return loopStart, loop, loopEnd
}

type unroller struct {
	out      []byte
	scan     markerScanner
	frames   []*loopFrame
	lastLoop int
	track    int
}

func (u *unroller) grow(n int) {
	for _, f := range u.frames {
		f.growth += n
	}
}

func (u *unroller) emit(b byte) error {
	u.out = append(u.out, b)
	isStart, loop, isEnd := u.scan.feed(b)
	if isStart {
		u.loopStart(loop)
	}
	if isEnd {
		return u.loopEnd()
	}
	return nil
}

func (u *unroller) loopStart(loop int) {
	pos := len(u.out)
	if n := len(u.frames); n > 0 && u.lastLoop == loop {
		top := u.frames[n-1]
		top.cands = append(top.cands, loopCandidate{pos: pos, growthAt: top.growth})
		return
	}
	u.frames = append(u.frames, &loopFrame{loop: loop, cands: []loopCandidate{{pos: pos}}})
	u.lastLoop = loop
}

// loopEnd rewrites the offset of the loop end just completed from its
// compressed value to its unrolled value.
func (u *unroller) loopEnd() error {
	pos := len(u.out)
	field := u.out[pos-4 : pos]
	stored := int(binary.BigEndian.Uint32(field))
	u.lastLoop = -1
	for fi := len(u.frames) - 1; fi >= 0; fi-- {
		f := u.frames[fi]
		for ci, c := range f.cands {
			adj := stored + f.growth - c.growthAt
			if adj != pos-c.pos {
				continue
			}
			binary.BigEndian.PutUint32(field, uint32(adj))
			f.cands = append(f.cands[:ci], f.cands[ci+1:]...)
			if len(f.cands) == 0 {
				u.frames = append(u.frames[:fi], u.frames[fi+1:]...)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: track %d loop end at %d (offset %d) matches no loop start",
		ErrLoopMismatch, u.track, pos, stored)
}

// Unroll expands the compressed cseq track stored at file[start:start+length]
// into plain cseq event bytes. Back-references may point anywhere earlier in
// file. Loop end offsets are rewritten for the unrolled data. The
// back-references found are returned in the order they were expanded.
func Unroll(file []byte, start, length, track int) ([]byte, []PatternMatch, error) {
	end := start + length
	if start < 0 || length < 0 || end > len(file) {
		return nil, nil, fmt.Errorf("%w: track %d at %d+%d exceeds file size %d", ErrTruncated, track, start, length, len(file))
	}
	u := &unroller{out: make([]byte, 0, length+length/2), lastLoop: -1, track: track}
	var log []PatternMatch
	for p := start; p < end; {
		b := file[p]
		if b != EscapeByte {
			if err := u.emit(b); err != nil {
				return nil, nil, err
			}
			p++
			continue
		}
		if p+1 >= end {
			return nil, nil, fmt.Errorf("%w: escape at end of track %d", ErrTruncated, track)
		}
		if file[p+1] == EscapeByte {
			u.grow(-1)
			if err := u.emit(EscapeByte); err != nil {
				return nil, nil, err
			}
			p += 2
			continue
		}
		if p+3 >= end {
			return nil, nil, fmt.Errorf("%w: pattern marker at end of track %d", ErrTruncated, track)
		}
		diff := int(file[p+1])<<8 | int(file[p+2])
		n := int(file[p+3])
		src := p - diff
		if diff == 0 || src < 0 || src+n > p {
			return nil, nil, fmt.Errorf("%w: track %d marker at %d references %d bytes at distance %d",
				ErrPatternMismatch, track, p, n, diff)
		}
		log = append(log, PatternMatch{Track: track, Pos: len(u.out), Diff: diff, Length: n})
		for k := 0; k < n; k++ {
			if err := u.emit(file[src+k]); err != nil {
				return nil, nil, err
			}
		}
		u.grow(n - patternMarkerSize)
		p += patternMarkerSize
	}
	return u.out, log, nil
}

// CopyTrack returns the track stored at file[start:start+length] unchanged,
// for files written without compression.
func CopyTrack(file []byte, start, length int) ([]byte, error) {
	end := start + length
	if start < 0 || length < 0 || end > len(file) {
		return nil, fmt.Errorf("%w: track at %d+%d exceeds file size %d", ErrTruncated, start, length, len(file))
	}
	return append([]byte(nil), file[start:end]...), nil
}
