package gmid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Pattern compression constants.
const (
	// EscapeByte introduces a pattern marker; a literal 0xFE is written twice.
	EscapeByte = 0xFE
	// MaxPatternDistance keeps the high distance byte below EscapeByte.
	MaxPatternDistance = 0xFDFF
	MaxPatternLength   = 0xFF
	// MinPatternLength is the shortest run worth replacing with a marker.
	MinPatternLength = 7
	// patternMarkerSize is the compressed size of a back-reference.
	patternMarkerSize = 4
	// maxStalls is how many consecutive stale entries a replayed pattern list may
	// contain before rolling gives up.
	maxStalls = 5
)

// PatternMatch is one back-reference in a compressed cseq track. Pos is the
// position in the uncompressed track data, Diff the distance from the marker
// back to the referenced bytes in the output file, Length the run length.
type PatternMatch struct {
	Track  int
	Pos    int
	Diff   int
	Length int
}

func (m PatternMatch) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", m.Track, m.Pos, m.Diff, m.Length)
}

// roller writes one uncompressed cseq track into a cseq file buffer, replacing
// runs with back-references and escaping literal 0xFE bytes. Loop end offsets
// are corrected for the size changes inside the loop as they are passed.
type roller struct {
	out       []byte
	base      int
	data      []byte
	protected []bool
	spans     []*loopSpan
	heads     [256][]int
	commit    bool
}

// newRoller prepares to append t's serialized cseq data to out. Patterns may
// reference any byte of out from base onwards. When commit is set, finalized
// loop offsets are written back to the loop end events.
func newRoller(out []byte, base int, t *Track, commit bool) *roller {
	r := &roller{
		out:    out,
		base:   base,
		data:   append([]byte(nil), t.Data...),
		commit: commit,
	}
	r.spans, r.protected = t.loopSpans(len(r.data))
	for i := base; i < len(out); i++ {
		r.heads[out[i]] = append(r.heads[out[i]], i)
	}
	return r
}

func (r *roller) push(b byte) {
	r.heads[b] = append(r.heads[b], len(r.out))
	r.out = append(r.out, b)
}

// adjust records a size change for a construct at data position pos in every
// open loop covering it.
func (r *roller) adjust(pos int, delta int64) {
	for _, s := range r.spans {
		if !s.done && s.start <= pos && pos < s.end {
			s.value += delta
		}
	}
}

func countEscapes(v uint32) int64 {
	var n int64
	for i := 0; i < 4; i++ {
		if byte(v>>(8*uint(i))) == EscapeByte {
			n++
		}
	}
	return n
}

// finalize writes the final offset of any loop end whose offset field starts
// at pos. The offset bytes themselves may need escaping, which makes the value
// depend on itself; it is settled by iteration.
func (r *roller) finalize(pos int) error {
	for _, s := range r.spans {
		if s.done || s.offsetPos != pos {
			continue
		}
		c := s.value
		settled := false
		for i := 0; i < 8; i++ {
			if c < 0 || c > 0xFFFFFFFF {
				break
			}
			next := s.value + countEscapes(uint32(c))
			if next == c {
				settled = true
				break
			}
			c = next
		}
		if !settled {
			return fmt.Errorf("%w: cannot settle compressed offset of %s", ErrLoopMismatch, s.event)
		}
		binary.BigEndian.PutUint32(r.data[pos:pos+4], uint32(c))
		s.done = true
		if r.commit {
			s.event.SetLoopOffset(uint32(c))
		}
	}
	return nil
}

func (r *roller) literal(pos int) error {
	if err := r.finalize(pos); err != nil {
		return err
	}
	b := r.data[pos]
	if b == EscapeByte {
		r.adjust(pos, 1)
		r.push(EscapeByte)
	}
	r.push(b)
	return nil
}

func (r *roller) reference(m PatternMatch) error {
	q := len(r.out)
	src := q - m.Diff
	switch {
	case m.Length <= 0 || m.Length > MaxPatternLength:
		return fmt.Errorf("%w: length %d", ErrPatternMismatch, m.Length)
	case m.Diff <= 0 || m.Diff > MaxPatternDistance:
		return fmt.Errorf("%w: distance %d", ErrPatternMismatch, m.Diff)
	case src < r.base || src+m.Length > q:
		return fmt.Errorf("%w: %s references bytes outside the window", ErrPatternMismatch, m)
	case m.Pos+m.Length > len(r.data):
		return fmt.Errorf("%w: %s runs past the end of the track", ErrPatternMismatch, m)
	}
	for p := m.Pos; p < m.Pos+m.Length; p++ {
		if r.protected[p] {
			return fmt.Errorf("%w: %s covers a loop marker", ErrPatternMismatch, m)
		}
	}
	if !bytes.Equal(r.out[src:src+m.Length], r.data[m.Pos:m.Pos+m.Length]) {
		return fmt.Errorf("%w: %s", ErrPatternMismatch, m)
	}
	r.adjust(m.Pos, int64(patternMarkerSize-m.Length))
	r.push(EscapeByte)
	r.push(byte(m.Diff >> 8))
	r.push(byte(m.Diff))
	r.push(byte(m.Length))
	return nil
}

// find returns the first back-reference for data at pos, scanning the window
// from its oldest byte. Runs never include 0xFF or loop marker bytes and never
// start on an escape byte.
func (r *roller) find(pos int) (PatternMatch, bool) {
	b := r.data[pos]
	if b == EscapeByte || b == 0xFF || r.protected[pos] {
		return PatternMatch{}, false
	}
	q := len(r.out)
	lo := q - MaxPatternDistance
	if lo < r.base {
		lo = r.base
	}
	cands := r.heads[b]
	for i := sort.SearchInts(cands, lo); i < len(cands); i++ {
		j := cands[i]
		n := 0
		for n < MaxPatternLength && pos+n < len(r.data) && j+n < q {
			x := r.data[pos+n]
			if x != r.out[j+n] || x == 0xFF || r.protected[pos+n] {
				break
			}
			n++
		}
		if n >= MinPatternLength {
			return PatternMatch{Pos: pos, Diff: q - j, Length: n}, true
		}
	}
	return PatternMatch{}, false
}

// FindPatterns computes the back-references to use when appending t to out.
// t.Data must be the track's serialized cseq form. out is not modified.
func FindPatterns(out []byte, base int, t *Track) ([]PatternMatch, error) {
	r := newRoller(append([]byte(nil), out...), base, t, false)
	var matches []PatternMatch
	for pos := 0; pos < len(r.data); {
		if m, ok := r.find(pos); ok {
			m.Track = t.CseqIndex
			if err := r.reference(m); err != nil {
				return nil, err
			}
			matches = append(matches, m)
			pos += m.Length
			continue
		}
		if err := r.literal(pos); err != nil {
			return nil, err
		}
		pos++
	}
	return matches, nil
}

// Roll appends the compressed form of t to out using the given
// back-references, sorted by Pos. Loop end offsets in t are rewritten to their
// compressed values.
func Roll(out []byte, base int, t *Track, matches []PatternMatch) ([]byte, error) {
	r := newRoller(out, base, t, true)
	mi, stalls := 0, 0
	for pos := 0; pos < len(r.data); {
		if mi < len(matches) {
			m := matches[mi]
			if m.Pos < pos {
				mi++
				stalls++
				if stalls >= maxStalls {
					return nil, fmt.Errorf("%w: track %d at position %d", ErrNoProgress, t.CseqIndex, pos)
				}
				continue
			}
			if m.Pos == pos {
				if err := r.reference(m); err != nil {
					return nil, err
				}
				mi++
				stalls = 0
				pos += m.Length
				continue
			}
		}
		if err := r.literal(pos); err != nil {
			return nil, err
		}
		stalls = 0
		pos++
	}
	if mi < len(matches) {
		return nil, fmt.Errorf("%w: %s lies beyond the end of track %d", ErrPatternMismatch, matches[mi], t.CseqIndex)
	}
	return r.out, nil
}
