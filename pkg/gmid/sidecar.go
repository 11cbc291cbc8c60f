package gmid

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// PatternSet holds back-references per cseq track slot.
type PatternSet map[int][]PatternMatch

// ParsePatternFile reads a pattern list. Each non-blank line holds four
// decimal integers, track, position, distance and length, separated by commas
// or whitespace. Each track's list is returned sorted by position.
func ParsePatternFile(r io.Reader) (PatternSet, error) {
	set := make(PatternSet)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.FieldsFunc(text, func(c rune) bool {
			return c == ',' || unicode.IsSpace(c)
		})
		if len(fields) != 4 {
			return nil, fmt.Errorf("pattern file line %d: want 4 fields, got %d", line, len(fields))
		}
		var v [4]int
		for i, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("pattern file line %d: field %d: %w", line, i+1, err)
			}
			v[i] = n
		}
		if v[0] < 0 || v[0] >= CseqTrackCount {
			return nil, fmt.Errorf("pattern file line %d: track %d out of range", line, v[0])
		}
		m := PatternMatch{Track: v[0], Pos: v[1], Diff: v[2], Length: v[3]}
		set[m.Track] = append(set[m.Track], m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("pattern file line %d: %w", line+1, err)
	}
	for _, ms := range set {
		sort.SliceStable(ms, func(i, j int) bool { return ms[i].Pos < ms[j].Pos })
	}
	return set, nil
}

// WritePatterns writes matches one per line in the format ParsePatternFile reads.
func WritePatterns(w io.Writer, matches []PatternMatch) error {
	bw := bufio.NewWriter(w)
	for _, m := range matches {
		if _, err := fmt.Fprintln(bw, m.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
