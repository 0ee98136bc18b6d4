// Package text holds the position and range arithmetic shared by the sync
// engine. Positions count lines and UTF-16 code units, as LSP does.
package text

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Position is a zero-based line and a character offset on that line counted in
// UTF-16 code units, the unit LSP clients use.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Compare returns -1, 0 or 1 depending on whether p is before, equal to or after q.
func (p Position) Compare(q Position) int {
	switch {
	case p.Line < q.Line:
		return -1
	case p.Line > q.Line:
		return 1
	case p.Character < q.Character:
		return -1
	case p.Character > q.Character:
		return 1
	}
	return 0
}

func (p Position) Before(q Position) bool { return p.Compare(q) < 0 }
func (p Position) After(q Position) bool  { return p.Compare(q) > 0 }

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

// Range is a half-open interval [Start, End).
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

func (r Range) IsSingleLine() bool { return r.Start.Line == r.End.Line }

// Contains reports whether o lies inside r, boundaries included.
func (r Range) Contains(o Range) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End)
}

// Change is one entry of an edit notification. A nil Range means Text replaced
// the whole document.
type Change struct {
	Range *Range
	Text  string
}

// lineStarts returns the byte offset of the first byte of every line. Lines are
// separated by \r\n, \r or \n.
func lineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\r':
			if i+1 < len(content) && content[i+1] == '\n' {
				i++
			}
			starts = append(starts, i+1)
		case '\n':
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineEnd returns the byte offset just before the line break ending line.
func lineEnd(content string, starts []int, line int) int {
	if line+1 >= len(starts) {
		return len(content)
	}
	end := starts[line+1]
	if end > 0 && content[end-1] == '\n' {
		end--
	}
	if end > starts[line] && content[end-1] == '\r' {
		end--
	}
	return end
}

// SplitLines splits content into lines without their line breaks. It always
// returns at least one (possibly empty) line.
func SplitLines(content string) []string {
	starts := lineStarts(content)
	lines := make([]string, len(starts))
	for i := range starts {
		lines[i] = content[starts[i]:lineEnd(content, starts, i)]
	}
	return lines
}

// LineCount returns the number of lines in content. Empty content has one line.
func LineCount(content string) int {
	return len(lineStarts(content))
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Extent returns the position just past the last character of content.
func Extent(content string) Position {
	lines := SplitLines(content)
	return Position{Line: len(lines) - 1, Character: UTF16Len(lines[len(lines)-1])}
}

// Full returns the range covering all of content.
func Full(content string) Range {
	return Range{End: Extent(content)}
}

// InBounds reports whether r is ordered and lies within content.
func InBounds(content string, r Range) bool {
	if r.Start.Line < 0 || r.Start.Character < 0 || r.End.Before(r.Start) {
		return false
	}
	return !r.End.After(Extent(content))
}

// OffsetAt converts pos to a byte offset into content. Lines past the end clamp
// to the end of content and characters past the end of a line clamp to the end
// of that line.
func OffsetAt(content string, pos Position) int {
	starts := lineStarts(content)
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(starts) {
		return len(content)
	}
	start := starts[pos.Line]
	end := lineEnd(content, starts, pos.Line)

	offset := start
	units := 0
	for offset < end && units < pos.Character {
		r, w := utf8.DecodeRuneInString(content[offset:end])
		n := 1
		if r > 0xFFFF {
			n = 2
		}
		if units+n > pos.Character {
			break
		}
		units += n
		offset += w
	}
	return offset
}

// PositionAt converts a byte offset into content to a Position.
func PositionAt(content string, offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(content) {
		offset = len(content)
	}
	starts := lineStarts(content)
	line := sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
	end := lineEnd(content, starts, line)
	if offset > end {
		offset = end
	}
	for offset > starts[line] && offset < len(content) && !utf8.RuneStart(content[offset]) {
		offset--
	}
	return Position{Line: line, Character: UTF16Len(content[starts[line]:offset])}
}

// Slice returns the text of content covered by r.
func Slice(content string, r Range) string {
	start := OffsetAt(content, r.Start)
	end := OffsetAt(content, r.End)
	if end < start {
		return ""
	}
	return content[start:end]
}

// Replace returns content with the text covered by r replaced by newText.
func Replace(content string, r Range, newText string) string {
	start := OffsetAt(content, r.Start)
	end := OffsetAt(content, r.End)
	if end < start {
		end = start
	}
	return content[:start] + newText + content[end:]
}

// Apply applies changes in order and returns the resulting content.
func Apply(content string, changes []Change) string {
	for _, c := range changes {
		if c.Range == nil {
			content = c.Text
			continue
		}
		content = Replace(content, *c.Range, c.Text)
	}
	return content
}
