// Package track keeps a host-document range pointed at the same text while the
// host is edited around or inside it.
package track

import (
	"errors"
	"fmt"
	"subdoc/internal/text"
)

// ErrUntrackable is returned for an edit that crosses a boundary of the tracked
// range. The range can no longer be located without re-parsing the host.
var ErrUntrackable = errors.New("edit crosses the tracked range boundary")

// Edit replaces Range (host coordinates) with Text.
type Edit struct {
	Range text.Range
	Text  string
}

// Relation is where an edit sits relative to the tracked range.
type Relation int

const (
	// After the range: nothing moves.
	After Relation = iota
	// Before the range: the range shifts.
	Before
	// Inside the range, boundaries included: the end moves.
	Inside
	// Overlap crosses a boundary and cannot be tracked.
	Overlap
)

func (r Relation) String() string {
	switch r {
	case After:
		return "after"
	case Before:
		return "before"
	case Inside:
		return "inside"
	default:
		return "overlap"
	}
}

// Classify relates an edit to the tracked range r. Containment is checked first
// so an empty insertion at either boundary counts as inside. An edit that only
// touches a boundary from the outside does not overlap any tracked character.
func Classify(r text.Range, e Edit) Relation {
	switch {
	case r.Contains(e.Range):
		return Inside
	case !e.Range.End.After(r.Start):
		return Before
	case !e.Range.Start.Before(r.End):
		return After
	default:
		return Overlap
	}
}

// delta returns how far a position on or below the end of e moves when e is
// applied. anchor only decides whether the character delta applies: positions
// on a later line than the edit's end keep their column.
func delta(anchor text.Position, e Edit) (lines, chars int) {
	inserted := text.SplitLines(e.Text)
	lines = len(inserted) - (e.Range.End.Line - e.Range.Start.Line + 1)
	if e.Range.End.Line < anchor.Line {
		return lines, 0
	}
	chars = text.UTF16Len(inserted[len(inserted)-1]) - (e.Range.End.Character - e.Range.Start.Character)
	if len(inserted) > 1 {
		// The rest of the line now starts at column zero.
		chars -= e.Range.Start.Character
	}
	return lines, chars
}

// Adjust returns r moved to account for e. The boolean reports whether e changed
// the tracked text itself.
func Adjust(r text.Range, e Edit) (text.Range, bool, error) {
	switch Classify(r, e) {
	case After:
		return r, false, nil

	case Before:
		lines, chars := delta(r.Start, e)
		adjusted := text.Range{
			Start: text.Position{Line: r.Start.Line + lines, Character: r.Start.Character + chars},
			End:   text.Position{Line: r.End.Line + lines, Character: r.End.Character},
		}
		// Both ends share a line until the range spans several.
		if r.IsSingleLine() {
			adjusted.End.Character += chars
		}
		return adjusted, false, nil

	case Inside:
		lines, chars := delta(r.End, e)
		return text.Range{
			Start: r.Start,
			End:   text.Position{Line: r.End.Line + lines, Character: r.End.Character + chars},
		}, true, nil

	default:
		return r, false, fmt.Errorf("%w: %s overlaps %s", ErrUntrackable, e.Range, r)
	}
}

// AdjustAll applies edits in order. A single untrackable edit fails the batch.
func AdjustAll(r text.Range, edits []Edit) (text.Range, bool, error) {
	cur, touched := r, false
	for _, e := range edits {
		next, inside, err := Adjust(cur, e)
		if err != nil {
			return r, false, err
		}
		cur = next
		touched = touched || inside
	}
	return cur, touched, nil
}

// Fit returns the range starting at start that exactly covers content once
// content has been written there.
func Fit(start text.Position, content string) text.Range {
	lines := text.SplitLines(content)
	end := text.Position{
		Line:      start.Line + len(lines) - 1,
		Character: text.UTF16Len(lines[len(lines)-1]),
	}
	if len(lines) == 1 {
		end.Character += start.Character
	}
	return text.Range{Start: start, End: end}
}
