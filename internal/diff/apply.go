package diff

import (
	"bytes"
	"fmt"
	"sort"
)

// Apply reconstructs the modified text by replaying hunks on top of
// original. Hunks must address original coordinates and must not
// overlap; Apply(a, Diff(a, b)) yields exactly b.
func Apply(original string, hunks []Hunk) (string, error) {
	ordered := make([]Hunk, len(hunks))
	copy(ordered, hunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartLine < ordered[j].StartLine
	})

	lines := splitLines(original)
	var out []string
	cursor := 0 // next original line to copy, 0-based

	for _, hunk := range ordered {
		spanStart := hunk.StartLine - 1
		spanEnd := hunk.EndLine // exclusive when 0-based

		if spanStart < cursor {
			return "", fmt.Errorf("hunk at line %d overlaps a previous hunk", hunk.StartLine)
		}
		if spanStart > len(lines) || spanEnd > len(lines) {
			return "", fmt.Errorf("hunk at line %d is out of range", hunk.StartLine)
		}

		out = append(out, lines[cursor:spanStart]...)
		out = append(out, splitLines(hunk.NewText)...)
		cursor = spanEnd
	}

	out = append(out, lines[cursor:]...)
	return joinLines(out), nil
}

// Overlaps reports whether two hunks touch intersecting line ranges of
// the original. An added hunk occupies its insertion point, so two
// insertions at the same line count as overlapping.
func Overlaps(a, b Hunk) bool {
	aEnd := max(a.EndLine, a.StartLine)
	bEnd := max(b.EndLine, b.StartLine)
	return a.StartLine <= bEnd && b.StartLine <= aEnd
}

// Format returns a unified-style rendering of the diff for display.
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		oldCount := countLines(hunk.OriginalText)
		newCount := countLines(hunk.NewText)
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.StartLine, oldCount, hunk.StartLine, newCount)

		for _, line := range splitLines(hunk.OriginalText) {
			buf.WriteString("- ")
			buf.WriteString(line)
			buf.WriteString("\n")
		}
		for _, line := range splitLines(hunk.NewText) {
			buf.WriteString("+ ")
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}
