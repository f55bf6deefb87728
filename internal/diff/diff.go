// internal/diff/diff.go
package diff

import (
	"fmt"
	"strings"
)

// ChangeKind classifies a hunk.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
	Modified ChangeKind = "modified"
)

// Mode selects diff granularity.
type Mode string

const (
	ModeFile     Mode = "file"
	ModeFunction Mode = "function"
)

// ParseMode converts a string into a Mode, reporting whether it is known.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeFile, ModeFunction:
		return Mode(s), true
	}
	return "", false
}

// Hunk is a contiguous range of changed lines. Line numbers address the
// original text, 1-based. StartLine..EndLine is the replaced span; an
// added hunk has EndLine == StartLine-1 and inserts before StartLine.
type Hunk struct {
	Path         string     `json:"path,omitempty"`
	StartLine    int        `json:"start_line"`
	EndLine      int        `json:"end_line"`
	OriginalText string     `json:"original_text"`
	NewText      string     `json:"new_text"`
	Kind         ChangeKind `json:"change_kind"`
}

// DiffResult contains every hunk between two texts, ordered by
// ascending StartLine.
type DiffResult struct {
	Path  string `json:"path,omitempty"`
	Hunks []Hunk `json:"hunks"`
	Stats struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
		Changes   int `json:"changes"`
	} `json:"stats"`
}

// Empty reports whether the two texts were identical.
func (r *DiffResult) Empty() bool {
	return len(r.Hunks) == 0
}

// Summary returns a one-line human description of the result.
func (r *DiffResult) Summary() string {
	if r.Empty() {
		return "no changes"
	}
	return fmt.Sprintf("%d hunk(s), +%d -%d lines",
		len(r.Hunks), r.Stats.Additions, r.Stats.Deletions)
}

// Engine provides diffing capabilities. It is a pure function over
// strings: no I/O, deterministic output for identical inputs.
type Engine struct{}

// NewEngine creates a new diff engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Diff computes the hunks between original and modified under the
// given mode.
func (e *Engine) Diff(original, modified string, mode Mode) (*DiffResult, error) {
	switch mode {
	case ModeFile:
		result := &DiffResult{}
		result.Hunks = e.diffLines(original, modified, 0)
		e.tally(result)
		return result, nil
	case ModeFunction:
		return e.diffFunctions(original, modified)
	default:
		return nil, fmt.Errorf("unknown diff mode: %q", mode)
	}
}

// splitLines splits text into lines without dropping information: the
// terminating newline shows up as a trailing empty line, so joining the
// lines with "\n" reproduces the input exactly. Empty input has no lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// diffLines runs an LCS line diff and groups contiguous non-common runs
// into hunks. offset shifts reported line numbers, used by function mode
// to address sub-regions in whole-file coordinates.
func (e *Engine) diffLines(original, modified string, offset int) []Hunk {
	return e.diffLineSlices(splitLines(original), splitLines(modified), offset)
}

// diffLineSlices is the line-slice core of diffLines. Function mode
// calls it with region lines directly: going through joined text would
// collapse a lone empty line to no lines at all.
func (e *Engine) diffLineSlices(oldLines, newLines []string, offset int) []Hunk {
	lcs := e.computeLCS(oldLines, newLines)

	var hunks []Hunk
	i, j := 0, 0
	for i < len(oldLines) || j < len(newLines) {
		if i < len(oldLines) && j < len(newLines) && oldLines[i] == newLines[j] {
			i++
			j++
			continue
		}

		// Collect one contiguous run of changed lines.
		hunkStart := i
		var removed, added []string
		for i < len(oldLines) || j < len(newLines) {
			if i < len(oldLines) && j < len(newLines) && oldLines[i] == newLines[j] {
				break
			}
			if i < len(oldLines) && (j >= len(newLines) || lcs[i+1][j] >= lcs[i][j+1]) {
				removed = append(removed, oldLines[i])
				i++
			} else {
				added = append(added, newLines[j])
				j++
			}
		}

		hunks = append(hunks, makeHunk(hunkStart+offset, removed, added))
	}

	return hunks
}

func makeHunk(start int, removed, added []string) Hunk {
	h := Hunk{
		StartLine:    start + 1,
		EndLine:      start + len(removed),
		OriginalText: joinLines(removed),
		NewText:      joinLines(added),
	}
	switch {
	case len(removed) == 0:
		h.Kind = Added
	case len(added) == 0:
		h.Kind = Removed
	default:
		h.Kind = Modified
	}
	return h
}

// computeLCS builds the suffix LCS matrix: lcs[i][j] is the length of
// the longest common subsequence of oldLines[i:] and newLines[j:].
func (e *Engine) computeLCS(oldLines, newLines []string) [][]int {
	matrix := make([][]int, len(oldLines)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(newLines)+1)
	}

	for i := len(oldLines) - 1; i >= 0; i-- {
		for j := len(newLines) - 1; j >= 0; j-- {
			if oldLines[i] == newLines[j] {
				matrix[i][j] = matrix[i+1][j+1] + 1
			} else {
				matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
			}
		}
	}

	return matrix
}

func (e *Engine) tally(result *DiffResult) {
	for _, hunk := range result.Hunks {
		result.Stats.Additions += countLines(hunk.NewText)
		result.Stats.Deletions += countLines(hunk.OriginalText)
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions
}

func countLines(s string) int {
	return len(splitLines(s))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
