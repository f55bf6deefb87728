package diff

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// region is a named block of lines: a function/class body, or an
// anonymous gap between definitions. start is 0-based in the source.
type region struct {
	name  string
	start int
	lines []string
}

func (r region) text() string {
	return joinLines(r.lines)
}

// Definition heuristics are deliberately language-agnostic: keyword
// definitions (func/function/def/fn/class, with optional Go method
// receiver) and function-valued assignments.
var (
	defRe = regexp.MustCompile(
		`^\s*(?:export\s+)?(?:pub\s+)?(?:static\s+)?(?:async\s+)?` +
			`(?:func|function|def|fn|class)\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`)
	assignRe = regexp.MustCompile(
		`^\s*(?:const|let|var)\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(?:async\s+)?(?:function\b|\()`)
)

func defName(line string) string {
	if m := defRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := assignRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// regionEnd finds the exclusive end line of the block starting at
// start. Colon-terminated definitions extend by indentation; everything
// else extends by brace balance.
func regionEnd(lines []string, start int) int {
	trimmed := strings.TrimRight(lines[start], " \t")
	if strings.HasSuffix(trimmed, ":") {
		indent := indentOf(lines[start])
		end := start + 1
		for end < len(lines) {
			if strings.TrimSpace(lines[end]) == "" {
				end++
				continue
			}
			if indentOf(lines[end]) <= indent {
				break
			}
			end++
		}
		for end > start+1 && strings.TrimSpace(lines[end-1]) == "" {
			end--
		}
		return end
	}

	depth := 0
	opened := false
	for i := start; i < len(lines); i++ {
		depth += strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
		if strings.Contains(lines[i], "{") {
			opened = true
		}
		if opened && depth <= 0 {
			return i + 1
		}
		if !opened && i > start && defName(lines[i]) != "" {
			// Body never opened; treat the definition as a one-liner
			// run ending before the next definition.
			return i
		}
	}
	return len(lines)
}

// partition splits lines into named definition regions and anonymous
// gap regions. Gaps are named by ordinal so the two sides of a diff
// match them positionally; duplicate definition names get an ordinal
// suffix for the same reason.
func partition(lines []string) []region {
	var regions []region
	seen := make(map[string]int)
	gap := 0

	uniqueName := func(name string) string {
		seen[name]++
		if seen[name] > 1 {
			return fmt.Sprintf("%s#%d", name, seen[name])
		}
		return name
	}

	var pending []string
	pendingStart := 0
	flush := func() {
		if len(pending) > 0 {
			regions = append(regions, region{
				name:  fmt.Sprintf("(gap:%d)", gap),
				start: pendingStart,
				lines: pending,
			})
			gap++
			pending = nil
		}
	}

	i := 0
	for i < len(lines) {
		if name := defName(lines[i]); name != "" {
			flush()
			end := regionEnd(lines, i)
			regions = append(regions, region{
				name:  uniqueName(name),
				start: i,
				lines: lines[i:end],
			})
			i = end
			pendingStart = i
		} else {
			if pending == nil {
				pendingStart = i
			}
			pending = append(pending, lines[i])
			i++
		}
	}
	flush()

	return regions
}

// diffFunctions aligns the two region sequences by name with the same
// LCS walk diffLines uses for lines, diffing matched regions in place
// and collapsing each contiguous run of unmatched regions into one
// hunk. A replaced definition is therefore a single Modified hunk
// rather than an overlapping remove/insert pair, a moved definition
// shows up as an explicit remove plus insert, and replaying the hunks
// onto the original reconstructs the modified text exactly.
func (e *Engine) diffFunctions(original, modified string) (*DiffResult, error) {
	oldLineCount := len(splitLines(original))
	oldRegions := partition(splitLines(original))
	newRegions := partition(splitLines(modified))

	oldNames := make([]string, len(oldRegions))
	for i, r := range oldRegions {
		oldNames[i] = r.name
	}
	newNames := make([]string, len(newRegions))
	for j, r := range newRegions {
		newNames[j] = r.name
	}
	lcs := e.computeLCS(oldNames, newNames)

	result := &DiffResult{}
	i, j := 0, 0
	for i < len(oldRegions) || j < len(newRegions) {
		if i < len(oldRegions) && j < len(newRegions) && oldRegions[i].name == newRegions[j].name {
			if oldRegions[i].text() != newRegions[j].text() {
				result.Hunks = append(result.Hunks,
					e.diffLineSlices(oldRegions[i].lines, newRegions[j].lines, oldRegions[i].start)...)
			}
			i++
			j++
			continue
		}

		// Collect one contiguous run of unmatched regions. Removed
		// region lines stay contiguous in the original, so the run
		// becomes one hunk at the first removed region's position, or
		// a pure insertion if only new regions were consumed.
		hunkStart := oldLineCount
		if i < len(oldRegions) {
			hunkStart = oldRegions[i].start
		}
		var removed, added []string
		for i < len(oldRegions) || j < len(newRegions) {
			if i < len(oldRegions) && j < len(newRegions) && oldRegions[i].name == newRegions[j].name {
				break
			}
			if i < len(oldRegions) && (j >= len(newRegions) || lcs[i+1][j] >= lcs[i][j+1]) {
				removed = append(removed, oldRegions[i].lines...)
				i++
			} else {
				added = append(added, newRegions[j].lines...)
				j++
			}
		}
		result.Hunks = append(result.Hunks, makeHunk(hunkStart, removed, added))
	}

	sort.SliceStable(result.Hunks, func(a, b int) bool {
		return result.Hunks[a].StartLine < result.Hunks[b].StartLine
	})

	e.tally(result)
	return result, nil
}
