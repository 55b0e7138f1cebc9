// Package patchcodec parses a unified diff into old/new line-number maps
// and a gutter-annotated "extended diff", per spec.md §4.4. Unlike most
// components in this service, there is no general-purpose third-party
// library for this exact transformation (numbered-gutter rendering of a
// unified-diff hunk against both old and new line spaces is bespoke to
// this domain) — see DESIGN.md for why this stays a hand-rolled parser
// grounded on the teacher's regex-driven parsing style
// (server/parser/parser.go).
package patchcodec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// IssueSide selects which line-number space an issue's range is
// expressed in.
type IssueSide string

const (
	SideOld IssueSide = "old"
	SideNew IssueSide = "new"
)

// ParsedPatch is the result of Parse.
type ParsedPatch struct {
	ExtendedDiff   string
	OldLinesByNumber map[int]string
	NewLinesByNumber map[int]string
	Additions      int
	Deletions      int
}

// Parse splits patch on hunk headers and assigns each line to the old
// and/or new line-number map according to its prefix, per spec.md §4.4.
func Parse(patch string) ParsedPatch {
	result := ParsedPatch{
		OldLinesByNumber: make(map[int]string),
		NewLinesByNumber: make(map[int]string),
	}
	if patch == "" {
		return result
	}

	var extended strings.Builder
	lines := strings.Split(patch, "\n")

	var oldLine, newLine int
	inHunk := false

	for _, line := range lines {
		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			oldLine = atoiDefault(m[1], 0)
			newLine = atoiDefault(m[3], 0)
			inHunk = true
			extended.WriteString(line)
			extended.WriteByte('\n')
			continue
		}
		if !inHunk {
			continue
		}
		if line == "" {
			continue
		}

		switch line[0] {
		case '-':
			text := line[1:]
			result.OldLinesByNumber[oldLine] = text
			extended.WriteString(gutter(oldLine, 0) + line + "\n")
			oldLine++
			result.Deletions++
		case '+':
			text := line[1:]
			result.NewLinesByNumber[newLine] = text
			extended.WriteString(gutter(0, newLine) + line + "\n")
			newLine++
			result.Additions++
		case '\\':
			extended.WriteString(gutter(0, 0) + line + "\n")
		case ' ':
			text := line[1:]
			result.OldLinesByNumber[oldLine] = text
			result.NewLinesByNumber[newLine] = text
			extended.WriteString(gutter(oldLine, newLine) + line + "\n")
			oldLine++
			newLine++
		default:
			// Defensive: treat any other line inside a hunk as context so a
			// malformed patch never panics the cursor advance.
			extended.WriteString(gutter(oldLine, newLine) + line + "\n")
		}
	}

	result.ExtendedDiff = strings.TrimRight(extended.String(), "\n")
	return result
}

func gutter(old, new int) string {
	oldStr := " "
	if old > 0 {
		oldStr = strconv.Itoa(old)
	}
	newStr := " "
	if new > 0 {
		newStr = strconv.Itoa(new)
	}
	return fmt.Sprintf("(%4s,%4s) ", oldStr, newStr)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Issue is the minimal shape ResolveLine needs from a ReviewIssue.
type Issue struct {
	Side      IssueSide
	StartLine int
	EndLine   int
}

// ResolveLine tries EndLine, then StartLine, then walks back from EndLine
// to StartLine looking for the first line present in the map dictated by
// issue.Side. Returns (0, false) if no match — the caller must skip
// publishing the line comment, per spec.md §4.4.
func ResolveLine(parsed ParsedPatch, issue Issue) (int, bool) {
	lines := parsed.NewLinesByNumber
	if issue.Side == SideOld {
		lines = parsed.OldLinesByNumber
	}

	if _, ok := lines[issue.EndLine]; ok {
		return issue.EndLine, true
	}
	if _, ok := lines[issue.StartLine]; ok {
		return issue.StartLine, true
	}
	start, end := issue.StartLine, issue.EndLine
	if start > end {
		start, end = end, start
	}
	for line := end; line >= start; line-- {
		if _, ok := lines[line]; ok {
			return line, true
		}
	}
	return 0, false
}

// Hunk is one @@ ... @@ block of a patch, kept intact for prioritisation.
type Hunk struct {
	Header string
	Body   []string
}

var flaggedTokenRe = regexp.MustCompile(`(?i)\b(password|secret|token|key|eval|exec|TODO|FIXME)\b`)

// splitHunks breaks patch into its constituent hunks, dropping the
// file-level header lines (--- / +++) that precede the first @@.
func splitHunks(patch string) []Hunk {
	var hunks []Hunk
	var current *Hunk
	for _, line := range strings.Split(patch, "\n") {
		if hunkHeaderRe.MatchString(line) {
			if current != nil {
				hunks = append(hunks, *current)
			}
			current = &Hunk{Header: line}
			continue
		}
		if current != nil {
			current.Body = append(current.Body, line)
		}
	}
	if current != nil {
		hunks = append(hunks, *current)
	}
	return hunks
}

func hunkSize(h Hunk) int {
	size := len(h.Header) + 1
	for _, l := range h.Body {
		size += len(l) + 1
	}
	return size
}

func riskScore(h Hunk) int {
	score := 0
	for _, l := range h.Body {
		if strings.HasPrefix(l, "+") {
			score++
			if flaggedTokenRe.MatchString(l) {
				score += 5
			}
		}
	}
	return score
}

// PrioritiseHunks greedily keeps hunks (highest risk score first) while
// the cumulative byte size stays within budget, appending a
// "[hunks prioritized]" marker when some hunks were dropped, or
// "[patch truncated]" when the very first hunk alone exceeds budget.
func PrioritiseHunks(patch string, budget int) string {
	hunks := splitHunks(patch)
	if len(hunks) == 0 {
		return patch
	}

	type scored struct {
		hunk  Hunk
		score int
		index int
	}
	var ranked []scored
	for i, h := range hunks {
		ranked = append(ranked, scored{hunk: h, score: riskScore(h), index: i})
	}
	// Stable sort by descending score, ties broken by original order.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	kept := make(map[int]bool)
	total := 0
	for _, r := range ranked {
		size := hunkSize(r.hunk)
		if total+size > budget && total > 0 {
			continue
		}
		if total+size > budget && total == 0 {
			// Even the single highest-priority hunk doesn't fit: keep a
			// truncated version of just its header and stop.
			var sb strings.Builder
			sb.WriteString(r.hunk.Header)
			sb.WriteString("\n[patch truncated]\n")
			return sb.String()
		}
		kept[r.index] = true
		total += size
	}

	var sb strings.Builder
	dropped := false
	for i, h := range hunks {
		if !kept[i] {
			dropped = true
			continue
		}
		sb.WriteString(h.Header)
		sb.WriteString("\n")
		for _, l := range h.Body {
			sb.WriteString(l)
			sb.WriteString("\n")
		}
	}
	if dropped {
		sb.WriteString("[hunks prioritized]\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
