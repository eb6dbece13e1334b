package text

import (
	"strings"

	"codemerge/utils"
)

// AnnotatedDocument is a sequence of lines with a parallel sequence of line types.
//
// Invariants:
//   - len(Lines) == len(Types)
//   - OldText() is the document with added lines dropped
//   - NewText() is the document with removed lines dropped
type AnnotatedDocument struct {
	Lines []string
	Types []LineType

	truncated bool
}

// Truncated reports whether the document ended inside a hunk that was never
// closed, e.g. because the proposal is still streaming
func (d *AnnotatedDocument) Truncated() bool {
	return d.truncated
}

func (d *AnnotatedDocument) appendLine(line string, lt LineType) {
	d.Lines = append(d.Lines, line)
	d.Types = append(d.Types, lt)
}

func (d *AnnotatedDocument) appendDiff(oldLines, newLines []string) {
	lines, types := ComputeLineDiff(oldLines, newLines)
	d.Lines = append(d.Lines, lines...)
	d.Types = append(d.Types, types...)
}

// DisplayCode joins every line, including removed ones, for a live preview
func (d *AnnotatedDocument) DisplayCode() string {
	return JoinLines(d.Lines)
}

// MergedCode is the joined output lines of the merge; identical to DisplayCode
func (d *AnnotatedDocument) MergedCode() string {
	return d.DisplayCode()
}

// OldText returns the context and removed lines joined
func (d *AnnotatedDocument) OldText() string {
	return d.project(LineRemoved)
}

// NewText returns the context and added lines joined
func (d *AnnotatedDocument) NewText() string {
	return d.project(LineAdded)
}

func (d *AnnotatedDocument) project(keep LineType) string {
	var b strings.Builder
	first := true
	for i, line := range d.Lines {
		if d.Types[i] != LineContext && d.Types[i] != keep {
			continue
		}
		if !first {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		first = false
	}
	return b.String()
}

// Counts returns the number of added and removed lines
func (d *AnnotatedDocument) Counts() (added, removed int) {
	for _, lt := range d.Types {
		switch lt {
		case LineAdded:
			added++
		case LineRemoved:
			removed++
		}
	}
	return added, removed
}

// HasChanges reports whether any line is added or removed
func (d *AnnotatedDocument) HasChanges() bool {
	added, removed := d.Counts()
	return added+removed > 0
}

// Region is a maximal run of non-context lines, covering document lines [Start, End)
type Region struct {
	Index   int
	Start   int
	End     int
	Added   int
	Removed int
}

// Regions returns the change regions of the document in order
func (d *AnnotatedDocument) Regions() []Region {
	var regions []Region
	var cur *Region

	for i, lt := range d.Types {
		if lt == LineContext {
			if cur != nil {
				regions = append(regions, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &Region{Index: len(regions), Start: i}
		}
		cur.End = i + 1
		if lt == LineAdded {
			cur.Added++
		} else {
			cur.Removed++
		}
	}
	if cur != nil {
		regions = append(regions, *cur)
	}
	return regions
}

// regionOf maps every line to its region index, -1 for context lines
func (d *AnnotatedDocument) regionOf() []int {
	idx := make([]int, len(d.Types))
	region := -1
	inRegion := false
	for i, lt := range d.Types {
		if lt == LineContext {
			idx[i] = -1
			inRegion = false
			continue
		}
		if !inRegion {
			region++
			inRegion = true
		}
		idx[i] = region
	}
	return idx
}

// Decision is the user's choice for a change region
type Decision int

const (
	Accept Decision = iota
	Reject
)

func (dc Decision) String() string {
	if dc == Reject {
		return "reject"
	}
	return "accept"
}

// Resolve produces the final file body. Accepted regions keep their added
// lines, rejected regions keep their removed lines. Regions absent from
// decisions use fallback.
func (d *AnnotatedDocument) Resolve(decisions map[int]Decision, fallback Decision) string {
	regionOf := d.regionOf()

	var out []string
	for i, line := range d.Lines {
		switch d.Types[i] {
		case LineContext:
			out = append(out, line)
		case LineAdded, LineRemoved:
			dc, ok := decisions[regionOf[i]]
			if !ok {
				dc = fallback
			}
			if (d.Types[i] == LineAdded) == (dc == Accept) {
				out = append(out, line)
			}
		}
	}
	return JoinLines(out)
}

// MergeResult is the final-body shape of a hunk merge
type MergeResult struct {
	MergedCode string
}

// DisplayResult is the live-preview shape of a hunk merge
type DisplayResult struct {
	DisplayCode string
	LineTypes   []LineType
}

// ToMergeResult converts the document into a MergeResult
func (d *AnnotatedDocument) ToMergeResult() MergeResult {
	return MergeResult{MergedCode: d.MergedCode()}
}

// ToDisplayResult converts the document into a DisplayResult
func (d *AnnotatedDocument) ToDisplayResult() DisplayResult {
	types := make([]LineType, len(d.Types))
	copy(types, d.Types)
	return DisplayResult{
		DisplayCode: d.DisplayCode(),
		LineTypes:   types,
	}
}

// DiffDocument builds an annotated document for a whole-file rewrite. When the
// DP table would exceed maxCells (0 = no limit), the shared leading and trailing
// lines are emitted as context and only the middle is diffed; the projections
// and the number of context lines are the same either way.
func DiffDocument(oldLines, newLines []string, maxCells int) *AnnotatedDocument {
	doc := &AnnotatedDocument{}
	if maxCells <= 0 || (len(oldLines)+1)*(len(newLines)+1) <= maxCells {
		doc.appendDiff(oldLines, newLines)
		return doc
	}

	prefix, suffix := utils.TrimCommonAffixes(oldLines, newLines)
	for _, line := range oldLines[:prefix] {
		doc.appendLine(line, LineContext)
	}
	doc.appendDiff(oldLines[prefix:len(oldLines)-suffix], newLines[prefix:len(newLines)-suffix])
	for _, line := range oldLines[len(oldLines)-suffix:] {
		doc.appendLine(line, LineContext)
	}
	return doc
}

// PartialDocument builds a preview of a whole-file rewrite that is still
// arriving. Original lines after the last one the partial text has matched are
// shown as context, not as removed, since the rewrite has not reached them yet.
// The result is marked truncated.
func PartialDocument(oldLines, partial []string, maxCells int) *AnnotatedDocument {
	full := DiffDocument(oldLines, partial, maxCells)

	cut, oldIdx := 0, 0
	for _, lt := range full.Types {
		switch lt {
		case LineContext:
			oldIdx++
			cut = oldIdx
		case LineRemoved:
			oldIdx++
		}
	}

	doc := DiffDocument(oldLines[:cut], partial, maxCells)
	for _, line := range oldLines[cut:] {
		doc.appendLine(line, LineContext)
	}
	doc.truncated = true
	return doc
}
