package text

import (
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Decoration describes how one non-context line of a document is highlighted.
// ColStart/ColEnd are byte columns (0-based, end exclusive) of the changed
// part of the line; for unpaired lines they span the whole line.
type Decoration struct {
	Line     int // 0-based index into the document
	Type     LineType
	Region   int
	ColStart int
	ColEnd   int
	Paired   bool // true if matched against a line of the opposite type
}

// BuildDecorations computes a decoration for every added and removed line.
// Inside each region the k-th removed line is paired with the k-th added line
// and both get intra-line column ranges from a character diff.
func BuildDecorations(doc *AnnotatedDocument) []Decoration {
	var decorations []Decoration

	for _, region := range doc.Regions() {
		var removed, added []int
		for i := region.Start; i < region.End; i++ {
			if doc.Types[i] == LineRemoved {
				removed = append(removed, i)
			} else {
				added = append(added, i)
			}
		}

		pairs := min(len(removed), len(added))
		for k := 0; k < pairs; k++ {
			oldLine, newLine := doc.Lines[removed[k]], doc.Lines[added[k]]
			oldStart, oldEnd, newStart, newEnd := changedColumns(oldLine, newLine)
			decorations = append(decorations,
				Decoration{Line: removed[k], Type: LineRemoved, Region: region.Index, ColStart: oldStart, ColEnd: oldEnd, Paired: true},
				Decoration{Line: added[k], Type: LineAdded, Region: region.Index, ColStart: newStart, ColEnd: newEnd, Paired: true},
			)
		}
		for _, i := range removed[pairs:] {
			decorations = append(decorations, wholeLine(doc, i, region.Index))
		}
		for _, i := range added[pairs:] {
			decorations = append(decorations, wholeLine(doc, i, region.Index))
		}
	}

	sort.SliceStable(decorations, func(i, j int) bool {
		return decorations[i].Line < decorations[j].Line
	})
	return decorations
}

func wholeLine(doc *AnnotatedDocument, i, region int) Decoration {
	return Decoration{
		Line:     i,
		Type:     doc.Types[i],
		Region:   region,
		ColStart: 0,
		ColEnd:   len(doc.Lines[i]),
	}
}

// changedColumns returns the span of deleted bytes in oldLine and the span of
// inserted bytes in newLine. A side with nothing changed gets an empty span
// at the first differing column.
func changedColumns(oldLine, newLine string) (oldStart, oldEnd, newStart, newEnd int) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldLine, newLine, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	oldStart, newStart = -1, -1
	oldPos, newPos := 0, 0
	firstDiffOld, firstDiffNew := -1, -1

	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffEqual:
			oldPos += len(diff.Text)
			newPos += len(diff.Text)
		case diffmatchpatch.DiffDelete:
			if firstDiffOld < 0 {
				firstDiffOld, firstDiffNew = oldPos, newPos
			}
			if oldStart < 0 {
				oldStart = oldPos
			}
			oldPos += len(diff.Text)
			oldEnd = oldPos
		case diffmatchpatch.DiffInsert:
			if firstDiffOld < 0 {
				firstDiffOld, firstDiffNew = oldPos, newPos
			}
			if newStart < 0 {
				newStart = newPos
			}
			newPos += len(diff.Text)
			newEnd = newPos
		}
	}

	if oldStart < 0 {
		oldStart, oldEnd = max(firstDiffOld, 0), max(firstDiffOld, 0)
	}
	if newStart < 0 {
		newStart, newEnd = max(firstDiffNew, 0), max(firstDiffNew, 0)
	}
	return oldStart, oldEnd, newStart, newEnd
}

// ToLuaFormat converts a document and its decorations to the map sent to the
// editor plugin. startLine is the 1-indexed buffer line of the document's first line.
func ToLuaFormat(doc *AnnotatedDocument, decorations []Decoration, startLine int) map[string]any {
	types := make([]string, len(doc.Types))
	for i, lt := range doc.Types {
		types[i] = lt.String()
	}

	var luaRegions []map[string]any
	for _, r := range doc.Regions() {
		luaRegions = append(luaRegions, map[string]any{
			"index":      r.Index,
			"start_line": startLine + r.Start,
			"end_line":   startLine + r.End - 1,
			"added":      r.Added,
			"removed":    r.Removed,
		})
	}

	var luaDecorations []map[string]any
	for _, d := range decorations {
		luaDecorations = append(luaDecorations, map[string]any{
			"line":      startLine + d.Line,
			"type":      d.Type.String(),
			"region":    d.Region,
			"col_start": d.ColStart,
			"col_end":   d.ColEnd,
			"paired":    d.Paired,
		})
	}

	return map[string]any{
		"startLine":   startLine,
		"types":       types,
		"regions":     luaRegions,
		"decorations": luaDecorations,
		"truncated":   doc.Truncated(),
	}
}
