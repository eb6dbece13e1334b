// Package text holds the line-level merge engine: an LCS line diff, the
// SEARCH/REPLACE hunk parser, and the annotated documents built from them.
// Nothing in this package performs I/O or keeps state between calls.
package text

import (
	"slices"
	"strings"
)

// LineType tags a line of an annotated document
type LineType int

const (
	LineContext LineType = iota // present in both old and new
	LineAdded                   // present only in new
	LineRemoved                 // present only in old
)

// String returns the wire name of the line type, as sent to the editor
func (lt LineType) String() string {
	switch lt {
	case LineContext:
		return "context"
	case LineAdded:
		return "added"
	case LineRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Table is the LCS length table for two line sequences, stored flat.
// At(i, j) is the LCS length of the first i old lines and the first j new lines.
type Table struct {
	cells []int
	cols  int // len(newLines)+1
}

// NewTable fills the (m+1)x(n+1) LCS table for oldLines and newLines
func NewTable(oldLines, newLines []string) *Table {
	m, n := len(oldLines), len(newLines)
	t := &Table{
		cells: make([]int, (m+1)*(n+1)),
		cols:  n + 1,
	}

	for i := 1; i <= m; i++ {
		row := i * t.cols
		prev := (i - 1) * t.cols
		for j := 1; j <= n; j++ {
			if oldLines[i-1] == newLines[j-1] {
				t.cells[row+j] = t.cells[prev+j-1] + 1
			} else {
				t.cells[row+j] = max(t.cells[prev+j], t.cells[row+j-1])
			}
		}
	}
	return t
}

// At returns the table value at row i, column j
func (t *Table) At(i, j int) int {
	return t.cells[i*t.cols+j]
}

// ComputeLineDiff computes a minimal line edit script from oldLines to newLines.
//
// Keeping context+removed lines reconstructs oldLines, keeping context+added
// lines reconstructs newLines. When both backtrack directions have the same
// table value the added path is taken, so within a changed run the removed
// lines come out before the added ones.
func ComputeLineDiff(oldLines, newLines []string) ([]string, []LineType) {
	table := NewTable(oldLines, newLines)

	m, n := len(oldLines), len(newLines)
	lines := make([]string, 0, m+n)
	types := make([]LineType, 0, m+n)

	i, j := m, n
	for i > 0 || j > 0 {
		if i > 0 && j > 0 && oldLines[i-1] == newLines[j-1] {
			lines = append(lines, oldLines[i-1])
			types = append(types, LineContext)
			i--
			j--
		} else if j > 0 && (i == 0 || table.At(i, j-1) >= table.At(i-1, j)) {
			lines = append(lines, newLines[j-1])
			types = append(types, LineAdded)
			j--
		} else {
			lines = append(lines, oldLines[i-1])
			types = append(types, LineRemoved)
			i--
		}
	}

	slices.Reverse(lines)
	slices.Reverse(types)
	return lines, types
}

// SplitLines splits text on "\n". Unlike strings.Split, empty text yields no lines.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// JoinLines is the inverse of SplitLines
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
