package text

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// SearchMarker opens a hunk; the lines after it are the lines to replace
	SearchMarker = "<<<<<<< SEARCH"
	// DividerMarker separates the search lines from the replacement lines
	DividerMarker = "======="
	// ReplaceMarker closes a hunk
	ReplaceMarker = ">>>>>>> REPLACE"
)

var (
	// ErrNoHunks is returned when a proposed change contains no SEARCH/REPLACE hunk
	ErrNoHunks = errors.New("no search/replace hunks")
	// ErrSearchNotFound is returned when a hunk's search lines are not present in the original
	ErrSearchNotFound = errors.New("search lines not found in original")
)

// maxAnchorContext caps how many context lines before a hunk are used to
// locate it in the original
const maxAnchorContext = 8

// Hunk is one SEARCH/REPLACE block of a proposed change
type Hunk struct {
	Context    []string // lines between the previous hunk (or the start) and this one
	Search     []string
	Replace    []string
	Terminated bool // false if input ended before the closing marker
}

type parseState int

const (
	stateOutside parseState = iota
	stateInSearch
	stateInReplace
)

// isMarker compares a line against a marker, ignoring trailing whitespace
// (including a CR left over from CRLF input). Content lines are never trimmed.
func isMarker(line, marker string) bool {
	return strings.TrimRight(line, " \t\r") == marker
}

// scanHunks walks proposed line by line. Lines outside hunks go to onContext,
// each hunk goes to onHunk once it is closed. A hunk still open at the end of
// input is flushed with Terminated=false so a partially streamed change is
// still shown.
func scanHunks(proposed string, onContext func(line string), onHunk func(h Hunk)) {
	state := stateOutside
	var context, search, replace []string

	for _, line := range strings.Split(proposed, "\n") {
		switch state {
		case stateOutside:
			if isMarker(line, SearchMarker) {
				state = stateInSearch
				continue
			}
			context = append(context, line)
			onContext(line)
		case stateInSearch:
			if isMarker(line, DividerMarker) {
				state = stateInReplace
				continue
			}
			search = append(search, line)
		case stateInReplace:
			if isMarker(line, ReplaceMarker) {
				onHunk(Hunk{Context: context, Search: search, Replace: replace, Terminated: true})
				context, search, replace = nil, nil, nil
				state = stateOutside
				continue
			}
			replace = append(replace, line)
		}
	}

	// Input ending inside a hunk is shown as far as it got; the flag lets
	// callers tell it apart from a closed hunk.
	if state != stateOutside {
		onHunk(Hunk{Context: context, Search: search, Replace: replace, Terminated: false})
	}
}

// ParseHunkedChange parses a proposed change containing SEARCH/REPLACE hunks
// into an annotated document. Text outside hunks passes through as context;
// each hunk is expanded into a line diff of its search and replace lines.
//
// It returns nil when proposed contains no SEARCH marker, which tells callers
// to treat the text as a full-file rewrite instead.
func ParseHunkedChange(proposed string) *AnnotatedDocument {
	if !strings.Contains(proposed, SearchMarker) {
		return nil
	}

	doc := &AnnotatedDocument{}
	scanHunks(proposed,
		func(line string) {
			doc.appendLine(line, LineContext)
		},
		func(h Hunk) {
			doc.appendDiff(h.Search, h.Replace)
			if !h.Terminated {
				doc.truncated = true
			}
		},
	)
	return doc
}

// ParseHunks extracts the hunks of a proposed change in document order. Each
// hunk keeps the text that preceded it; text after the last hunk is dropped.
func ParseHunks(proposed string) ([]Hunk, error) {
	if !strings.Contains(proposed, SearchMarker) {
		return nil, ErrNoHunks
	}

	var hunks []Hunk
	scanHunks(proposed,
		func(string) {},
		func(h Hunk) {
			hunks = append(hunks, h)
		},
	)
	if len(hunks) == 0 {
		return nil, ErrNoHunks
	}
	return hunks, nil
}

// MergeIntoOriginal anchors the hunks of proposed onto the original file and
// returns an annotated document of the whole file. Hunks are located in
// document order, each searched for after the end of the previous one.
//
// The context lines written before a hunk are matched together with its
// search lines, so an empty search inserts right after its context and a
// search block occurring twice binds to the occurrence the context points at.
// Context that is not in the file (prose around the hunks) is ignored as long
// as the search lines alone can be found.
//
// Lines between hunks come from original, so OldText() of the result is
// always original itself. A hunk that cannot be located fails the whole merge
// with ErrSearchNotFound.
func MergeIntoOriginal(original, proposed string) (*AnnotatedDocument, error) {
	hunks, err := ParseHunks(proposed)
	if err != nil {
		return nil, err
	}

	origLines := SplitLines(original)
	doc := &AnnotatedDocument{}
	cursor := 0

	for idx, h := range hunks {
		start := locateHunk(origLines, h, cursor)
		if start < 0 {
			return nil, fmt.Errorf("hunk %d: %w", idx+1, ErrSearchNotFound)
		}

		for _, line := range origLines[cursor:start] {
			doc.appendLine(line, LineContext)
		}

		end := start + len(h.Search)
		doc.appendDiff(origLines[start:end], h.Replace)
		cursor = end

		if !h.Terminated {
			doc.truncated = true
		}
	}

	for _, line := range origLines[cursor:] {
		doc.appendLine(line, LineContext)
	}
	return doc, nil
}

// locateHunk returns the index of h's search lines in lines at or after from,
// or -1. The longest tail of h.Context that matches directly above the search
// lines wins. A tail made only of blank lines does not count as context.
func locateHunk(lines []string, h Hunk, from int) int {
	context := h.Context
	if len(context) > maxAnchorContext {
		context = context[len(context)-maxAnchorContext:]
	}

	for k := len(context); k > 0; k-- {
		tail := context[len(context)-k:]
		if isBlank(tail) {
			break
		}
		block := append(slices.Clone(tail), h.Search...)
		if idx := findBlock(lines, block, from); idx >= 0 {
			return idx + k
		}
	}

	if len(h.Search) == 0 {
		// Nothing to search for: without usable context the insertion goes at
		// the cursor, with unmatched context it cannot be placed
		if !isBlank(context) {
			return -1
		}
		return from
	}
	return findBlock(lines, h.Search, from)
}

func isBlank(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return false
		}
	}
	return true
}

// findBlock returns the index of the first occurrence of block in lines at or
// after from, or -1. An exact match wins; otherwise lines are compared with
// surrounding whitespace trimmed, which tolerates models that reindent.
func findBlock(lines, block []string, from int) int {
	if idx := indexBlock(lines, block, from, func(a, b string) bool { return a == b }); idx >= 0 {
		return idx
	}
	return indexBlock(lines, block, from, func(a, b string) bool {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	})
}

func indexBlock(lines, block []string, from int, eq func(a, b string) bool) int {
	for i := from; i+len(block) <= len(lines); i++ {
		match := true
		for j := range block {
			if !eq(lines[i+j], block[j]) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
