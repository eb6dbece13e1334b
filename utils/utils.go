package utils

import (
	"path/filepath"
	"strings"
)

// Token estimation constants
const (
	AvgCharsPerToken = 2 // Conservative estimate for mixed content (code + JSON)
)

// EstimateCharsFromTokens estimates the number of characters for a given token count
func EstimateCharsFromTokens(tokens int) int {
	return tokens * AvgCharsPerToken
}

// EstimateTokens estimates the token count of text
func EstimateTokens(text string) int {
	return (len(text) + AvgCharsPerToken - 1) / AvgCharsPerToken
}

// FitsTokenBudget reports whether the combined texts fit in maxTokens (0 = no limit)
func FitsTokenBudget(maxTokens int, texts ...string) bool {
	if maxTokens <= 0 {
		return true
	}
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	return total <= EstimateCharsFromTokens(maxTokens)
}

// NormalizePath turns a file path into the key used to match previews to
// buffers: cleaned, relative to workspacePath when inside it, with forward
// slashes. An empty path stays empty.
func NormalizePath(path, workspacePath string) string {
	if path == "" {
		return ""
	}
	path = filepath.Clean(path)

	if workspacePath != "" && filepath.IsAbs(path) {
		workspacePath = filepath.Clean(workspacePath)
		if rel, found := strings.CutPrefix(path, workspacePath); found {
			if rel == "" {
				return "."
			}
			if strings.HasPrefix(rel, string(filepath.Separator)) {
				path = strings.TrimPrefix(rel, string(filepath.Separator))
			}
		}
	}
	return filepath.ToSlash(path)
}

// TrimCommonAffixes returns how many leading and trailing lines a and b share.
// The two counts never overlap in either slice.
func TrimCommonAffixes(a, b []string) (prefix, suffix int) {
	limit := min(len(a), len(b))
	for prefix < limit && a[prefix] == b[prefix] {
		prefix++
	}
	for suffix < limit-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	return prefix, suffix
}
