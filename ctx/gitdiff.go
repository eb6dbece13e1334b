package ctx

import (
	"bufio"
	"context"
	"os/exec"
	"strings"

	"codemerge/logger"
	"codemerge/types"
)

// maxDiffSize is the threshold (in bytes) below which the full diff is used.
// Above this, only changed declaration lines are kept.
const maxDiffSize = 4096

const maxChangedSymbols = 50

// gitDiff gathers the uncommitted changes of the file being reconciled.
type gitDiff struct{}

func (g *gitDiff) Gather(ctx context.Context, req *SourceRequest) *types.ContextResult {
	workDir := req.WorkspacePath
	if workDir == "" || req.FilePath == "" {
		return nil
	}

	fullDiff := runGit(ctx, workDir, "diff", "HEAD", "--", req.FilePath)
	if fullDiff == "" {
		return nil
	}

	if len(fullDiff) <= maxDiffSize {
		return &types.ContextResult{
			GitDiff: &types.GitDiffContext{Diff: fullDiff},
		}
	}

	minimalDiff := runGit(ctx, workDir, "diff", "HEAD", "-U0", "--", req.FilePath)
	if minimalDiff == "" {
		return nil
	}

	symbols := extractChangedSymbols(minimalDiff, maxChangedSymbols)
	if len(symbols) == 0 {
		return nil
	}

	return &types.ContextResult{
		GitDiff: &types.GitDiffContext{Diff: strings.Join(symbols, "\n"), Summarized: true},
	}
}

// runGit executes a git command and returns its stdout, or "" on error.
func runGit(ctx context.Context, dir string, args ...string) string {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		logger.Debug("gitdiff: git %s failed: %v", args[0], err)
		return ""
	}
	return string(out)
}

// extractChangedSymbols parses a unified diff (-U0) and returns the added and
// removed declaration lines, deduplicated and capped at limit.
func extractChangedSymbols(diff string, limit int) []string {
	if diff == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var symbols []string

	scanner := bufio.NewScanner(strings.NewReader(diff))
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "diff --git ") ||
			strings.HasPrefix(line, "---") ||
			strings.HasPrefix(line, "+++") ||
			strings.HasPrefix(line, "index ") ||
			strings.HasPrefix(line, "@@") {
			continue
		}
		if line == "" || (line[0] != '+' && line[0] != '-') {
			continue
		}

		content := strings.TrimSpace(line[1:])
		if !isDeclarationLine(content) {
			continue
		}
		sym := line[:1] + content
		if _, ok := seen[sym]; ok {
			continue
		}
		if len(symbols) >= limit {
			break
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}

	return symbols
}

// declarationPrefixes cover Go, Python, Rust, JS/TS, Java and C-family code
var declarationPrefixes = []string{
	"func ", "func(", "def ", "class ", "type ", "struct ", "fn ", "impl ", "trait ",
	"enum ", "interface ", "public ", "private ", "protected ", "static ",
	"async function ", "export function ", "export default function ",
	"export async function ", "export const ", "export class ",
}

// isDeclarationLine reports whether an unindented line starts a declaration
func isDeclarationLine(line string) bool {
	for _, prefix := range declarationPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
