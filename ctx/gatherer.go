package ctx

import (
	"context"
	"sync"
	"time"

	"codemerge/types"
)

// GatherTimeout is the maximum time allowed for all context sources to complete.
const GatherTimeout = 500 * time.Millisecond

// SourceRequest contains metadata passed to each context source.
type SourceRequest struct {
	FilePath      string
	WorkspacePath string
}

// NewGatherer creates a Gatherer with all built-in context sources.
func NewGatherer(workspacePath string) *Gatherer {
	return &Gatherer{
		workspacePath: workspacePath,
		sources: []source{
			&gitDiff{},
		},
	}
}

// source gathers additional context for reconcile prompts.
type source interface {
	Gather(ctx context.Context, req *SourceRequest) *types.ContextResult
}

// Gatherer runs context sources in parallel and merges their results.
type Gatherer struct {
	workspacePath string
	sources       []source
}

// Gather runs all sources for filePath in parallel with a shared timeout
// and merges their results into a single ContextResult.
func (g *Gatherer) Gather(ctx context.Context, filePath string) *types.ContextResult {
	if len(g.sources) == 0 || filePath == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, GatherTimeout)
	defer cancel()

	req := &SourceRequest{FilePath: filePath, WorkspacePath: g.workspacePath}
	results := make([]*types.ContextResult, len(g.sources))
	var wg sync.WaitGroup

	for i, s := range g.sources {
		i, s := i, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.Gather(ctx, req)
		}()
	}

	wg.Wait()

	var merged *types.ContextResult
	for _, r := range results {
		if r == nil {
			continue
		}
		if merged == nil {
			merged = &types.ContextResult{}
		}
		if r.GitDiff != nil {
			merged.GitDiff = r.GitDiff
		}
	}

	return merged
}
