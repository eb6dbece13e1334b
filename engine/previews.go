package engine

import (
	"maps"
	"sort"
	"time"

	"codemerge/metrics"
	"codemerge/text"
)

// Preview is a proposed change shown in the editor and awaiting decisions.
// Values returned by the engine are snapshots; mutate state through the engine.
type Preview struct {
	ID          string
	Path        string // normalized key
	Original    string
	Proposed    string
	Mode        Mode
	Anchored    bool // the document covers the whole file and can be finalized
	FellBack    bool // the full-file reconcile failed and the original was kept
	Streaming   bool
	Doc         *text.AnnotatedDocument
	Decorations []text.Decoration
	CreatedAt   time.Time

	decisions    map[int]text.Decision
	lastAccessNs int64
}

// Regions returns the change regions of the preview
func (p *Preview) Regions() []text.Region {
	return p.Doc.Regions()
}

// Decision returns the decision recorded for a region, if any
func (p *Preview) Decision(region int) (text.Decision, bool) {
	d, ok := p.decisions[region]
	return d, ok
}

// Decisions returns a copy of every recorded decision
func (p *Preview) Decisions() map[int]text.Decision {
	return maps.Clone(p.decisions)
}

// Undecided returns how many regions have no decision yet
func (p *Preview) Undecided() int {
	n := 0
	for _, r := range p.Doc.Regions() {
		if _, ok := p.decisions[r.Index]; !ok {
			n++
		}
	}
	return n
}

func (p *Preview) toMetrics() *metrics.PreviewMetrics {
	added, removed := p.Doc.Counts()
	return &metrics.PreviewMetrics{
		ID:        p.ID,
		Mode:      p.Mode.String(),
		Additions: added,
		Deletions: removed,
		Regions:   len(p.Doc.Regions()),
		FellBack:  p.FellBack,
		ShownAt:   p.CreatedAt,
	}
}

// rejectedCount returns how many regions were explicitly rejected
func (p *Preview) rejectedCount() int {
	n := 0
	for _, d := range p.decisions {
		if d == text.Reject {
			n++
		}
	}
	return n
}

func (p *Preview) snapshot() *Preview {
	cp := *p
	cp.decisions = maps.Clone(p.decisions)
	if cp.decisions == nil {
		cp.decisions = map[int]text.Decision{}
	}
	return &cp
}

// Preview returns a snapshot of the preview for path
func (e *Engine) Preview(path string) (*Preview, error) {
	key, err := e.key(path)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.previews[key]
	if !ok {
		return nil, ErrNoPreview
	}
	return p.snapshot(), nil
}

// Paths returns the keys of all current previews, sorted
func (e *Engine) Paths() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	paths := make([]string, 0, len(e.previews))
	for path := range e.previews {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// originalFor returns the original text of a shown preview, since the buffer
// then holds display lines, or current otherwise
func (e *Engine) originalFor(path, current string) string {
	key, err := e.key(path)
	if err != nil {
		return current
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.previews[key]; ok {
		return p.Original
	}
	return current
}

// storePreviewUnsafe saves p and evicts the least recently touched previews
// above MaxPreviews. Caller holds e.mu.
func (e *Engine) storePreviewUnsafe(p *Preview) []*Preview {
	p.lastAccessNs = e.clock.Now().UnixNano()
	e.previews[p.Path] = p
	return e.trimPreviewsUnsafe(e.config.MaxPreviews)
}

// touchUnsafe marks p as recently used. Caller holds e.mu.
func (e *Engine) touchUnsafe(p *Preview) {
	p.lastAccessNs = e.clock.Now().UnixNano()
}

// trimPreviewsUnsafe keeps only the most recently touched maxPreviews previews
// and returns the evicted ones. Caller holds e.mu.
func (e *Engine) trimPreviewsUnsafe(maxPreviews int) []*Preview {
	if maxPreviews <= 0 || len(e.previews) <= maxPreviews {
		return nil
	}

	entries := make([]*Preview, 0, len(e.previews))
	for _, p := range e.previews {
		entries = append(entries, p)
	}
	// Most recent first
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccessNs > entries[j].lastAccessNs
	})

	evicted := entries[maxPreviews:]
	for _, p := range evicted {
		delete(e.previews, p.Path)
	}
	return evicted
}

// isBufferUnchanged checks that the editor still shows what the preview put there.
// A mismatch means the user edited the buffer while the preview was open.
func isBufferUnchanged(p *Preview, currentLines []string) bool {
	return text.JoinLines(currentLines) == p.Doc.DisplayCode()
}
