package engine

import (
	"fmt"

	"codemerge/logger"
	"codemerge/text"
)

// Accept keeps the added lines of a region
func (e *Engine) Accept(path string, region int) error {
	return e.decide(path, region, text.Accept)
}

// Reject keeps the removed lines of a region
func (e *Engine) Reject(path string, region int) error {
	return e.decide(path, region, text.Reject)
}

// AcceptAll accepts every region of the preview
func (e *Engine) AcceptAll(path string) error {
	return e.decideAll(path, text.Accept)
}

// RejectAll rejects every region of the preview
func (e *Engine) RejectAll(path string) error {
	return e.decideAll(path, text.Reject)
}

func (e *Engine) decide(path string, region int, d text.Decision) error {
	return e.updatePreview(path, func(p *Preview) error {
		if region < 0 || region >= len(p.Doc.Regions()) {
			return fmt.Errorf("%w: %d (preview has %d)", ErrInvalidRegion, region, len(p.Doc.Regions()))
		}
		p.decisions[region] = d
		logger.Debug("%s region %d: %s", p.Path, region, d)
		return nil
	})
}

func (e *Engine) decideAll(path string, d text.Decision) error {
	return e.updatePreview(path, func(p *Preview) error {
		for _, r := range p.Doc.Regions() {
			p.decisions[r.Index] = d
		}
		logger.Debug("%s all regions: %s", p.Path, d)
		return nil
	})
}

// updatePreview applies fn to the stored preview and re-renders it
func (e *Engine) updatePreview(path string, fn func(p *Preview) error) error {
	key, err := e.key(path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	p, ok := e.previews[key]
	if !ok {
		e.mu.Unlock()
		return ErrNoPreview
	}
	if err := fn(p); err != nil {
		e.mu.Unlock()
		return err
	}
	e.touchUnsafe(p)
	snap := p.snapshot()
	b := e.buffer
	e.mu.Unlock()

	if b != nil {
		e.render(b, snap)
	}
	return nil
}

// Finalize resolves the preview, writes the result to the editor and drops the
// preview. Regions without a decision are accepted.
func (e *Engine) Finalize(path string) (string, error) {
	defer logger.Trace("engine.Finalize")()

	key, err := e.key(path)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	p, ok := e.previews[key]
	if !ok {
		e.mu.Unlock()
		return "", ErrNoPreview
	}
	if !p.Anchored || p.Streaming {
		e.mu.Unlock()
		return "", ErrNotAnchored
	}
	b := e.buffer
	e.mu.Unlock()

	// Buffer reads happen without the lock; the preview is re-checked below
	if b != nil {
		lines, err := b.Lines(key)
		if err != nil {
			return "", fmt.Errorf("read buffer: %w", err)
		}
		if !isBufferUnchanged(p, lines) {
			return "", ErrStalePreview
		}
	}

	e.mu.Lock()
	if e.previews[key] != p {
		e.mu.Unlock()
		return "", ErrNoPreview
	}
	undecided := p.Undecided()
	rejected := p.rejectedCount()
	result := p.Doc.Resolve(p.decisions, text.Accept)
	delete(e.previews, key)
	t := e.tracker
	e.mu.Unlock()

	if t != nil {
		t.TrackApplied(p.toMetrics(), rejected)
	}

	if b != nil {
		if err := b.Apply(key, result); err != nil {
			return "", fmt.Errorf("apply: %w", err)
		}
	}

	added, removed := p.Doc.Counts()
	e.notify(Notification{Level: LevelInfo, Path: key,
		Message: fmt.Sprintf("applied change (+%d -%d, %d regions accepted by default)", added, removed, undecided)})
	return result, nil
}

// Discard drops the preview and restores the original text
func (e *Engine) Discard(path string) error {
	key, err := e.key(path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	p, ok := e.previews[key]
	if !ok {
		e.mu.Unlock()
		return ErrNoPreview
	}
	delete(e.previews, key)
	if req, ok := e.inflight[key]; ok {
		req.cancel()
	}
	b := e.buffer
	t := e.tracker
	e.mu.Unlock()

	if t != nil {
		t.TrackDiscarded(p.toMetrics())
	}

	if b != nil {
		if err := b.Apply(key, p.Original); err != nil {
			return fmt.Errorf("restore original: %w", err)
		}
	}
	logger.Info("discarded preview for %s", key)
	return nil
}
