package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codemerge/logger"
	"codemerge/metrics"
	"codemerge/text"
	"codemerge/types"
)

// Propose builds a preview of proposed against original and shows it.
//
// Proposals containing SEARCH/REPLACE markers are anchored onto original; when
// a search block cannot be found the hunks are still previewed on their own,
// unanchored. Anything else goes through the Reconciler and is diffed against
// original. A newer proposal for the same file cancels an in-flight one.
func (e *Engine) Propose(ctx context.Context, filePath, original, proposed string) (*Preview, error) {
	defer logger.Trace("engine.Propose")()

	key, err := e.key(filePath)
	if err != nil {
		return nil, err
	}

	ctx, done, err := e.beginRequest(ctx, key)
	if err != nil {
		return nil, err
	}
	defer done()

	p, err := e.buildPreview(ctx, key, original, proposed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return e.publish(p), nil
}

// beginRequest cancels any in-flight proposal for key and registers a new one
func (e *Engine) beginRequest(parent context.Context, key string) (context.Context, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, nil, ErrEngineStopped
	}

	if prev, ok := e.inflight[key]; ok {
		logger.Debug("cancelling in-flight proposal for %s", key)
		prev.cancel()
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if e.config.ReconcileTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, e.config.ReconcileTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	req := &request{cancel: cancel}
	e.inflight[key] = req

	return ctx, func() {
		e.mu.Lock()
		if e.inflight[key] == req {
			delete(e.inflight, key)
		}
		e.mu.Unlock()
		cancel()
	}, nil
}

func (e *Engine) buildPreview(ctx context.Context, key, original, proposed string) (*Preview, error) {
	p := &Preview{
		ID:        metrics.GenerateUUID(),
		Path:      key,
		Original:  original,
		Proposed:  proposed,
		CreatedAt: e.clock.Now(),
		decisions: map[int]text.Decision{},
	}

	if strings.Contains(proposed, text.SearchMarker) {
		p.Mode = ModeHunks
		doc, err := text.MergeIntoOriginal(original, proposed)
		switch {
		case err == nil:
			p.Anchored = true
		case errors.Is(err, text.ErrSearchNotFound), errors.Is(err, text.ErrNoHunks):
			doc = text.ParseHunkedChange(proposed)
			e.notify(Notification{Level: LevelWarn, Path: key, Message: "could not anchor hunks, showing them unanchored", Err: err})
		default:
			return nil, err
		}
		p.Doc = doc
		if doc.Truncated() {
			e.notify(Notification{Level: LevelWarn, Path: key, Message: "proposal ends inside an unterminated hunk"})
		}
	} else {
		p.Mode = ModeFullFile
		doc, fellBack, err := e.reconcile(ctx, key, original, proposed)
		if err != nil {
			return nil, err
		}
		p.Anchored = true
		p.FellBack = fellBack
		p.Doc = doc
	}

	p.Decorations = text.BuildDecorations(p.Doc)
	added, removed := p.Doc.Counts()
	logger.Debug("preview for %s: mode=%s anchored=%v +%d -%d regions=%d",
		key, p.Mode, p.Anchored, added, removed, len(p.Doc.Regions()))
	return p, nil
}

// reconcile runs the full-file path. A failed reconcile is not an error: the
// document is the unchanged original and a notification says why.
func (e *Engine) reconcile(ctx context.Context, key, original, proposed string) (*text.AnnotatedDocument, bool, error) {
	if e.reconciler == nil {
		return nil, false, ErrNoReconciler
	}

	req := &types.ReconcileRequest{
		FilePath: key,
		Original: original,
		Snippet:  proposed,
	}

	// Partial output is rendered once per completed line
	partialID := metrics.GenerateUUID()
	origLines := text.SplitLines(original)
	renderedLines, shown := 0, false
	req.OnPartial = func(code string) {
		if ctx.Err() != nil {
			return
		}
		lines := strings.Count(code, "\n")
		if lines == renderedLines {
			return
		}
		renderedLines = lines
		complete := code[:strings.LastIndex(code, "\n")]
		doc := text.PartialDocument(origLines, text.SplitLines(complete), e.config.MaxDiffCells)
		e.publishStreaming(partialID, key, original, proposed, ModeFullFile, doc)
		shown = true
	}

	res := e.reconciler.Reconcile(ctx, req)
	if err := ctx.Err(); err != nil {
		if shown {
			e.abandonStreaming(key, partialID, original)
		}
		return nil, false, err
	}
	if res.FellBack {
		e.notify(Notification{Level: LevelError, Path: key, Message: "reconcile failed, original kept", Err: res.Err})
	}

	doc := text.DiffDocument(text.SplitLines(original), text.SplitLines(res.Code), e.config.MaxDiffCells)
	return doc, res.FellBack, nil
}

// publish stores p, renders it and returns a snapshot
func (e *Engine) publish(p *Preview) *Preview {
	e.mu.Lock()
	evicted := e.storePreviewUnsafe(p)
	snap := p.snapshot()
	b := e.buffer
	t := e.tracker
	e.mu.Unlock()

	if t != nil {
		for _, old := range evicted {
			t.TrackDiscarded(old.toMetrics())
		}
		if !snap.Streaming {
			t.TrackShown(snap.toMetrics())
		}
	}

	if b != nil {
		for _, old := range evicted {
			logger.Info("evicting preview for %s", old.Path)
			if err := b.Apply(old.Path, old.Original); err != nil {
				logger.Warn("restore evicted preview %s: %v", old.Path, err)
			}
		}
		e.render(b, snap)
	}
	return snap
}

func (e *Engine) render(b Buffer, p *Preview) {
	if err := b.ShowPreview(p.Path, p.Doc, p.Decorations, p.decisions); err != nil {
		e.notify(Notification{Level: LevelError, Path: p.Path, Message: "could not show preview", Err: fmt.Errorf("show preview: %w", err)})
	}
}
