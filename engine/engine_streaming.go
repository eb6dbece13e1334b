package engine

import (
	"context"
	"strings"
	"sync"

	"codemerge/logger"
	"codemerge/metrics"
	"codemerge/text"
)

// StreamPropose previews a proposal while it is still arriving. chunks carries
// successive pieces of the proposed text; each one is appended and the
// accumulated text re-parsed and rendered. Partial previews are unanchored and
// cannot be finalized. When chunks is closed the full text goes through
// Propose's normal path and the final preview is returned.
func (e *Engine) StreamPropose(ctx context.Context, filePath, original string, chunks <-chan string) (*Preview, error) {
	defer logger.Trace("engine.StreamPropose")()

	key, err := e.key(filePath)
	if err != nil {
		return nil, err
	}

	ctx, done, err := e.beginRequest(ctx, key)
	if err != nil {
		return nil, err
	}
	defer done()

	var acc strings.Builder
	renderedLines := -1

	for {
		select {
		case <-ctx.Done():
			e.abandonStream(key, original)
			return nil, ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				p, err := e.buildPreview(ctx, key, original, acc.String())
				if err != nil {
					e.abandonStream(key, original)
					return nil, err
				}
				if err := ctx.Err(); err != nil {
					e.abandonStream(key, original)
					return nil, err
				}
				return e.publish(p), nil
			}

			acc.WriteString(chunk)
			// Only complete lines change the parse
			lines := strings.Count(acc.String(), "\n")
			if lines == renderedLines {
				continue
			}
			renderedLines = lines
			e.publishPartial(key, original, acc.String())
		}
	}
}

// publishPartial renders the hunks parsed so far. Text without markers yet is
// not rendered: it may still turn out to be a hunked proposal.
func (e *Engine) publishPartial(key, original, proposed string) {
	doc := text.ParseHunkedChange(proposed)
	if doc == nil {
		return
	}
	e.publishStreaming(metrics.GenerateUUID(), key, original, proposed, ModeHunks, doc)
}

// publishStreaming shows a preview that is still being produced. It is
// unanchored and cannot be finalized.
func (e *Engine) publishStreaming(id, key, original, proposed string, mode Mode, doc *text.AnnotatedDocument) {
	e.publish(&Preview{
		ID:          id,
		Path:        key,
		Original:    original,
		Proposed:    proposed,
		Mode:        mode,
		Streaming:   true,
		Doc:         doc,
		Decorations: text.BuildDecorations(doc),
		CreatedAt:   e.clock.Now(),
		decisions:   map[int]text.Decision{},
	})
}

// abandonStream drops a partial preview and puts the original text back
func (e *Engine) abandonStream(key, original string) {
	e.abandonStreaming(key, "", original)
}

// abandonStreaming drops the streaming preview for key, only if its ID is id
// when id is set, and restores the original text
func (e *Engine) abandonStreaming(key, id, original string) {
	e.mu.Lock()
	p, ok := e.previews[key]
	ok = ok && p.Streaming && (id == "" || p.ID == id)
	if ok {
		delete(e.previews, key)
	}
	b := e.buffer
	e.mu.Unlock()

	if ok && b != nil {
		if err := b.Apply(key, original); err != nil {
			logger.Warn("restore after abandoned stream %s: %v", key, err)
		}
	}
}

// stream feeds chunks received over RPC into a running StreamPropose
type stream struct {
	mu     sync.Mutex
	ch     chan string
	closed bool

	quit     chan struct{} // closed when the consumer has gone away
	quitOnce sync.Once
}

func newStream() *stream {
	return &stream{ch: make(chan string, 64), quit: make(chan struct{})}
}

func (s *stream) send(ctx context.Context, chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- chunk:
	case <-s.quit:
	case <-ctx.Done():
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *stream) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// handleStreamChunk routes a chunk from the editor. The first chunk for a
// path starts a StreamPropose; done closes it.
func (e *Engine) handleStreamChunk(path, chunk string, done bool) {
	key, err := e.key(path)
	if err != nil {
		logger.Warn("stream chunk: %v", err)
		return
	}

	e.mu.Lock()
	ctx := e.mainCtx
	if e.stopped || ctx == nil {
		e.mu.Unlock()
		return
	}
	s, ok := e.streams[key]
	if !ok {
		s = newStream()
		e.streams[key] = s
	}
	var original string
	if p, shown := e.previews[key]; shown {
		original = p.Original
	}
	b := e.buffer
	e.mu.Unlock()

	if !ok {
		if original == "" && b != nil {
			lines, err := b.Lines(path)
			if err != nil {
				e.notify(Notification{Level: LevelError, Path: key, Message: "could not read buffer", Err: err})
				e.dropStream(key, s)
				return
			}
			original = text.JoinLines(lines)
		}
		go func() {
			defer e.dropStream(key, s)
			if _, err := e.StreamPropose(ctx, path, original, s.ch); err != nil && ctx.Err() == nil {
				e.notify(Notification{Level: LevelError, Path: key, Message: "streamed proposal failed", Err: err})
			}
		}()
	}

	if chunk != "" {
		s.send(ctx, chunk)
	}
	if done {
		e.mu.Lock()
		if e.streams[key] == s {
			delete(e.streams, key)
		}
		e.mu.Unlock()
		s.close()
	}
}

func (e *Engine) dropStream(key string, s *stream) {
	e.mu.Lock()
	if e.streams[key] == s {
		delete(e.streams, key)
	}
	e.mu.Unlock()
	s.stop()
	s.close()
}
