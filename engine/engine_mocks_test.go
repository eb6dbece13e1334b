package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"codemerge/metrics"
	"codemerge/text"
	"codemerge/types"
)

// --- Mock implementations ---

// mockBuffer implements the Buffer interface for testing
type mockBuffer struct {
	mu    sync.Mutex
	files map[string][]string

	// Track method calls
	shown        map[string]*text.AnnotatedDocument
	shownCalls   int
	shownDocs    []*text.AnnotatedDocument
	lastDecision map[int]text.Decision
	applied      map[string]string
	clearCalls   int
	notified     []Notification
	linesErr     error

	eventHandler   func(event string)
	proposeHandler func(path, proposed string)
	streamHandler  func(path, chunk string, done bool)
}

func newMockBuffer() *mockBuffer {
	return &mockBuffer{
		files:   map[string][]string{},
		shown:   map[string]*text.AnnotatedDocument{},
		applied: map[string]string{},
	}
}

func (b *mockBuffer) setFile(path, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[path] = text.SplitLines(content)
}

func (b *mockBuffer) Lines(path string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.linesErr != nil {
		return nil, b.linesErr
	}
	lines, ok := b.files[path]
	if !ok {
		return nil, errors.New("no buffer for " + path)
	}
	return append([]string(nil), lines...), nil
}

func (b *mockBuffer) ShowPreview(path string, doc *text.AnnotatedDocument, decorations []text.Decoration, decisions map[int]text.Decision) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shownCalls++
	b.shownDocs = append(b.shownDocs, doc)
	b.shown[path] = doc
	b.lastDecision = decisions
	b.files[path] = append([]string(nil), doc.Lines...)
	return nil
}

func (b *mockBuffer) Apply(path string, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applied[path] = content
	b.files[path] = text.SplitLines(content)
	delete(b.shown, path)
	return nil
}

func (b *mockBuffer) ClearUI(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearCalls++
	delete(b.shown, path)
	return nil
}

func (b *mockBuffer) Notify(n Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notified = append(b.notified, n)
	return nil
}

func (b *mockBuffer) RegisterEventHandler(handler func(event string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventHandler = handler
	return nil
}

func (b *mockBuffer) RegisterProposeHandler(handler func(path, proposed string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proposeHandler = handler
	return nil
}

func (b *mockBuffer) RegisterStreamHandler(handler func(path, chunk string, done bool)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamHandler = handler
	return nil
}

func (b *mockBuffer) shownDoc(path string) *text.AnnotatedDocument {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shown[path]
}

func (b *mockBuffer) appliedText(path string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.applied[path]
	return s, ok
}

// mockReconciler implements Reconciler for testing
type mockReconciler struct {
	mu       sync.Mutex
	code     string
	fail     error
	calls    int
	lastReq  *types.ReconcileRequest
	partials []string      // passed to req.OnPartial before returning
	block    chan struct{} // when set, Reconcile waits on it or ctx
	started  chan struct{}
	startOne sync.Once
}

func (r *mockReconciler) Reconcile(ctx context.Context, req *types.ReconcileRequest) *types.ReconcileResult {
	r.mu.Lock()
	r.calls++
	r.lastReq = req
	block := r.block
	code, fail := r.code, r.fail
	partials := r.partials
	r.mu.Unlock()

	if req.OnPartial != nil {
		for _, p := range partials {
			req.OnPartial(p)
		}
	}
	if r.started != nil {
		r.startOne.Do(func() { close(r.started) })
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &types.ReconcileResult{Code: req.Original, FellBack: true, Err: ctx.Err()}
		}
	}

	if fail != nil {
		return &types.ReconcileResult{Code: req.Original, FellBack: true, Err: fail}
	}
	return &types.ReconcileResult{Code: code}
}

// mockTracker records tracked events as "<event>:<mode>" plus the rejected counts
type mockTracker struct {
	mu       sync.Mutex
	events   []string
	ids      []string
	rejected []int
}

func (t *mockTracker) record(event string, m *metrics.PreviewMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event+":"+m.Mode)
	t.ids = append(t.ids, m.ID)
}

func (t *mockTracker) TrackShown(m *metrics.PreviewMetrics) { t.record("shown", m) }

func (t *mockTracker) TrackApplied(m *metrics.PreviewMetrics, rejected int) {
	t.record("applied", m)
	t.mu.Lock()
	t.rejected = append(t.rejected, rejected)
	t.mu.Unlock()
}

func (t *mockTracker) TrackDiscarded(m *metrics.PreviewMetrics) { t.record("discarded", m) }

// mockClock implements Clock for testing
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// createTestEngine builds an engine rooted at /ws with the mocks attached
func createTestEngine(buf *mockBuffer, rec Reconciler, clock *mockClock) *Engine {
	eng, _ := NewEngine(rec, EngineConfig{MaxPreviews: 4, NotifyBuffer: 8})
	eng.WorkspacePath = "/ws"
	eng.clock = clock
	eng.Start(context.Background())
	if buf != nil {
		if err := eng.SetBuffer(buf); err != nil {
			panic(err)
		}
	}
	return eng
}

// drainNotifications returns everything currently queued
func drainNotifications(eng *Engine) []Notification {
	var out []Notification
	for {
		select {
		case n := <-eng.Notifications():
			out = append(out, n)
		default:
			return out
		}
	}
}
