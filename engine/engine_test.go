package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"codemerge/text"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hunkProposal = "<<<<<<< SEARCH\nb\n=======\nB\n>>>>>>> REPLACE"

func TestPropose_HunksAnchoredOntoOriginal(t *testing.T) {
	buf := newMockBuffer()
	eng := createTestEngine(buf, &mockReconciler{}, newMockClock())
	defer eng.Stop()

	p, err := eng.Propose(context.Background(), "main.go", "a\nb\nc", hunkProposal)
	require.NoError(t, err)

	assert.Equal(t, "main.go", p.Path)
	assert.Equal(t, ModeHunks, p.Mode)
	assert.True(t, p.Anchored)
	assert.Equal(t, []string{"a", "b", "B", "c"}, p.Doc.Lines)
	assert.Equal(t, []text.LineType{text.LineContext, text.LineRemoved, text.LineAdded, text.LineContext}, p.Doc.Types)
	assert.Len(t, p.Decorations, 2)

	assert.Same(t, p.Doc, buf.shownDoc("main.go"), "preview rendered")
}

func TestPropose_UnanchoredHunksFallBackToHunkOnlyDocument(t *testing.T) {
	buf := newMockBuffer()
	eng := createTestEngine(buf, &mockReconciler{}, newMockClock())
	defer eng.Stop()

	p, err := eng.Propose(context.Background(), "main.go", "x\ny", hunkProposal)
	require.NoError(t, err)

	assert.False(t, p.Anchored)
	assert.Equal(t, []string{"b", "B"}, p.Doc.Lines)

	notes := drainNotifications(eng)
	require.Len(t, notes, 1)
	assert.Equal(t, LevelWarn, notes[0].Level)
	assert.ErrorIs(t, notes[0].Err, text.ErrSearchNotFound)

	_, err = eng.Finalize("main.go")
	assert.ErrorIs(t, err, ErrNotAnchored)
}

func TestPropose_FullFileUsesReconciler(t *testing.T) {
	buf := newMockBuffer()
	rec := &mockReconciler{code: "a\nB\nc"}
	eng := createTestEngine(buf, rec, newMockClock())
	defer eng.Stop()

	p, err := eng.Propose(context.Background(), "/ws/pkg/file.go", "a\nb\nc", "B")
	require.NoError(t, err)

	assert.Equal(t, "pkg/file.go", p.Path, "workspace-relative key")
	assert.Equal(t, ModeFullFile, p.Mode)
	assert.True(t, p.Anchored)
	assert.False(t, p.FellBack)
	assert.Equal(t, "a\nb\nc", p.Doc.OldText())
	assert.Equal(t, "a\nB\nc", p.Doc.NewText())

	require.Equal(t, 1, rec.calls)
	assert.Equal(t, "pkg/file.go", rec.lastReq.FilePath)
	assert.Equal(t, "B", rec.lastReq.Snippet)
}

func TestPropose_FullFileShowsPartialOutput(t *testing.T) {
	buf := newMockBuffer()
	rec := &mockReconciler{code: "a\nX\nb\nc", partials: []string{"a", "a\nX\n", "a\nX\nb"}}
	eng := createTestEngine(buf, rec, newMockClock())
	defer eng.Stop()

	p, err := eng.Propose(context.Background(), "main.go", "a\nb\nc", "X")
	require.NoError(t, err)

	buf.mu.Lock()
	defer buf.mu.Unlock()
	require.Len(t, buf.shownDocs, 2, "one partial render per completed line, then the final preview")

	partial := buf.shownDocs[0]
	assert.Equal(t, []string{"a", "X", "b", "c"}, partial.Lines)
	assert.Equal(t, []text.LineType{text.LineContext, text.LineAdded, text.LineContext, text.LineContext}, partial.Types)
	assert.True(t, partial.Truncated())

	assert.Same(t, p.Doc, buf.shownDocs[1])
	assert.False(t, p.Streaming)
	assert.True(t, p.Anchored)
}

func TestPropose_CancelledReconcileDropsPartialPreview(t *testing.T) {
	buf := newMockBuffer()
	rec := &mockReconciler{partials: []string{"a\nX\n"}, block: make(chan struct{}), started: make(chan struct{})}
	eng := createTestEngine(buf, rec, newMockClock())
	defer eng.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := eng.Propose(ctx, "main.go", "a\nb", "X")
		errc <- err
	}()

	<-rec.started
	p, err := eng.Preview("main.go")
	require.NoError(t, err)
	assert.True(t, p.Streaming)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	_, err = eng.Preview("main.go")
	assert.ErrorIs(t, err, ErrNoPreview)
	buf.mu.Lock()
	defer buf.mu.Unlock()
	assert.Equal(t, "a\nb", buf.applied["main.go"])
}

func TestPropose_ReconcileFailureKeepsOriginalAndNotifies(t *testing.T) {
	rec := &mockReconciler{fail: errors.New("model unavailable")}
	eng := createTestEngine(newMockBuffer(), rec, newMockClock())
	defer eng.Stop()

	p, err := eng.Propose(context.Background(), "main.go", "a\nb", "whatever")
	require.NoError(t, err, "fail-safe never surfaces as an error")

	assert.True(t, p.FellBack)
	assert.False(t, p.Doc.HasChanges())
	assert.Equal(t, "a\nb", p.Doc.NewText())

	notes := drainNotifications(eng)
	require.Len(t, notes, 1)
	assert.Equal(t, LevelError, notes[0].Level)
	assert.EqualError(t, notes[0].Err, "model unavailable")
}

func TestPropose_NoReconciler(t *testing.T) {
	eng := createTestEngine(nil, nil, newMockClock())
	defer eng.Stop()

	_, err := eng.Propose(context.Background(), "main.go", "a", "b")
	assert.ErrorIs(t, err, ErrNoReconciler)

	// The hunk path never needs one
	_, err = eng.Propose(context.Background(), "main.go", "a\nb", hunkProposal)
	assert.NoError(t, err)
}

func TestPropose_EmptyPath(t *testing.T) {
	eng := createTestEngine(nil, &mockReconciler{}, newMockClock())
	defer eng.Stop()

	_, err := eng.Propose(context.Background(), "", "a", hunkProposal)
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestPropose_PathsMatchAcrossForms(t *testing.T) {
	eng := createTestEngine(nil, &mockReconciler{}, newMockClock())
	defer eng.Stop()

	_, err := eng.Propose(context.Background(), "./src/../src/a.go", "a\nb", hunkProposal)
	require.NoError(t, err)

	for _, path := range []string{"src/a.go", "/ws/src/a.go", "./src/a.go"} {
		p, err := eng.Preview(path)
		require.NoError(t, err, path)
		assert.Equal(t, "src/a.go", p.Path)
	}
	assert.Equal(t, []string{"src/a.go"}, eng.Paths())
}

func TestPropose_NewerProposalCancelsInFlight(t *testing.T) {
	rec := &mockReconciler{code: "slow", block: make(chan struct{}), started: make(chan struct{})}
	eng := createTestEngine(nil, rec, newMockClock())
	defer eng.Stop()

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.Propose(context.Background(), "main.go", "a\nb", "slow snippet")
		errCh <- err
	}()
	<-rec.started

	p, err := eng.Propose(context.Background(), "main.go", "a\nb", hunkProposal)
	require.NoError(t, err)
	assert.Equal(t, ModeHunks, p.Mode)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight proposal was not cancelled")
	}

	current, err := eng.Preview("main.go")
	require.NoError(t, err)
	assert.Equal(t, ModeHunks, current.Mode, "the cancelled proposal did not overwrite the newer one")
}

func TestPropose_EvictsLeastRecentlyTouched(t *testing.T) {
	buf := newMockBuffer()
	clock := newMockClock()
	eng := createTestEngine(buf, &mockReconciler{}, clock)
	defer eng.Stop()

	for _, name := range []string{"a.go", "b.go", "c.go", "d.go"} {
		_, err := eng.Propose(context.Background(), name, "a\nb", hunkProposal)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	// Touch a.go so b.go is the oldest
	require.NoError(t, eng.Accept("a.go", 0))
	clock.Advance(time.Second)

	_, err := eng.Propose(context.Background(), "e.go", "a\nb", hunkProposal)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go", "c.go", "d.go", "e.go"}, eng.Paths())
	restored, ok := buf.appliedText("b.go")
	assert.True(t, ok, "evicted preview restored")
	assert.Equal(t, "a\nb", restored)
}

func TestNotifications_DropOldestWhenFull(t *testing.T) {
	eng, err := NewEngine(nil, EngineConfig{NotifyBuffer: 2})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		eng.notify(Notification{Path: "f", Message: string(rune('a' + i))})
	}

	notes := drainNotifications(eng)
	require.Len(t, notes, 2)
	assert.Equal(t, "d", notes[0].Message)
	assert.Equal(t, "e", notes[1].Message)
}

func TestStop_RejectsNewWork(t *testing.T) {
	eng := createTestEngine(nil, &mockReconciler{}, newMockClock())
	eng.Stop()
	eng.Stop() // idempotent

	_, err := eng.Propose(context.Background(), "main.go", "a\nb", hunkProposal)
	assert.ErrorIs(t, err, ErrEngineStopped)
	assert.ErrorIs(t, eng.SetBuffer(newMockBuffer()), ErrEngineStopped)
}

func TestSetBuffer_BeforeStart(t *testing.T) {
	eng, err := NewEngine(nil, EngineConfig{})
	require.NoError(t, err)
	assert.ErrorIs(t, eng.SetBuffer(newMockBuffer()), ErrNotStarted)
}

func TestProposeHandler_UsesBufferContents(t *testing.T) {
	buf := newMockBuffer()
	buf.setFile("main.go", "a\nb\nc")
	eng := createTestEngine(buf, &mockReconciler{}, newMockClock())
	defer eng.Stop()

	buf.proposeHandler("main.go", hunkProposal)

	require.Eventually(t, func() bool {
		_, err := eng.Preview("main.go")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	p, err := eng.Preview("main.go")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc", p.Original)
	assert.True(t, p.Anchored)
}

func TestProposeHandler_SecondProposalUsesOriginalNotDisplay(t *testing.T) {
	buf := newMockBuffer()
	buf.setFile("main.go", "a\nb\nc")
	eng := createTestEngine(buf, &mockReconciler{}, newMockClock())
	defer eng.Stop()

	_, err := eng.Propose(context.Background(), "main.go", "a\nb\nc", hunkProposal)
	require.NoError(t, err)
	// The buffer now shows the display lines "a b B c"

	buf.proposeHandler("main.go", "<<<<<<< SEARCH\nc\n=======\nC\n>>>>>>> REPLACE")

	require.Eventually(t, func() bool {
		p, err := eng.Preview("main.go")
		return err == nil && p.Doc.NewText() == "a\nb\nC"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEvents_RoutedThroughEventLoop(t *testing.T) {
	buf := newMockBuffer()
	eng := createTestEngine(buf, &mockReconciler{}, newMockClock())
	defer eng.Stop()

	_, err := eng.Propose(context.Background(), "main.go", "a\nb\nc", hunkProposal)
	require.NoError(t, err)

	buf.eventHandler("reject:main.go:0")
	buf.eventHandler("finalize:main.go")

	require.Eventually(t, func() bool {
		_, ok := buf.appliedText("main.go")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	final, _ := buf.appliedText("main.go")
	assert.Equal(t, "a\nb\nc", final, "rejected region keeps the original line")
	_, err = eng.Preview("main.go")
	assert.ErrorIs(t, err, ErrNoPreview)
}

func TestEvents_FailuresBecomeNotifications(t *testing.T) {
	buf := newMockBuffer()
	eng := createTestEngine(buf, &mockReconciler{}, newMockClock())
	defer eng.Stop()

	buf.eventHandler("accept:missing.go:0")

	require.Eventually(t, func() bool {
		for _, n := range drainNotifications(eng) {
			if errors.Is(n.Err, ErrNoPreview) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		raw     string
		want    Event
		wantErr bool
	}{
		{raw: "accept:main.go:2", want: Event{Type: EventAccept, Path: "main.go", Region: 2}},
		{raw: "reject:C:/src/a.go:0", want: Event{Type: EventReject, Path: "C:/src/a.go", Region: 0}},
		{raw: "accept_all:a:b.go", want: Event{Type: EventAcceptAll, Path: "a:b.go"}},
		{raw: "reject_all:x.go", want: Event{Type: EventRejectAll, Path: "x.go"}},
		{raw: "finalize:x.go", want: Event{Type: EventFinalize, Path: "x.go"}},
		{raw: "discard:x.go", want: Event{Type: EventDiscard, Path: "x.go"}},
		{raw: "accept:main.go", wantErr: true},
		{raw: "accept:main.go:x", wantErr: true},
		{raw: "finalize", wantErr: true},
		{raw: "explode:main.go", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseEvent(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewEngine_MaxDiffCells(t *testing.T) {
	eng, err := NewEngine(nil, EngineConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig().MaxDiffCells, eng.config.MaxDiffCells, "zero takes the default")

	eng, err = NewEngine(nil, EngineConfig{MaxDiffCells: -1})
	require.NoError(t, err)
	assert.Equal(t, -1, eng.config.MaxDiffCells, "negative is kept")
}
