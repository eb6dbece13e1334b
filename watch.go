package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"codemerge/engine"
	"codemerge/logger"
	"codemerge/text"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the bursts of events a single save produces
const watchDebounce = 50 * time.Millisecond

type watchCommand struct {
	Args fileArgs `positional-args:"yes"`
}

func (c *watchCommand) Execute(args []string) error {
	s, err := newSession(os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.run(ctx, s)
}

// run streams the proposal file into the engine as it grows. Appended text is
// sent as a chunk; any other rewrite starts a new stream. When ctx ends the
// stream is closed and the final preview printed.
func (c *watchCommand) run(ctx context.Context, s *session) error {
	original, err := os.ReadFile(c.Args.Original)
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}
	proposalPath, err := filepath.Abs(c.Args.Proposal)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often save by renaming over the file
	if err := watcher.Add(filepath.Dir(proposalPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(proposalPath), err)
	}

	term := newTerminalBuffer(s.renderer, s.stdout)
	if err := s.engine.SetBuffer(term); err != nil {
		return err
	}

	feeder := &streamFeeder{
		engine:   s.engine,
		path:     c.Args.Original,
		original: string(original),
	}
	defer feeder.stop()

	if err := feeder.update(proposalPath); err != nil {
		fmt.Fprintln(s.stderr, err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			p, err := feeder.finish()
			s.flushNotifications()
			if err != nil {
				return err
			}
			if p != nil {
				fmt.Fprint(s.stdout, renderPreview(s.renderer, p))
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != proposalPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(s.stderr, "watch error: %v\n", err)

		case <-debounce:
			debounce = nil
			if err := feeder.update(proposalPath); err != nil {
				fmt.Fprintln(s.stderr, err)
			}
			s.flushNotifications()
		}
	}
}

// streamFeeder turns successive snapshots of the proposal into StreamPropose chunks
type streamFeeder struct {
	engine   *engine.Engine
	path     string
	original string

	sent   string
	chunks chan string
	result chan streamResult
	cancel context.CancelFunc
}

type streamResult struct {
	preview *engine.Preview
	err     error
}

func (f *streamFeeder) update(proposalPath string) error {
	data, err := os.ReadFile(proposalPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read proposal: %w", err)
	}
	content := string(data)

	if f.chunks == nil || !strings.HasPrefix(content, f.sent) {
		f.restart()
	}

	// A stream can end on its own when its request times out; retry once on a fresh one
	for i := 0; i < 2; i++ {
		delta := content[len(f.sent):]
		if delta == "" {
			return nil
		}
		select {
		case f.chunks <- delta:
			f.sent = content
			return nil
		case res := <-f.result:
			logger.Debug("stream for %s ended early: %v", f.path, res.err)
			f.restart()
		}
	}
	return fmt.Errorf("stream for %s keeps ending", f.path)
}

// restart abandons the current stream, if any, and begins a new one. The newer
// stream cancels the older one inside the engine.
func (f *streamFeeder) restart() {
	f.stop()

	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan string)
	result := make(chan streamResult, 1)
	go func() {
		p, err := f.engine.StreamPropose(ctx, f.path, f.original, chunks)
		result <- streamResult{preview: p, err: err}
	}()

	f.sent = ""
	f.chunks = chunks
	f.result = result
	f.cancel = cancel
}

// finish closes the stream and waits for the final preview
func (f *streamFeeder) finish() (*engine.Preview, error) {
	if f.chunks == nil {
		return nil, nil
	}
	close(f.chunks)
	res := <-f.result
	f.chunks = nil
	f.cancel()
	f.cancel = nil
	return res.preview, res.err
}

func (f *streamFeeder) stop() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.chunks = nil
}

// terminalBuffer is an engine.Buffer that prints previews instead of editing a
// buffer. The shown lines are kept so Lines answers like an editor would.
type terminalBuffer struct {
	mu       sync.Mutex
	renderer *lipgloss.Renderer
	out      io.Writer
	files    map[string][]string
}

func newTerminalBuffer(r *lipgloss.Renderer, out io.Writer) *terminalBuffer {
	return &terminalBuffer{renderer: r, out: out, files: map[string][]string{}}
}

func (t *terminalBuffer) Lines(path string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines, ok := t.files[path]
	if !ok {
		return nil, fmt.Errorf("nothing shown for %s", path)
	}
	return append([]string(nil), lines...), nil
}

func (t *terminalBuffer) ShowPreview(path string, doc *text.AnnotatedDocument, decorations []text.Decoration, decisions map[int]text.Decision) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[path] = append([]string(nil), doc.Lines...)

	added, removed := doc.Counts()
	title := fmt.Sprintf("%s (+%d -%d)", path, added, removed)
	_, err := fmt.Fprint(t.out, renderDocument(t.renderer, title, doc, decorations, decisions))
	return err
}

func (t *terminalBuffer) Apply(path string, content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[path] = text.SplitLines(content)
	return nil
}

func (t *terminalBuffer) ClearUI(path string) error { return nil }

func (t *terminalBuffer) Notify(n engine.Notification) error {
	_, err := fmt.Fprintln(t.out, renderNotification(t.renderer, n))
	return err
}

func (t *terminalBuffer) RegisterEventHandler(func(event string)) error { return nil }

func (t *terminalBuffer) RegisterProposeHandler(func(path, proposed string)) error { return nil }

func (t *terminalBuffer) RegisterStreamHandler(func(path, chunk string, done bool)) error { return nil }
