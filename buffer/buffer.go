package buffer

import (
	"errors"
	"fmt"
	"sync"

	"codemerge/engine"
	"codemerge/logger"
	"codemerge/text"
	"codemerge/utils"

	"github.com/neovim/go-client/nvim"
)

var (
	errNoClient      = errors.New("nvim client not set")
	errBufferMissing = errors.New("no loaded buffer for file")
)

type Config struct {
	NsID          int
	WorkspacePath string
}

// NvimBuffer renders previews into Neovim buffers. Buffers are looked up by
// file path, so one NvimBuffer serves every file of a connection.
type NvimBuffer struct {
	client *nvim.Nvim // stored internally, set via SetClient

	mu     sync.Mutex
	ids    map[string]nvim.Buffer // path -> last resolved buffer handle
	config Config
}

func New(config Config) *NvimBuffer {
	return &NvimBuffer{
		ids:    map[string]nvim.Buffer{},
		config: config,
	}
}

// SetClient sets the nvim client for this buffer
func (b *NvimBuffer) SetClient(n *nvim.Nvim) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = n
	b.ids = map[string]nvim.Buffer{}
}

func (b *NvimBuffer) nvimClient() (*nvim.Nvim, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, errNoClient
	}
	return b.client, nil
}

// resolve finds the loaded buffer showing path. A cached handle is reused while
// its name still matches.
func (b *NvimBuffer) resolve(client *nvim.Nvim, path string) (nvim.Buffer, error) {
	want := utils.NormalizePath(path, b.config.WorkspacePath)

	b.mu.Lock()
	cached, ok := b.ids[want]
	b.mu.Unlock()
	if ok {
		var name string
		var valid bool
		batch := client.NewBatch()
		batch.IsBufferValid(cached, &valid)
		batch.BufferName(cached, &name)
		if err := batch.Execute(); err == nil && valid && utils.NormalizePath(name, b.config.WorkspacePath) == want {
			return cached, nil
		}
	}

	bufs, err := client.Buffers()
	if err != nil {
		return 0, fmt.Errorf("list buffers: %w", err)
	}

	names := make([]string, len(bufs))
	batch := client.NewBatch()
	for i, buf := range bufs {
		batch.BufferName(buf, &names[i])
	}
	if err := batch.Execute(); err != nil {
		return 0, fmt.Errorf("buffer names: %w", err)
	}

	idx := matchBuffer(names, want, b.config.WorkspacePath)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s", errBufferMissing, path)
	}

	b.mu.Lock()
	b.ids[want] = bufs[idx]
	b.mu.Unlock()
	return bufs[idx], nil
}

// matchBuffer returns the index of the first name that normalizes to want, or -1
func matchBuffer(names []string, want, workspacePath string) int {
	if want == "" {
		return -1
	}
	for i, name := range names {
		if name == "" {
			continue
		}
		if utils.NormalizePath(name, workspacePath) == want {
			return i
		}
	}
	return -1
}

// Lines reads the current content of the buffer showing path
func (b *NvimBuffer) Lines(path string) ([]string, error) {
	defer logger.Trace("buffer.Lines")()
	client, err := b.nvimClient()
	if err != nil {
		return nil, err
	}
	id, err := b.resolve(client, path)
	if err != nil {
		return nil, err
	}

	lines, err := client.BufferLines(id, 0, -1, false)
	if err != nil {
		return nil, fmt.Errorf("read lines of %s: %w", path, err)
	}
	return toStrings(lines), nil
}

// ShowPreview writes the display lines of doc into the buffer and hands the
// decorations to the Lua side for highlighting.
func (b *NvimBuffer) ShowPreview(path string, doc *text.AnnotatedDocument, decorations []text.Decoration, decisions map[int]text.Decision) error {
	defer logger.Trace("buffer.ShowPreview")()
	client, err := b.nvimClient()
	if err != nil {
		return err
	}
	id, err := b.resolve(client, path)
	if err != nil {
		return err
	}

	payload := previewPayload(path, doc, decorations, decisions)

	batch := client.NewBatch()
	batch.ClearBufferNamespace(id, b.config.NsID, 0, -1)
	batch.SetBufferLines(id, 0, -1, false, toBytes(doc.Lines))
	batch.ExecLua("require('codemerge').on_preview_ready(...)", nil, int(id), payload)
	if err := batch.Execute(); err != nil {
		logger.Error("error showing preview for %s: %v", path, err)
		return err
	}
	logger.Debug("sent preview for %s: %d lines, %d regions", path, len(doc.Lines), len(doc.Regions()))
	return nil
}

// previewPayload is the table passed to on_preview_ready
func previewPayload(path string, doc *text.AnnotatedDocument, decorations []text.Decoration, decisions map[int]text.Decision) map[string]any {
	payload := text.ToLuaFormat(doc, decorations, 1)
	payload["path"] = path
	payload["decisions"] = regionDecisions(len(doc.Regions()), decisions)
	return payload
}

// regionDecisions lists each region's state in order: "accept", "reject" or "pending"
func regionDecisions(regions int, decisions map[int]text.Decision) []string {
	out := make([]string, regions)
	for i := range out {
		if d, ok := decisions[i]; ok {
			out[i] = d.String()
		} else {
			out[i] = "pending"
		}
	}
	return out
}

// Apply replaces the buffer content with content and removes all highlights
func (b *NvimBuffer) Apply(path string, content string) error {
	defer logger.Trace("buffer.Apply")()
	client, err := b.nvimClient()
	if err != nil {
		return err
	}
	id, err := b.resolve(client, path)
	if err != nil {
		return err
	}

	batch := client.NewBatch()
	batch.ClearBufferNamespace(id, b.config.NsID, 0, -1)
	batch.SetBufferLines(id, 0, -1, false, toBytes(text.SplitLines(content)))
	batch.ExecLua("require('codemerge').on_clear(...)", nil, int(id))
	return batch.Execute()
}

// ClearUI removes the preview highlights without touching buffer content
func (b *NvimBuffer) ClearUI(path string) error {
	client, err := b.nvimClient()
	if err != nil {
		return err
	}
	id, err := b.resolve(client, path)
	if err != nil {
		return err
	}

	logger.Debug("sending to lua on_clear for %s", path)
	batch := client.NewBatch()
	batch.ClearBufferNamespace(id, b.config.NsID, 0, -1)
	batch.ExecLua("require('codemerge').on_clear(...)", nil, int(id))
	return batch.Execute()
}

// Notify shows n through vim.notify
func (b *NvimBuffer) Notify(n engine.Notification) error {
	client, err := b.nvimClient()
	if err != nil {
		return err
	}
	return client.ExecLua(`
		local msg, level = ...
		vim.notify(msg, level, { title = "codemerge" })
	`, nil, "codemerge: "+n.String(), nvimLogLevel(n.Level))
}

// nvimLogLevel maps a notification level onto vim.log.levels
func nvimLogLevel(l engine.Level) int {
	switch l {
	case engine.LevelError:
		return 4
	case engine.LevelWarn:
		return 3
	default:
		return 2
	}
}

// RegisterEventHandler registers a handler for nvim RPC events
func (b *NvimBuffer) RegisterEventHandler(handler func(event string)) error {
	client, err := b.nvimClient()
	if err != nil {
		return err
	}
	return client.RegisterHandler("codemerge_event", func(_ *nvim.Nvim, event string) {
		handler(event)
	})
}

// RegisterProposeHandler registers the handler for whole proposals sent by the plugin
func (b *NvimBuffer) RegisterProposeHandler(handler func(path, proposed string)) error {
	client, err := b.nvimClient()
	if err != nil {
		return err
	}
	return client.RegisterHandler("codemerge_propose", func(_ *nvim.Nvim, path, proposed string) {
		handler(path, proposed)
	})
}

// RegisterStreamHandler registers the handler for proposals arriving in chunks
func (b *NvimBuffer) RegisterStreamHandler(handler func(path, chunk string, done bool)) error {
	client, err := b.nvimClient()
	if err != nil {
		return err
	}
	return client.RegisterHandler("codemerge_stream", func(_ *nvim.Nvim, path, chunk string, done bool) {
		handler(path, chunk, done)
	})
}

func toBytes(lines []string) [][]byte {
	out := make([][]byte, len(lines))
	for i, line := range lines {
		out[i] = []byte(line)
	}
	return out
}

func toStrings(lines [][]byte) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = string(line)
	}
	return out
}
