package engine

import (
	"context"
	"errors"
	"os"
	"sync"

	"codemerge/logger"
	"codemerge/text"
	"codemerge/utils"
)

var (
	ErrNoPreview      = errors.New("no preview for file")
	ErrInvalidRegion  = errors.New("region out of range")
	ErrNotAnchored    = errors.New("preview is not anchored to the file")
	ErrStalePreview   = errors.New("buffer changed since preview was shown")
	ErrEmptyPath      = errors.New("empty file path")
	ErrNoReconciler   = errors.New("no reconciler configured")
	ErrEngineStopped  = errors.New("engine stopped")
	ErrNotStarted     = errors.New("engine not started")
	ErrUnknownCommand = errors.New("unknown event")
)

type Engine struct {
	WorkspacePath string

	reconciler Reconciler
	buffer     Buffer
	tracker    Tracker
	clock      Clock
	config     EngineConfig

	mu       sync.RWMutex
	previews map[string]*Preview
	inflight map[string]*request
	streams  map[string]*stream

	eventChan     chan Event
	notifications chan Notification

	// Main context and cancel for the engine lifecycle
	mainCtx    context.Context
	mainCancel context.CancelFunc
	stopped    bool
	stopOnce   sync.Once
}

// request tracks the in-flight proposal for one file so a newer one can cancel it
type request struct {
	cancel context.CancelFunc
}

func NewEngine(reconciler Reconciler, config EngineConfig) (*Engine, error) {
	workspacePath, err := os.Getwd()
	if err != nil {
		logger.Warn("error getting current directory: %v", err)
		workspacePath = ""
	}

	defaults := DefaultEngineConfig()
	// Negative MaxDiffCells passes through: DiffDocument never trims then
	if config.MaxDiffCells == 0 {
		config.MaxDiffCells = defaults.MaxDiffCells
	}
	if config.NotifyBuffer <= 0 {
		config.NotifyBuffer = defaults.NotifyBuffer
	}

	return &Engine{
		WorkspacePath: workspacePath,
		reconciler:    reconciler,
		clock:         systemClock{},
		config:        config,
		previews:      make(map[string]*Preview),
		inflight:      make(map[string]*request),
		streams:       make(map[string]*stream),
		eventChan:     make(chan Event, 100),
		notifications: make(chan Notification, config.NotifyBuffer),
	}, nil
}

func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.mainCtx, e.mainCancel = context.WithCancel(ctx)
	e.mu.Unlock()

	go e.eventLoop(e.mainCtx)
	logger.Info("engine started")
}

// Stop gracefully shuts down the engine and cancels in-flight proposals
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		logger.Info("stopping engine...")

		e.stopped = true
		if e.mainCancel != nil {
			e.mainCancel()
		}
		for path, req := range e.inflight {
			req.cancel()
			delete(e.inflight, path)
		}
		// Streams and the event loop exit on mainCtx

		logger.Info("engine stopped")
	})
}

// SetBuffer attaches the editor and registers the RPC handlers on it.
// Called once per editor connection.
func (e *Engine) SetBuffer(b Buffer) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	if e.mainCtx == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.buffer = b
	e.mu.Unlock()

	if err := b.RegisterEventHandler(e.enqueueEvent); err != nil {
		return err
	}
	if err := b.RegisterProposeHandler(e.handleProposeRequest); err != nil {
		return err
	}
	return b.RegisterStreamHandler(e.handleStreamChunk)
}

// SetTracker reports shown, applied and discarded previews to t
func (e *Engine) SetTracker(t Tracker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracker = t
}

func (e *Engine) currentBuffer() Buffer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.buffer
}

// key maps a file path to the preview key
func (e *Engine) key(path string) (string, error) {
	key := utils.NormalizePath(path, e.WorkspacePath)
	if key == "" {
		return "", ErrEmptyPath
	}
	return key, nil
}

func (e *Engine) enqueueEvent(raw string) {
	e.mu.RLock()
	stopped := e.stopped
	ctx := e.mainCtx
	e.mu.RUnlock()
	if stopped || ctx == nil {
		return
	}

	event, err := ParseEvent(raw)
	if err != nil {
		logger.Warn("ignoring event %q: %v", raw, err)
		return
	}

	select {
	case e.eventChan <- event:
	case <-ctx.Done():
	}
}

func (e *Engine) eventLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event loop panic recovered: %v", r)
			e.eventLoop(e.mainCtx) // Restart the event loop
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-e.eventChan:
			if !ok {
				return
			}

			e.mu.RLock()
			stopped := e.stopped
			e.mu.RUnlock()
			if stopped {
				return
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("event handler panic recovered for event %v: %v", event.Type, r)
					}
				}()
				e.handleEvent(event)
			}()
		}
	}
}

// handleProposeRequest runs a proposal from the editor without blocking the RPC call
func (e *Engine) handleProposeRequest(path, proposed string) {
	b := e.currentBuffer()
	if b == nil {
		return
	}
	lines, err := b.Lines(path)
	if err != nil {
		e.notify(Notification{Level: LevelError, Path: path, Message: "could not read buffer", Err: err})
		return
	}

	e.mu.RLock()
	ctx := e.mainCtx
	e.mu.RUnlock()

	go func() {
		original := e.originalFor(path, text.JoinLines(lines))
		if _, err := e.Propose(ctx, path, original, proposed); err != nil && !errors.Is(err, context.Canceled) {
			e.notify(Notification{Level: LevelError, Path: path, Message: "proposal failed", Err: err})
		}
	}()
}
