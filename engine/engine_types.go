package engine

import (
	"context"
	"time"

	"codemerge/metrics"
	"codemerge/text"
	"codemerge/types"
)

// Buffer defines the interface for editor operations.
// Implemented by buffer.NvimBuffer for Neovim integration.
type Buffer interface {
	Lines(path string) ([]string, error)
	ShowPreview(path string, doc *text.AnnotatedDocument, decorations []text.Decoration, decisions map[int]text.Decision) error
	Apply(path string, text string) error
	ClearUI(path string) error
	Notify(n Notification) error
	RegisterEventHandler(handler func(event string)) error
	RegisterProposeHandler(handler func(path, proposed string)) error
	RegisterStreamHandler(handler func(path, chunk string, done bool)) error
}

// Reconciler merges a snippet without hunk markers into the full original file.
// Implemented by provider.Reconciler. It must not fail: on error it returns
// the original text with FellBack set.
type Reconciler interface {
	Reconcile(ctx context.Context, req *types.ReconcileRequest) *types.ReconcileResult
}

// Tracker records what happened to shown previews.
// Implemented by metrics.MetricsTracker.
type Tracker interface {
	TrackShown(m *metrics.PreviewMetrics)
	TrackApplied(m *metrics.PreviewMetrics, rejected int)
	TrackDiscarded(m *metrics.PreviewMetrics)
}

// Clock abstracts time for testing
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Mode says which path produced a preview
type Mode int

const (
	ModeHunks    Mode = iota // SEARCH/REPLACE markers were present
	ModeFullFile             // reconciled through the provider
)

func (m Mode) String() string {
	if m == ModeHunks {
		return "hunks"
	}
	return "full_file"
}

type EngineConfig struct {
	MaxDiffCells     int           // Trim common affixes before diffing above this table size (0 = default, negative = never)
	MaxPreviews      int           // Keep at most this many previews, least recently touched dropped first (0 = no limit)
	ReconcileTimeout time.Duration // Per-request timeout for the full-file path (0 = none)
	NotifyBuffer     int           // Capacity of the notification channel
}

// DefaultEngineConfig returns the config used when fields are left zero
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxDiffCells:     4_000_000,
		MaxPreviews:      16,
		ReconcileTimeout: 60 * time.Second,
		NotifyBuffer:     32,
	}
}
