package metrics

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codemerge/logger"
)

const (
	EventShown     = "preview_shown"
	EventApplied   = "preview_applied"
	EventDiscarded = "preview_discarded"
)

type MetricsRequest struct {
	EventType string `json:"event_type"`
	PreviewID string `json:"preview_id"`
	Mode      string `json:"mode"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Regions   int    `json:"regions"`
	Rejected  *int   `json:"rejected"` // applied only
	Lifespan  *int64 `json:"lifespan"` // ms since shown, applied and discarded only
	FellBack  bool   `json:"fell_back"`
	DeviceID  string `json:"device_id"`
}

// PreviewMetrics describes one shown preview
type PreviewMetrics struct {
	ID        string
	Mode      string
	Additions int
	Deletions int
	Regions   int
	FellBack  bool
	ShownAt   time.Time
}

// MetricsTracker posts preview outcomes to a collector. Requests are sent in
// the background and failures are only logged.
type MetricsTracker struct {
	url        string
	apiKey     string
	deviceID   string
	httpClient *http.Client

	wg sync.WaitGroup
}

func NewTracker(url, apiKey, dataDir string) *MetricsTracker {
	return &MetricsTracker{
		url:        url,
		apiKey:     apiKey,
		deviceID:   loadOrCreateDeviceID(dataDir),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *MetricsTracker) TrackShown(m *PreviewMetrics) {
	t.sendRequest(t.request(EventShown, m))
}

func (t *MetricsTracker) TrackApplied(m *PreviewMetrics, rejected int) {
	req := t.request(EventApplied, m)
	req.Rejected = &rejected
	req.Lifespan = lifespan(m)
	t.sendRequest(req)
}

func (t *MetricsTracker) TrackDiscarded(m *PreviewMetrics) {
	req := t.request(EventDiscarded, m)
	req.Lifespan = lifespan(m)
	t.sendRequest(req)
}

// Wait blocks until every request sent so far has finished
func (t *MetricsTracker) Wait() {
	t.wg.Wait()
}

func (t *MetricsTracker) request(eventType string, m *PreviewMetrics) *MetricsRequest {
	return &MetricsRequest{
		EventType: eventType,
		PreviewID: m.ID,
		Mode:      m.Mode,
		Additions: m.Additions,
		Deletions: m.Deletions,
		Regions:   m.Regions,
		FellBack:  m.FellBack,
		DeviceID:  t.deviceID,
	}
}

func lifespan(m *PreviewMetrics) *int64 {
	ms := time.Since(m.ShownAt).Milliseconds()
	return &ms
}

func (t *MetricsTracker) sendRequest(req *MetricsRequest) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		body, err := json.Marshal(req)
		if err != nil {
			logger.Debug("metrics: marshal error: %v", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", t.url, bytes.NewReader(body))
		if err != nil {
			logger.Debug("metrics: create request error: %v", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if t.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
		}

		resp, err := t.httpClient.Do(httpReq)
		if err != nil {
			logger.Debug("metrics: send error: %v", err)
			return
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			logger.Debug("metrics: server returned %d for %s", resp.StatusCode, req.EventType)
		} else {
			logger.Debug("metrics: sent %s (id=%s)", req.EventType, req.PreviewID)
		}
	}()
}

func loadOrCreateDeviceID(dataDir string) string {
	if dataDir == "" {
		return GenerateUUID()
	}

	idPath := filepath.Join(dataDir, "device_id")

	data, err := os.ReadFile(idPath)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id
		}
	}

	id := GenerateUUID()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Warn("metrics: could not create data dir %s: %v", dataDir, err)
		return id
	}
	if err := os.WriteFile(idPath, []byte(id), 0644); err != nil {
		logger.Warn("metrics: could not write device_id: %v", err)
	}
	return id
}

func GenerateUUID() string {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	uuid[6] = (uuid[6] & 0x0f) | 0x40 // version 4
	uuid[8] = (uuid[8] & 0x3f) | 0x80 // variant 2
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		uuid[0:4], uuid[4:6], uuid[6:8], uuid[8:10], uuid[10:16])
}
