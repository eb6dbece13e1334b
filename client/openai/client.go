package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codemerge/logger"

	"github.com/andybalholm/brotli"
)

// ChatPath is appended to the client URL for every request
const ChatPath = "/v1/chat/completions"

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest matches the OpenAI Chat Completions API format
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream"`
}

// ChatResponse matches the OpenAI Chat Completions API response format
type ChatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Content returns the first choice's message content and finish reason
func (r *ChatResponse) Content() (string, string) {
	if r == nil || len(r.Choices) == 0 {
		return "", ""
	}
	return r.Choices[0].Message.Content, r.Choices[0].FinishReason
}

// StreamChunk represents a single SSE chunk from a streaming response
type StreamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamResult contains the result of a streaming chat request
type StreamResult struct {
	Text         string
	FinishReason string
	StoppedEarly bool // the caller cancelled or the stream ended without [DONE]
}

// Client is a reusable OpenAI-compatible chat client
type Client struct {
	HTTPClient *http.Client
	URL        string
	APIKey     string
	Compress   bool
}

// NewClient creates a new OpenAI-compatible client
// timeoutMs is the HTTP client timeout in milliseconds (0 = no timeout)
func NewClient(url, apiKey string, timeoutMs int, compress bool) *Client {
	timeout := time.Duration(0)
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		URL:        strings.TrimSuffix(url, "/"),
		APIKey:     apiKey,
		Compress:   compress,
	}
}

// DoChat sends a non-streaming chat request
func (c *Client) DoChat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	defer logger.Trace("openai.DoChat")()
	req.Stream = false

	resp, err := c.send(ctx, req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var chat ChatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &chat, nil
}

// DoStreamingChat sends a streaming chat request. onDelta, when non-nil, is
// called with the accumulated text after every content chunk.
func (c *Client) DoStreamingChat(ctx context.Context, req *ChatRequest, onDelta func(accumulated string)) (*StreamResult, error) {
	defer logger.Trace("openai.DoStreamingChat")()
	req.Stream = true

	resp, err := c.send(ctx, req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := readStream(ctx, resp.Body, onDelta)
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// readStream reads an SSE body until [DONE], EOF or cancellation
func readStream(ctx context.Context, body io.Reader, onDelta func(string)) *StreamResult {
	var textBuilder strings.Builder
	var finishReason string
	done := false

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Text()

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if line == "data: [DONE]" {
			done = true
			break
		}
		jsonData, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(jsonData), &chunk); err != nil {
			logger.Debug("openai stream: failed to parse chunk: %v", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			textBuilder.WriteString(delta)
			if onDelta != nil {
				onDelta(textBuilder.String())
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			finishReason = chunk.Choices[0].FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug("openai stream: scanner error: %v", err)
	}

	return &StreamResult{
		Text:         textBuilder.String(),
		FinishReason: finishReason,
		StoppedEarly: !done && finishReason == "",
	}
}

// send marshals req, optionally brotli-compresses it, posts it and checks the status.
// The caller closes the response body.
func (c *Client) send(ctx context.Context, req *ChatRequest, accept string) (*http.Response, error) {
	// Marshal the request without HTML escaping
	var reqBodyBuf bytes.Buffer
	encoder := json.NewEncoder(&reqBodyBuf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var body io.Reader = &reqBodyBuf
	if c.Compress {
		// Quality 1 for speed
		var compressedBuf bytes.Buffer
		brotliWriter := brotli.NewWriterLevel(&compressedBuf, 1)
		if _, err := brotliWriter.Write(reqBodyBuf.Bytes()); err != nil {
			return nil, fmt.Errorf("failed to compress request: %w", err)
		}
		if err := brotliWriter.Close(); err != nil {
			return nil, fmt.Errorf("failed to close brotli writer: %w", err)
		}
		body = &compressedBuf
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.URL+ChatPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if c.Compress {
		httpReq.Header.Set("Content-Encoding", "br")
	}
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(errBody))
	}
	return resp, nil
}
