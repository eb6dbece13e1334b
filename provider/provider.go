package provider

import (
	"context"
	"errors"
	"fmt"

	"codemerge/client/openai"
	gather "codemerge/ctx"
	"codemerge/logger"
	"codemerge/types"
)

// Client interface for API calls (enables mocking in tests)
type Client interface {
	DoChat(ctx context.Context, req *openai.ChatRequest) (*openai.ChatResponse, error)
	DoStreamingChat(ctx context.Context, req *openai.ChatRequest, onDelta func(string)) (*openai.StreamResult, error)
}

// Context carries data through the reconcile pipeline
type Context struct {
	Request *types.ReconcileRequest
	Result  *openai.StreamResult
	Code    string // set by the last postprocessor that accepted the result
	Extra   *types.ContextResult
}

// ContextGatherer supplies extra prompt context for a file
type ContextGatherer interface {
	Gather(ctx context.Context, filePath string) *types.ContextResult
}

// Reconciler merges a free-form snippet into a full file through a chat model.
// It implements engine.Reconciler.
type Reconciler struct {
	Name           string
	Config         *types.ProviderConfig
	Client         Client
	Streaming      bool
	Gatherer       ContextGatherer // optional
	Preprocessors  []Preprocessor
	PromptBuilder  PromptBuilder
	Postprocessors []Postprocessor
}

// NewReconciler creates a reconciler with the default pipeline
func NewReconciler(config *types.ProviderConfig) *Reconciler {
	r := &Reconciler{
		Name:      "reconcile",
		Config:    config,
		Streaming: config.Streaming,
		Client:    openai.NewClient(config.ProviderURL, config.APIKey, config.CompletionTimeout, config.CompressRequests),
		Preprocessors: []Preprocessor{
			SkipIfIdentical(),
			LimitInputSize(),
		},
		PromptBuilder: BuildChatPrompt,
		Postprocessors: []Postprocessor{
			RejectTruncated(),
			StripMarkdownFence(),
			StripSentinelComments(),
			RejectEmpty(),
		},
	}
	if config.WorkspacePath != "" {
		r.Gatherer = gather.NewGatherer(config.WorkspacePath)
	}
	return r
}

// Reconcile runs the pipeline. It never fails outright: on any error the
// result carries the original text with FellBack set and Err explaining why.
func (r *Reconciler) Reconcile(ctx context.Context, req *types.ReconcileRequest) *types.ReconcileResult {
	defer logger.Trace("provider.Reconcile")()

	code, err := r.run(ctx, req)
	if err != nil {
		if errors.Is(err, ErrSkip) {
			return &types.ReconcileResult{Code: req.Original}
		}
		logger.Warn("%s: falling back to original for %s: %v", r.Name, req.FilePath, err)
		return &types.ReconcileResult{Code: req.Original, FellBack: true, Err: err}
	}
	return &types.ReconcileResult{Code: code}
}

func (r *Reconciler) run(ctx context.Context, req *types.ReconcileRequest) (string, error) {
	pctx := &Context{Request: req}

	for _, pre := range r.Preprocessors {
		if err := pre(r, pctx); err != nil {
			if errors.Is(err, ErrSkip) {
				return "", err
			}
			return "", fmt.Errorf("%s: %w", r.Name, err)
		}
	}

	if r.Gatherer != nil {
		pctx.Extra = r.Gatherer.Gather(ctx, req.FilePath)
	}

	chatReq := r.PromptBuilder(r, pctx)
	r.logRequest(chatReq)

	var result *openai.StreamResult
	if r.Streaming {
		var err error
		var onDelta func(string)
		if req.OnPartial != nil {
			onDelta = func(accumulated string) {
				req.OnPartial(stripOpeningFence(accumulated))
			}
		}
		result, err = r.Client.DoStreamingChat(ctx, chatReq, onDelta)
		if err != nil {
			return "", fmt.Errorf("%s: %w", r.Name, err)
		}
	} else {
		resp, err := r.Client.DoChat(ctx, chatReq)
		if err != nil {
			return "", fmt.Errorf("%s: %w", r.Name, err)
		}
		result = &openai.StreamResult{}
		result.Text, result.FinishReason = resp.Content()
	}
	pctx.Result = result
	pctx.Code = result.Text
	r.logResponse(result)

	for _, post := range r.Postprocessors {
		if err := post(r, pctx); err != nil {
			return "", fmt.Errorf("%s: %w", r.Name, err)
		}
	}
	return pctx.Code, nil
}

func (r *Reconciler) logRequest(req *openai.ChatRequest) {
	promptLen := 0
	for _, m := range req.Messages {
		promptLen += len(m.Content)
	}
	logger.Debug("%s provider request:\n  URL: %s%s\n  Model: %s\n  Temperature: %.2f\n  MaxTokens: %d\n  Prompt length: %d chars",
		r.Name,
		r.Config.ProviderURL,
		openai.ChatPath,
		req.Model,
		req.Temperature,
		req.MaxTokens,
		promptLen)
}

func (r *Reconciler) logResponse(result *openai.StreamResult) {
	logger.Debug("%s provider response:\n  Text length: %d chars\n  FinishReason: %s\n  StoppedEarly: %v",
		r.Name,
		len(result.Text),
		result.FinishReason,
		result.StoppedEarly)
}
