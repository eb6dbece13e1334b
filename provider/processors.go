package provider

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"codemerge/logger"
	"codemerge/utils"
)

// Preprocessor processes the context before prompt building.
// Return ErrSkip to skip without error, or another error to fail.
type Preprocessor func(r *Reconciler, ctx *Context) error

// Postprocessor inspects or rewrites ctx.Code. A non-nil error rejects the result.
type Postprocessor func(r *Reconciler, ctx *Context) error

// ErrSkip is a sentinel error that preprocessors return to skip the model
// call without treating it as an error.
var ErrSkip = errors.New("skip reconcile")

var (
	ErrInputTooLarge = errors.New("input exceeds token budget")
	ErrEmptyResult   = errors.New("empty result")
	ErrTruncated     = errors.New("result truncated")
)

// --- Preprocessors ---

// SkipIfIdentical returns a preprocessor that skips when the snippet already equals the original
func SkipIfIdentical() Preprocessor {
	return func(r *Reconciler, ctx *Context) error {
		if strings.TrimRight(ctx.Request.Snippet, "\n") == strings.TrimRight(ctx.Request.Original, "\n") {
			logger.Debug("%s: skipping, snippet identical to original", r.Name)
			return ErrSkip
		}
		return nil
	}
}

// LimitInputSize returns a preprocessor that rejects inputs over the configured token budget
func LimitInputSize() Preprocessor {
	return func(r *Reconciler, ctx *Context) error {
		req := ctx.Request
		if !utils.FitsTokenBudget(r.Config.MaxInputTokens, req.Original, req.Snippet, req.Instructions) {
			return fmt.Errorf("%w: ~%d tokens, limit %d", ErrInputTooLarge,
				utils.EstimateTokens(req.Original+req.Snippet+req.Instructions), r.Config.MaxInputTokens)
		}
		return nil
	}
}

// --- Postprocessors ---

// RejectTruncated returns a postprocessor that rejects results cut off by max_tokens
func RejectTruncated() Postprocessor {
	return func(r *Reconciler, ctx *Context) error {
		if ctx.Result.FinishReason == "length" || ctx.Result.StoppedEarly {
			logger.Info("%s: rejected, truncated (finish_reason=%q)", r.Name, ctx.Result.FinishReason)
			return ErrTruncated
		}
		return nil
	}
}

var fencePattern = regexp.MustCompile("(?s)^\\s*```[\\w+.-]*[ \\t]*\\r?\\n(.*?)\\r?\\n?```\\s*$")

// StripMarkdownFence returns a postprocessor that removes a fence wrapping the whole result
func StripMarkdownFence() Postprocessor {
	return func(r *Reconciler, ctx *Context) error {
		if m := fencePattern.FindStringSubmatch(ctx.Code); m != nil {
			ctx.Code = m[1]
		}
		return nil
	}
}

// stripOpeningFence drops a leading ```lang line from output that is still
// arriving. The closing fence is left to StripMarkdownFence.
func stripOpeningFence(partial string) string {
	trimmed := strings.TrimLeft(partial, " \t\r\n")
	if !strings.HasPrefix(trimmed, "```") {
		return partial
	}
	_, rest, found := strings.Cut(trimmed, "\n")
	if !found {
		return ""
	}
	return rest
}

var sentinelPattern = regexp.MustCompile(`^\s*(//|#|--)\s*(NEW:|REMOVED:|\.\.\.\s*(existing|rest of)\b.*)`)

// StripSentinelComments returns a postprocessor that drops lines that are
// only a sentinel comment such as "// NEW:" or "// ... existing code ..."
func StripSentinelComments() Postprocessor {
	return func(r *Reconciler, ctx *Context) error {
		lines := strings.Split(ctx.Code, "\n")
		kept := lines[:0]
		dropped := 0
		for _, line := range lines {
			if isSentinelLine(line) {
				dropped++
				continue
			}
			kept = append(kept, line)
		}
		if dropped > 0 {
			logger.Debug("%s: stripped %d sentinel comment lines", r.Name, dropped)
			ctx.Code = strings.Join(kept, "\n")
		}
		return nil
	}
}

// isSentinelLine matches a whole-line sentinel. "// NEW: foo" with trailing text
// is kept unless it is the bare marker.
func isSentinelLine(line string) bool {
	m := sentinelPattern.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	if m[3] != "" {
		return true
	}
	rest := strings.TrimSpace(line[strings.Index(line, m[2])+len(m[2]):])
	return rest == ""
}

// RejectEmpty returns a postprocessor that rejects whitespace-only results
func RejectEmpty() Postprocessor {
	return func(r *Reconciler, ctx *Context) error {
		if strings.TrimSpace(ctx.Code) == "" {
			logger.Debug("%s: rejected, empty or whitespace-only", r.Name)
			return ErrEmptyResult
		}
		return nil
	}
}
