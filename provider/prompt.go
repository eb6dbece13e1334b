package provider

import (
	"fmt"
	"strings"

	"codemerge/client/openai"
)

// PromptBuilder builds the chat request from the context
type PromptBuilder func(r *Reconciler, ctx *Context) *openai.ChatRequest

const systemPrompt = `You merge a proposed code snippet into an existing file.

Rules:
- Use only lines present in the new snippet for the parts it changes.
- Do not introduce code that appears in neither the original file nor the snippet.
- Preserve the original file's structure, imports and comments everywhere the snippet does not change it.
- Strip sentinel comments such as "// NEW:", "// REMOVED:" and "// ... existing code ...".
- Return only the complete final file. No markdown fencing, no commentary.`

// BuildChatPrompt is the default PromptBuilder
func BuildChatPrompt(r *Reconciler, ctx *Context) *openai.ChatRequest {
	req := ctx.Request

	var user strings.Builder
	if req.FilePath != "" {
		fmt.Fprintf(&user, "File: %s\n\n", req.FilePath)
	}
	if req.Instructions != "" {
		fmt.Fprintf(&user, "Requested change:\n%s\n\n", req.Instructions)
	}
	if ctx.Extra != nil && ctx.Extra.GitDiff != nil {
		if ctx.Extra.GitDiff.Summarized {
			user.WriteString("Declarations changed since the last commit:\n")
		} else {
			user.WriteString("Uncommitted changes to this file:\n")
		}
		user.WriteString("<recent_changes>\n")
		user.WriteString(strings.TrimRight(ctx.Extra.GitDiff.Diff, "\n"))
		user.WriteString("\n</recent_changes>\n\n")
	}
	user.WriteString("<original>\n")
	user.WriteString(req.Original)
	user.WriteString("\n</original>\n\n<snippet>\n")
	user.WriteString(req.Snippet)
	user.WriteString("\n</snippet>\n")

	return &openai.ChatRequest{
		Model: r.Config.ProviderModel,
		Messages: []openai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature: r.Config.ProviderTemperature,
		MaxTokens:   r.Config.ProviderMaxTokens,
	}
}
