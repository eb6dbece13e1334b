package types

// Config is the process configuration, read from CODEMERGE_CONFIG (JSON) and
// optionally a YAML file
type Config struct {
	NsID                   int     `json:"ns_id" yaml:"ns_id"`
	ProviderURL            string  `json:"provider_url" yaml:"provider_url"`
	ProviderModel          string  `json:"provider_model" yaml:"provider_model"`
	ProviderTemperature    float64 `json:"provider_temperature" yaml:"provider_temperature"`
	ProviderMaxTokens      int     `json:"provider_max_tokens" yaml:"provider_max_tokens"`
	APIKeyEnv              string  `json:"api_key_env" yaml:"api_key_env"`               // name of the env var holding the API key
	CompletionTimeout      int     `json:"completion_timeout" yaml:"completion_timeout"` // in milliseconds
	CompressRequests       bool    `json:"compress_requests" yaml:"compress_requests"`
	ProviderStreaming      bool    `json:"provider_streaming" yaml:"provider_streaming"` // stream full-file merges and preview them as they arrive
	MaxInputTokens         int     `json:"max_input_tokens" yaml:"max_input_tokens"`
	MaxDiffCells           int     `json:"max_diff_cells" yaml:"max_diff_cells"` // 0 = default, negative = always diff whole files
	MetricsURL             string  `json:"metrics_url" yaml:"metrics_url"`       // preview outcomes are posted here when set
	LogLevel               string  `json:"log_level" yaml:"log_level"`           // trace, debug, info, warn, error
	DebugImmediateShutdown bool    `json:"debug_immediate_shutdown" yaml:"debug_immediate_shutdown"`
}

// DefaultConfig is used for any field left unset
var DefaultConfig = Config{
	NsID:                0,
	ProviderURL:         "http://localhost:8000",
	ProviderModel:       "gpt-4o-mini",
	ProviderTemperature: 0,
	ProviderMaxTokens:   4096,
	APIKeyEnv:           "OPENAI_API_KEY",
	CompletionTimeout:   60000,
	MaxInputTokens:      32000,
	MaxDiffCells:        4_000_000,
	LogLevel:            "info",
}

// ProviderConfig holds configuration for the reconcile provider
type ProviderConfig struct {
	ProviderURL         string  // Base URL of an OpenAI-compatible server
	APIKey              string  // Resolved API key, empty for local servers
	ProviderModel       string  // Model name
	ProviderTemperature float64 // Sampling temperature
	ProviderMaxTokens   int     // Max tokens to generate
	MaxInputTokens      int     // Reject inputs estimated above this many tokens (0 = no limit)
	CompletionTimeout   int     // Timeout for requests in milliseconds
	CompressRequests    bool    // Send brotli-compressed request bodies
	Streaming           bool    // Use SSE streaming for chat requests
	WorkspacePath       string  // git diff context is gathered here when set
}

// ReconcileRequest asks for a full-file merge of a snippet into the original file
type ReconcileRequest struct {
	FilePath     string // only used for prompts and logging
	Original     string
	Snippet      string
	Instructions string // optional user request the snippet answers

	// OnPartial, when set, is called with the merged file as produced so far
	// while a streaming provider is still generating it
	OnPartial func(code string)
}

// ReconcileResult is the outcome of a full-file merge. On failure Code is the
// original text unchanged, FellBack is set and Err says why.
type ReconcileResult struct {
	Code     string
	FellBack bool
	Err      error
}

// ContextResult is extra context gathered for a reconcile prompt
type ContextResult struct {
	GitDiff *GitDiffContext
}

// GitDiffContext holds the uncommitted changes of the file being reconciled
type GitDiffContext struct {
	Diff       string
	Summarized bool // only changed declaration lines, the full diff was too large
}
