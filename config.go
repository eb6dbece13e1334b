package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"codemerge/engine"
	"codemerge/types"

	"gopkg.in/yaml.v3"
)

// configEnv holds a JSON config, set by the editor plugin when it spawns the client
const configEnv = "CODEMERGE_CONFIG"

// loadConfig starts from types.DefaultConfig, applies the YAML file at path
// (if any), then the JSON in CODEMERGE_CONFIG. Fields absent from a layer keep
// the value of the layer below.
func loadConfig(path string) (types.Config, error) {
	config := types.DefaultConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if raw := os.Getenv(configEnv); raw != "" {
		if err := json.Unmarshal([]byte(raw), &config); err != nil {
			return config, fmt.Errorf("invalid %s: %w", configEnv, err)
		}
	}

	return config, nil
}

func providerConfig(config types.Config) *types.ProviderConfig {
	var apiKey string
	if config.APIKeyEnv != "" {
		apiKey = os.Getenv(config.APIKeyEnv)
	}
	return &types.ProviderConfig{
		ProviderURL:         config.ProviderURL,
		APIKey:              apiKey,
		ProviderModel:       config.ProviderModel,
		ProviderTemperature: config.ProviderTemperature,
		ProviderMaxTokens:   config.ProviderMaxTokens,
		MaxInputTokens:      config.MaxInputTokens,
		CompletionTimeout:   config.CompletionTimeout,
		CompressRequests:    config.CompressRequests,
		Streaming:           config.ProviderStreaming,
		WorkspacePath:       workspacePath(),
	}
}

func engineConfig(config types.Config) engine.EngineConfig {
	ec := engine.DefaultEngineConfig()
	ec.MaxDiffCells = config.MaxDiffCells
	if config.CompletionTimeout > 0 {
		ec.ReconcileTimeout = time.Duration(config.CompletionTimeout) * time.Millisecond
	}
	return ec
}

// workspacePath is the directory recent-change context is gathered from
func workspacePath() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}
