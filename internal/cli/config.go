package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/qacache/internal/engine"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "qac.json"

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigInvalid      = errors.New("invalid config file")
)

// fileConfig mirrors the JSONC config file. Pointer fields distinguish
// "absent" from an explicit zero so absent fields keep their defaults.
type fileConfig struct {
	OllamaBaseURL    string   `json:"ollama_base_url"`
	Model            string   `json:"model"`
	SystemPrompt     *string  `json:"system_prompt"`
	TopP             *float64 `json:"top_p"`
	TopK             *int     `json:"top_k"`
	RepeatPenalty    *float64 `json:"repeat_penalty"`
	MinP             *float64 `json:"min_p"`
	Seed             *int     `json:"seed"`
	DBFilename       string   `json:"db_filename"`
	MatchPunctuation *bool    `json:"match_punctuation"`
	InjectDatetime   *bool    `json:"inject_datetime"`
}

// LoadConfig builds the engine configuration from defaults overlaid with
// the config file at path. When path is empty, [ConfigFileName] in the
// working directory is used and may be absent; an explicitly given path
// must exist.
func LoadConfig(path string) (engine.Config, error) {
	cfg := engine.DefaultConfig()

	mustExist := path != ""
	if path == "" {
		path = ConfigFileName
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}

		return engine.Config{}, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
	}

	fc, err := parseConfig(data)
	if err != nil {
		return engine.Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return mergeConfig(cfg, fc), nil
}

func parseConfig(data []byte) (fileConfig, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

func mergeConfig(base engine.Config, overlay fileConfig) engine.Config {
	if overlay.OllamaBaseURL != "" {
		base.BaseURL = overlay.OllamaBaseURL
	}

	if overlay.Model != "" {
		base.Model = overlay.Model
	}

	if overlay.DBFilename != "" {
		base.BaseFile = overlay.DBFilename
	}

	if overlay.SystemPrompt != nil {
		base.SystemPrompt = *overlay.SystemPrompt
	}

	if overlay.MatchPunctuation != nil {
		base.MatchPunctuation = *overlay.MatchPunctuation
	}

	if overlay.InjectDatetime != nil {
		base.InjectDateTime = *overlay.InjectDatetime
	}

	if overlay.TopP != nil {
		base.Sampling.TopP = *overlay.TopP
	}

	if overlay.TopK != nil {
		base.Sampling.TopK = *overlay.TopK
	}

	if overlay.RepeatPenalty != nil {
		base.Sampling.RepeatPenalty = *overlay.RepeatPenalty
	}

	if overlay.MinP != nil {
		base.Sampling.MinP = *overlay.MinP
	}

	if overlay.Seed != nil {
		base.Sampling.Seed = *overlay.Seed
	}

	return base
}

// FormatConfig returns the effective config as formatted JSON.
func FormatConfig(cfg engine.Config) (string, error) {
	out := map[string]any{
		"ollama_base_url":   cfg.BaseURL,
		"model":             cfg.Model,
		"system_prompt":     cfg.SystemPrompt,
		"top_p":             cfg.Sampling.TopP,
		"top_k":             cfg.Sampling.TopK,
		"repeat_penalty":    cfg.Sampling.RepeatPenalty,
		"min_p":             cfg.Sampling.MinP,
		"seed":              cfg.Sampling.Seed,
		"db_filename":       cfg.BaseFile,
		"match_punctuation": cfg.MatchPunctuation,
		"inject_datetime":   cfg.InjectDateTime,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
