package engine

import "github.com/calvinalkan/qacache/internal/ollama"

// Config is the engine's configuration surface. It is pushed in whole by
// the host (CLI, service wrapper); the engine derives everything else from
// it. The zero value is not usable, start from [DefaultConfig].
type Config struct {
	// BaseFile is the base path of the store file pair. The per-policy
	// variant paths and the backup slot are derived from it.
	BaseFile string

	// MatchPunctuation selects the matching policy. True means only
	// exact-fingerprint repeats hit the cache; false additionally matches
	// punctuation-insensitively and learns aliases.
	MatchPunctuation bool

	// BaseURL and Model identify the generation backend.
	BaseURL string
	Model   string

	// SystemPrompt is passed to the backend on every generate call.
	// If InjectDateTime is set, the current date and time are appended.
	SystemPrompt   string
	InjectDateTime bool

	// Sampling holds the model sampling parameters.
	Sampling ollama.Options
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseFile:         "qa_cache.json",
		MatchPunctuation: true,
		BaseURL:          "http://127.0.0.1:11434",
		Model:            "llama3",
		Sampling: ollama.Options{
			TopP:          0.9,
			TopK:          40,
			RepeatPenalty: 1.1,
			MinP:          0,
			Seed:          -1,
		},
	}
}

// policyOnlyChange reports whether next differs from prev in the matching
// policy and nothing else.
func policyOnlyChange(prev, next Config) bool {
	if prev.MatchPunctuation == next.MatchPunctuation {
		return false
	}

	aligned := next
	aligned.MatchPunctuation = prev.MatchPunctuation

	return aligned == prev
}
