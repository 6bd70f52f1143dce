// Package ollama is a minimal client for the Ollama generate API, used as
// the fallback generation backend on cache misses.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Timeout bounds a single generate call. There are no retries: a slow or
// unreachable backend resolves to "no answer" so the caller can fall back
// promptly instead of piling up requests.
const Timeout = 60 * time.Second

// ErrNoAnswer means the backend returned no usable answer: non-200 status,
// transport failure, or an empty response field.
var ErrNoAnswer = errors.New("backend returned no usable answer")

// Options are the sampling parameters forwarded to the model.
// A negative Seed means no fixed seed and is omitted from the request.
type Options struct {
	TopP          float64
	TopK          int
	RepeatPenalty float64
	MinP          float64
	Seed          int
}

// Client calls one Ollama server.
type Client struct {
	baseURL string
	model   string
	opts    Options
	http    *http.Client
}

// NewClient returns a client for the server at baseURL generating with
// model. A trailing slash on baseURL is tolerated.
func NewClient(baseURL, model string, opts Options) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		opts:    opts,
		http:    &http.Client{Timeout: Timeout},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	System  string         `json:"system,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate asks the model to answer prompt. system may be empty.
//
// Any failure (transport, timeout, non-200 status, malformed body, empty
// response) is reported as an error wrapping [ErrNoAnswer]; callers treat
// all of them the same way.
func (c *Client) Generate(ctx context.Context, prompt, system string) (string, error) {
	req := generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		System:  system,
		Options: c.options(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: encoding request: %w", ErrNoAnswer, err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: building request: %w", ErrNoAnswer, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoAnswer, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrNoAnswer, resp.StatusCode)
	}

	var out generateResponse

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrNoAnswer, err)
	}

	if out.Response == "" {
		return "", ErrNoAnswer
	}

	return out.Response, nil
}

// options builds the request options object, omitting it entirely when
// every field is at its zero value.
func (c *Client) options() map[string]any {
	opts := make(map[string]any)

	if c.opts.TopP != 0 {
		opts["top_p"] = c.opts.TopP
	}

	if c.opts.TopK != 0 {
		opts["top_k"] = c.opts.TopK
	}

	if c.opts.RepeatPenalty != 0 {
		opts["repeat_penalty"] = c.opts.RepeatPenalty
	}

	if c.opts.MinP != 0 {
		opts["min_p"] = c.opts.MinP
	}

	if c.opts.Seed >= 0 {
		opts["seed"] = c.opts.Seed
	}

	if len(opts) == 0 {
		return nil
	}

	return opts
}
