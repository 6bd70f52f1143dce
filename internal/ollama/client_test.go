package ollama_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calvinalkan/qacache/internal/ollama"
)

func Test_Generate_Returns_Response_Field_When_Backend_Succeeds(t *testing.T) {
	t.Parallel()

	var got map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("request = %s %s, want POST /api/generate", r.Method, r.URL.Path)
		}

		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request body: %v", err)
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"response": "3pm"})
	}))
	defer srv.Close()

	client := ollama.NewClient(srv.URL+"/", "llama3", ollama.Options{
		TopP: 0.9, TopK: 40, RepeatPenalty: 1.1, Seed: -1,
	})

	answer, err := client.Generate(context.Background(), "What time is it?", "be brief")
	if err != nil {
		t.Fatal(err)
	}

	if answer != "3pm" {
		t.Fatalf("answer = %q, want %q", answer, "3pm")
	}

	if got["model"] != "llama3" || got["prompt"] != "What time is it?" {
		t.Fatalf("request body = %v", got)
	}

	if got["stream"] != false {
		t.Fatalf("stream = %v, want false", got["stream"])
	}

	if got["system"] != "be brief" {
		t.Fatalf("system = %v, want %q", got["system"], "be brief")
	}

	opts, ok := got["options"].(map[string]any)
	if !ok {
		t.Fatalf("options missing from request: %v", got)
	}

	if _, hasSeed := opts["seed"]; hasSeed {
		t.Fatal("negative seed must be omitted from options")
	}

	if opts["top_k"] != float64(40) {
		t.Fatalf("top_k = %v, want 40", opts["top_k"])
	}
}

func Test_Generate_Fails_Closed_When_Status_Is_Not_OK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := ollama.NewClient(srv.URL, "llama3", ollama.Options{Seed: -1})

	_, err := client.Generate(context.Background(), "hi", "")
	if !errors.Is(err, ollama.ErrNoAnswer) {
		t.Fatalf("err = %v, want ErrNoAnswer", err)
	}
}

func Test_Generate_Fails_Closed_When_Response_Is_Empty_Or_Malformed(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`{}`, `{"response": ""}`, `not json`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		client := ollama.NewClient(srv.URL, "llama3", ollama.Options{Seed: -1})

		_, err := client.Generate(context.Background(), "hi", "")
		if !errors.Is(err, ollama.ErrNoAnswer) {
			t.Fatalf("body %q: err = %v, want ErrNoAnswer", body, err)
		}

		srv.Close()
	}
}

func Test_Generate_Fails_Closed_When_Server_Is_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // shut down before the call

	client := ollama.NewClient(srv.URL, "llama3", ollama.Options{Seed: -1})

	_, err := client.Generate(context.Background(), "hi", "")
	if !errors.Is(err, ollama.ErrNoAnswer) {
		t.Fatalf("err = %v, want ErrNoAnswer", err)
	}
}
