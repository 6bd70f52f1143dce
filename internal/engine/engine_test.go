package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/qacache/internal/engine"
	"github.com/calvinalkan/qacache/internal/fs"
	"github.com/calvinalkan/qacache/internal/ollama"
	"github.com/calvinalkan/qacache/internal/store"
)

// stubBackend counts generate calls and serves a canned answer.
type stubBackend struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
	system string
}

func (b *stubBackend) Generate(_ context.Context, _, system string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	b.system = system

	return b.answer, b.err
}

func (b *stubBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

func newTestEngine(t *testing.T, cfg engine.Config, backend engine.Backend) *engine.Engine {
	t.Helper()

	return engine.New(fs.NewReal(), zerolog.Nop(), cfg, func(engine.Config) engine.Backend {
		return backend
	})
}

func testConfig(t *testing.T, matchPunctuation bool) engine.Config {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.BaseFile = filepath.Join(t.TempDir(), "qa_cache.json")
	cfg.MatchPunctuation = matchPunctuation

	return cfg
}

func seedVariant(t *testing.T, cfg engine.Config, matchPunctuation bool, records ...*store.Record) {
	t.Helper()

	data, err := store.Encode(&store.Store{Version: store.SchemaVersion, Records: records})
	if err != nil {
		t.Fatal(err)
	}

	path := store.VariantPath(cfg.BaseFile, matchPunctuation)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func loadVariant(t *testing.T, cfg engine.Config, matchPunctuation bool) *store.Variant {
	t.Helper()

	v := store.NewVariant(fs.NewReal(), store.VariantPath(cfg.BaseFile, matchPunctuation))
	if err := v.Load(); err != nil {
		t.Fatal(err)
	}

	return v
}

func Test_Respond_Creates_Record_And_Serves_Repeat_From_Cache_When_Policy_Is_Exact(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, true)
	backend := &stubBackend{answer: "3pm"}
	eng := newTestEngine(t, cfg, backend)

	res := eng.Respond(context.Background(), engine.Input{Text: "What time is it?"})
	if res.Answer != "3pm" || res.Source != engine.SourceBackend {
		t.Fatalf("first ask = %+v, want 3pm from backend", res)
	}

	v := loadVariant(t, cfg, true)

	rec, ok := v.LookupExact("what time is it?")
	if !ok {
		t.Fatal("record not persisted")
	}

	if rec.Answer != "3pm" || len(rec.Aliases) != 0 {
		t.Fatalf("record = %+v, want answer 3pm, no aliases", rec)
	}

	// The exact repeat is served from cache without a backend call and
	// without creating another record.
	res = eng.Respond(context.Background(), engine.Input{Text: "What time is it?"})
	if res.Answer != "3pm" || res.Source != engine.SourceCache {
		t.Fatalf("repeat = %+v, want 3pm from cache", res)
	}

	if got := backend.callCount(); got != 1 {
		t.Fatalf("backend calls = %d, want 1", got)
	}

	if got := eng.Len(); got != 1 {
		t.Fatalf("record count = %d, want 1", got)
	}
}

func Test_Respond_Appends_Alias_Without_Answer_Drift_When_Fuzzy_Hit(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, false)
	created := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)

	seedVariant(t, cfg, false, &store.Record{
		Query:       "Hello!",
		Fingerprint: "hello!",
		Answer:      "Hi",
		CreatedAt:   created,
		Aliases:     []string{},
	})

	backend := &stubBackend{answer: "should not be asked"}
	eng := newTestEngine(t, cfg, backend)

	res := eng.Respond(context.Background(), engine.Input{Text: "hello"})
	if res.Answer != "Hi" || res.Source != engine.SourceCache {
		t.Fatalf("result = %+v, want Hi from cache", res)
	}

	if got := backend.callCount(); got != 0 {
		t.Fatalf("backend calls = %d, want 0", got)
	}

	v := loadVariant(t, cfg, false)

	rec, _ := v.LookupExact("hello!")
	if !rec.HasAlias("hello") {
		t.Fatal("alias not appended and persisted")
	}

	if rec.Answer != "Hi" || !rec.CreatedAt.Equal(created) {
		t.Fatalf("record drifted: %+v", rec)
	}

	// The same variant asked again changes nothing further.
	_ = eng.Respond(context.Background(), engine.Input{Text: "hello"})

	v = loadVariant(t, cfg, false)

	rec, _ = v.LookupExact("hello!")
	if len(rec.Aliases) != 1 {
		t.Fatalf("aliases = %v, want exactly [hello]", rec.Aliases)
	}
}

func Test_Respond_Creates_Fresh_Record_When_Policy_Is_Exact_Despite_Fuzzy_Match(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, true)

	seedVariant(t, cfg, true, &store.Record{
		Query:       "Hello!",
		Fingerprint: "hello!",
		Answer:      "old answer",
		CreatedAt:   time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC),
		Aliases:     []string{},
	})

	backend := &stubBackend{answer: "fresh answer"}
	eng := newTestEngine(t, cfg, backend)

	// "hello" differs from "hello!" only by punctuation, but the exact
	// policy never merges: it favors exact-form freshness.
	res := eng.Respond(context.Background(), engine.Input{Text: "hello"})
	if res.Answer != "fresh answer" || res.Source != engine.SourceBackend {
		t.Fatalf("result = %+v, want fresh answer from backend", res)
	}

	if got := eng.Len(); got != 2 {
		t.Fatalf("record count = %d, want 2", got)
	}
}

func Test_Respond_Returns_Fallback_Without_Recording_When_Backend_Fails(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, true)
	backend := &stubBackend{err: errors.New("connection refused")}
	eng := newTestEngine(t, cfg, backend)

	res := eng.Respond(context.Background(), engine.Input{Text: "anyone there?"})
	if res.Answer != engine.FallbackAnswer || res.Source != engine.SourceFallback {
		t.Fatalf("result = %+v, want fallback", res)
	}

	if got := eng.Len(); got != 0 {
		t.Fatalf("record count = %d, want 0", got)
	}

	// An empty answer with no error is just as unusable.
	backend.err = nil
	backend.answer = ""

	res = eng.Respond(context.Background(), engine.Input{Text: "anyone there?"})
	if res.Answer != engine.FallbackAnswer {
		t.Fatalf("answer = %q, want fallback", res.Answer)
	}

	// No store file was ever materialized.
	if _, err := os.Stat(store.VariantPath(cfg.BaseFile, true)); !os.IsNotExist(err) {
		t.Fatalf("stat = %v, want not-exist", err)
	}
}

func Test_Respond_Mints_Conversation_ID_When_Input_Has_None(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, true)
	eng := newTestEngine(t, cfg, &stubBackend{answer: "yes"})

	res := eng.Respond(context.Background(), engine.Input{Text: "hi"})
	if res.ConversationID == "" {
		t.Fatal("conversation ID not minted")
	}

	res = eng.Respond(context.Background(), engine.Input{Text: "hi", ConversationID: "conv-1"})
	if res.ConversationID != "conv-1" {
		t.Fatalf("conversation ID = %q, want conv-1", res.ConversationID)
	}
}

func Test_Apply_Migrates_And_Reloads_When_Only_Policy_Changes(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, true)
	backend := &stubBackend{answer: "cached under true"}
	eng := newTestEngine(t, cfg, backend)

	_ = eng.Respond(context.Background(), engine.Input{Text: "Hello!"})

	next := cfg
	next.MatchPunctuation = false
	eng.Apply(next)

	if got := eng.Config().MatchPunctuation; got {
		t.Fatal("policy not applied")
	}

	// The record migrated into the false variant and now fuzzy-matches.
	res := eng.Respond(context.Background(), engine.Input{Text: "hello"})
	if res.Answer != "cached under true" || res.Source != engine.SourceCache {
		t.Fatalf("result = %+v, want migrated answer from cache", res)
	}

	if got := backend.callCount(); got != 1 {
		t.Fatalf("backend calls = %d, want 1", got)
	}

	v := loadVariant(t, cfg, false)
	if v.Len() != 1 {
		t.Fatalf("false-variant records = %d, want 1", v.Len())
	}
}

func Test_Apply_Backs_Up_Destination_When_Policy_Change_Merges_Into_Existing_Variant(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, true)

	seedVariant(t, cfg, true, &store.Record{
		Query: "A", Fingerprint: "a", Answer: "from true",
		CreatedAt: time.Now().UTC(), Aliases: []string{},
	})
	seedVariant(t, cfg, false, &store.Record{
		Query: "B", Fingerprint: "b", Answer: "from false",
		CreatedAt: time.Now().UTC(), Aliases: []string{},
	})

	destBefore, err := os.ReadFile(store.VariantPath(cfg.BaseFile, false))
	if err != nil {
		t.Fatal(err)
	}

	eng := newTestEngine(t, cfg, &stubBackend{})

	next := cfg
	next.MatchPunctuation = false
	eng.Apply(next)

	backup, err := os.ReadFile(store.BackupPath(cfg.BaseFile))
	if err != nil {
		t.Fatalf("reading backup: %v", err)
	}

	if string(backup) != string(destBefore) {
		t.Fatal("backup does not hold pre-merge destination bytes")
	}

	if got := eng.Len(); got != 2 {
		t.Fatalf("record count after merge = %d, want 2", got)
	}
}

func Test_Apply_Rederives_Backend_Without_Migration_When_Other_Fields_Change(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, true)

	factoryCalls := 0
	eng := engine.New(fs.NewReal(), zerolog.Nop(), cfg, func(engine.Config) engine.Backend {
		factoryCalls++

		return &stubBackend{answer: "x"}
	})

	if factoryCalls != 1 {
		t.Fatalf("factory calls after New = %d, want 1", factoryCalls)
	}

	// Identical config: idempotent no-op.
	eng.Apply(cfg)

	if factoryCalls != 1 {
		t.Fatalf("factory calls after no-op Apply = %d, want 1", factoryCalls)
	}

	next := cfg
	next.Model = "llama3.2"
	eng.Apply(next)

	if factoryCalls != 2 {
		t.Fatalf("factory calls after model change = %d, want 2", factoryCalls)
	}

	if _, err := os.Stat(store.BackupPath(cfg.BaseFile)); !os.IsNotExist(err) {
		t.Fatalf("backup stat = %v, want not-exist (no migration)", err)
	}
}

func Test_Apply_Skips_Migration_When_Policy_And_Other_Fields_Change_Together(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, true)

	seedVariant(t, cfg, true, &store.Record{
		Query: "A", Fingerprint: "a", Answer: "from true",
		CreatedAt: time.Now().UTC(), Aliases: []string{},
	})

	eng := newTestEngine(t, cfg, &stubBackend{})

	next := cfg
	next.MatchPunctuation = false
	next.Model = "llama3.2"
	eng.Apply(next)

	// A mixed change is a plain re-derivation: the false variant starts
	// empty because nothing was merged into it.
	if got := eng.Len(); got != 0 {
		t.Fatalf("record count = %d, want 0", got)
	}

	if _, err := os.Stat(store.BackupPath(cfg.BaseFile)); !os.IsNotExist(err) {
		t.Fatalf("backup stat = %v, want not-exist", err)
	}
}

func Test_Respond_Injects_Date_Into_System_Prompt_When_Configured(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, true)
	cfg.SystemPrompt = "Answer briefly."
	cfg.InjectDateTime = true

	backend := &stubBackend{answer: "ok"}
	eng := newTestEngine(t, cfg, backend)

	_ = eng.Respond(context.Background(), engine.Input{Text: "hi"})

	backend.mu.Lock()
	system := backend.system
	backend.mu.Unlock()

	if system == "Answer briefly." || len(system) <= len("Answer briefly.") {
		t.Fatalf("system prompt = %q, want date/time appended", system)
	}
}

func Test_Respond_Serves_Concurrent_Identical_Queries_Without_Duplicates(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, false)
	backend := &stubBackend{answer: "only one record"}
	eng := newTestEngine(t, cfg, backend)

	var wg sync.WaitGroup

	const workers = 16

	answers := make([]string, workers)

	for i := 0; i < workers; i++ {
		i := i

		wg.Add(1)

		go func() {
			defer wg.Done()

			res := eng.Respond(context.Background(), engine.Input{Text: "Hello, world!"})
			answers[i] = res.Answer
		}()
	}

	wg.Wait()

	for i, ans := range answers {
		if ans != "only one record" {
			t.Fatalf("answers[%d] = %q, want %q", i, ans, "only one record")
		}
	}

	if got := eng.Len(); got != 1 {
		t.Fatalf("record count = %d, want 1", got)
	}
}

var _ engine.Backend = (*ollama.Client)(nil)
