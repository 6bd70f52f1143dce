// Package engine implements the answer-cache engine: it resolves queries
// against the active variant store, falls back to the generation backend on
// misses, records new answers, and orchestrates persistence and policy
// migration.
//
// No error from this package ever prevents a response: file and backend
// failures are absorbed (and logged), and the worst observable behavior is
// the fixed fallback answer.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/qacache/internal/fs"
	"github.com/calvinalkan/qacache/internal/ollama"
	"github.com/calvinalkan/qacache/internal/store"
)

// FallbackAnswer is returned when the cache misses and the backend yields
// no usable answer.
const FallbackAnswer = "Mi dispiace, non ho trovato una risposta."

// Backend produces an answer for a cache-miss query.
// Implementations must treat any failure as "no usable answer".
type Backend interface {
	Generate(ctx context.Context, prompt, system string) (string, error)
}

// BackendFactory builds a backend from a configuration. The engine calls it
// once at construction and again whenever a non-policy config field changes.
type BackendFactory func(Config) Backend

// NewOllamaBackend is the default [BackendFactory].
func NewOllamaBackend(cfg Config) Backend {
	return ollama.NewClient(cfg.BaseURL, cfg.Model, cfg.Sampling)
}

// Input is one query entering the engine.
type Input struct {
	Text string

	// ConversationID is minted when empty.
	ConversationID string
}

// Source tells where a result's answer came from.
type Source string

// Result sources.
const (
	SourceCache    Source = "cache"
	SourceBackend  Source = "backend"
	SourceFallback Source = "fallback"
)

// Result is the engine's reply to one query.
type Result struct {
	Answer         string
	ConversationID string
	Source         Source
}

// Engine is the answer-cache façade. All mutations (record creation, alias
// appension, persistence, policy migration) are serialized by one exclusive
// lock; exact-match lookups read a lock-free snapshot that is only ever
// replaced wholesale.
type Engine struct {
	fsys       fs.FS
	log        zerolog.Logger
	newBackend BackendFactory

	mu       sync.Mutex
	cfg      Config
	backend  Backend
	variant  *store.Variant
	migrator *store.Migrator

	// answers maps primary fingerprints to answers for lock-free exact
	// hits. Replaced wholesale after every load and mutation.
	answers atomic.Pointer[map[string]string]
}

// New builds an engine, loads the active variant store, and publishes the
// first lookup snapshot. A failed load is absorbed: the engine starts with
// an empty cache rather than failing construction.
func New(fsys fs.FS, log zerolog.Logger, cfg Config, newBackend BackendFactory) *Engine {
	if newBackend == nil {
		newBackend = NewOllamaBackend
	}

	e := &Engine{
		fsys:       fsys,
		log:        log,
		newBackend: newBackend,
		cfg:        cfg,
		backend:    newBackend(cfg),
		migrator:   store.NewMigrator(fsys, log),
		variant:    store.NewVariant(fsys, store.VariantPath(cfg.BaseFile, cfg.MatchPunctuation)),
	}

	if err := e.variant.Load(); err != nil {
		e.log.Warn().Err(err).Msg("loading store failed, continuing with in-memory state")
	}

	e.publishLocked()

	return e
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cfg
}

// Len returns the number of records in the active variant store.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.variant.Len()
}

// Respond resolves the query and always returns a usable result.
//
// Resolution order: exact fingerprint hit; punctuation-insensitive fuzzy
// hit when the policy allows it (learning the query as an alias); backend
// generation; fixed fallback. A concurrent insert between the miss and the
// backend's reply is resolved in favor of the already-stored answer, the
// freshly generated one is discarded.
func (e *Engine) Respond(ctx context.Context, in Input) Result {
	convID := in.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	qn := store.Normalize(in.Text)

	if ans, ok := e.lookupSnapshot(qn); ok {
		e.log.Debug().Str("fingerprint", qn).Msg("exact cache hit")

		return Result{Answer: ans, ConversationID: convID, Source: SourceCache}
	}

	if ans, ok := e.lookupFuzzy(qn); ok {
		return Result{Answer: ans, ConversationID: convID, Source: SourceCache}
	}

	answer, err := e.backendFor()(ctx, in.Text)
	if err != nil || answer == "" {
		e.log.Warn().Err(err).Msg("backend yielded no usable answer")

		return Result{Answer: FallbackAnswer, ConversationID: convID, Source: SourceFallback}
	}

	ans, source := e.record(in.Text, qn, answer)

	return Result{Answer: ans, ConversationID: convID, Source: source}
}

// Apply pushes a configuration update. Applying an unchanged configuration
// is a no-op.
//
// A policy-only change triggers a migration of the previously active
// variant file into the newly active one and a reload; every other field is
// left alone. Any other change re-derives the backend and the active store
// path and reloads, without migration.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cfg == e.cfg {
		return
	}

	if policyOnlyChange(e.cfg, cfg) {
		source := store.VariantPath(e.cfg.BaseFile, e.cfg.MatchPunctuation)
		dest := store.VariantPath(e.cfg.BaseFile, cfg.MatchPunctuation)

		if _, err := e.migrator.Migrate(source, dest, e.cfg.BaseFile); err != nil {
			e.log.Warn().Err(err).Msg("variant migration failed, switching without merge")
		}

		e.cfg.MatchPunctuation = cfg.MatchPunctuation
		e.swapVariantLocked(dest)

		return
	}

	e.cfg = cfg
	e.backend = e.newBackend(cfg)
	e.swapVariantLocked(store.VariantPath(cfg.BaseFile, cfg.MatchPunctuation))
}

// Reload re-reads the active variant store from disk and republishes the
// lookup snapshot.
func (e *Engine) Reload() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.variant.Load(); err != nil {
		e.log.Warn().Err(err).Msg("reload failed, keeping in-memory state")
	}

	e.publishLocked()
}

// lookupSnapshot is the lock-free exact-match path.
func (e *Engine) lookupSnapshot(qn string) (string, bool) {
	if qn == "" {
		return "", false
	}

	ans, ok := (*e.answers.Load())[qn]

	return ans, ok
}

// lookupFuzzy performs the punctuation-insensitive lookup when the policy
// allows it. A hit on a record that does not yet know qn appends qn as an
// alias and persists; the stored answer is never altered.
func (e *Engine) lookupFuzzy(qn string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.MatchPunctuation || qn == "" {
		return "", false
	}

	stripped := store.StripPunctuation(qn)
	if stripped == "" {
		return "", false
	}

	rec, ok := e.variant.LookupFuzzy(stripped)
	if !ok {
		return "", false
	}

	e.learnAliasLocked(rec, qn)

	return rec.Answer, true
}

// record stores a freshly generated answer under the mutation lock and
// returns the answer to serve. When a concurrent writer got there first,
// the stored answer wins and the fresh one is dropped.
func (e *Engine) record(query, qn, answer string) (string, Source) {
	if qn == "" {
		return answer, SourceBackend
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rec, ok := e.variant.LookupExact(qn); ok {
		return rec.Answer, SourceCache
	}

	if !e.cfg.MatchPunctuation {
		if rec, ok := e.variant.LookupFuzzy(store.StripPunctuation(qn)); ok {
			e.learnAliasLocked(rec, qn)

			return rec.Answer, SourceCache
		}
	}

	rec := &store.Record{
		Query:       query,
		Fingerprint: qn,
		Answer:      answer,
		CreatedAt:   time.Now().UTC(),
		Aliases:     []string{},
	}

	if err := e.variant.Insert(rec); err != nil {
		e.log.Warn().Err(err).Str("fingerprint", qn).Msg("recording answer failed")

		return answer, SourceBackend
	}

	e.persistLocked()

	return answer, SourceBackend
}

// learnAliasLocked appends qn as an alias of rec unless rec already claims
// it, then persists. Caller holds the mutation lock.
func (e *Engine) learnAliasLocked(rec *store.Record, qn string) {
	if rec.Fingerprint == qn || rec.HasAlias(qn) {
		return
	}

	if err := e.variant.AppendAlias(rec.Fingerprint, qn); err != nil {
		e.log.Warn().Err(err).Str("alias", qn).Msg("appending alias failed")

		return
	}

	e.persistLocked()
}

// backendFor snapshots the backend and system prompt under the lock, so the
// (potentially slow) generate call itself runs without holding it.
func (e *Engine) backendFor() func(ctx context.Context, prompt string) (string, error) {
	e.mu.Lock()
	backend := e.backend
	system := e.systemPromptLocked()
	e.mu.Unlock()

	return func(ctx context.Context, prompt string) (string, error) {
		return backend.Generate(ctx, prompt, system)
	}
}

// systemPromptLocked builds the system prompt, appending the current date
// and time when configured. Caller holds the mutation lock.
func (e *Engine) systemPromptLocked() string {
	system := e.cfg.SystemPrompt

	if e.cfg.InjectDateTime {
		stamp := "Current date and time: " + time.Now().Format("Monday, 2 January 2006, 15:04")
		if system == "" {
			return stamp
		}

		return system + "\n\n" + stamp
	}

	return system
}

// persistLocked saves the active store and republishes the lookup snapshot.
// Save failures are absorbed: the in-memory state stays authoritative and
// the next mutation retries the write. Caller holds the mutation lock.
func (e *Engine) persistLocked() {
	if err := e.variant.Save(); err != nil {
		e.log.Warn().Err(err).Msg("persisting store failed, keeping in-memory state")
	}

	e.publishLocked()
}

// swapVariantLocked replaces the active variant with the store at path,
// loads it, and republishes the snapshot. Readers never observe a partially
// loaded state: the snapshot swap is the publication point.
func (e *Engine) swapVariantLocked(path string) {
	if path != e.variant.Path() {
		e.variant = store.NewVariant(e.fsys, path)
	}

	if err := e.variant.Load(); err != nil {
		e.log.Warn().Err(err).Msg("loading store failed, continuing with in-memory state")
	}

	e.publishLocked()
}

// publishLocked republishes the exact-lookup snapshot. Caller holds the
// mutation lock (or is the constructor).
func (e *Engine) publishLocked() {
	answers := e.variant.Answers()
	e.answers.Store(&answers)
}
