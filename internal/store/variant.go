package store

import (
	"fmt"
	"os"

	"github.com/calvinalkan/qacache/internal/fs"
)

const filePerms = 0o644

// Variant owns the in-memory record index for one matching-policy value,
// backed by one physical file.
//
// Records are kept in insertion order so fuzzy lookups are reproducible:
// the first match in insertion order wins. The index enforces that a
// fingerprint is claimed at most once across every record's primary
// fingerprint and every alias.
//
// Variant is not safe for concurrent use; the engine serializes access.
type Variant struct {
	fsys fs.FS
	path string

	version       int
	records       []*Record
	byFingerprint map[string]*Record
	byAlias       map[string]*Record
}

// NewVariant returns an empty variant bound to path. No file is read or
// created; call [Variant.Load] to pull in on-disk state.
func NewVariant(fsys fs.FS, path string) *Variant {
	v := &Variant{fsys: fsys, path: path}
	v.reset(emptyStore())

	return v
}

// Path returns the variant's backing file path.
func (v *Variant) Path() string {
	return v.path
}

// Len returns the number of records.
func (v *Variant) Len() int {
	return len(v.records)
}

// Load reads and decodes the backing file.
//
// A missing file yields an empty in-memory store; the file is not created
// until the first save (lazy creation). If the file exists but cannot be
// decoded, or reading fails outright, the existing in-memory state is kept
// untouched and an error is returned: a transient decode bug must never
// cause a readable on-disk file to be overwritten with an empty one later.
func (v *Variant) Load() error {
	data, err := v.fsys.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			v.reset(emptyStore())

			return nil
		}

		return fmt.Errorf("reading store %s: %w", v.path, err)
	}

	st, err := Decode(data)
	if err != nil {
		return fmt.Errorf("decoding store %s: %w", v.path, err)
	}

	v.reset(st)

	return nil
}

// Save persists the in-memory store to the backing file.
//
// An empty store is never written: if a load failed and left the store
// empty, persisting would wipe whatever history is still on disk. The
// empty-store save is a silent no-op.
func (v *Variant) Save() error {
	if len(v.records) == 0 {
		return nil
	}

	data, err := Encode(&Store{Version: v.version, Records: v.records})
	if err != nil {
		return err
	}

	if err := v.fsys.WriteFileAtomic(v.path, data, filePerms); err != nil {
		return fmt.Errorf("writing store %s: %w", v.path, err)
	}

	return nil
}

// LookupExact returns the record whose primary fingerprint equals
// fingerprint.
func (v *Variant) LookupExact(fingerprint string) (*Record, bool) {
	rec, ok := v.byFingerprint[fingerprint]

	return rec, ok
}

// LookupFuzzy returns the first record, in insertion order, whose
// punctuation-stripped primary fingerprint or alias equals stripped.
// stripped must already be the [StripPunctuation] form of the query
// fingerprint.
func (v *Variant) LookupFuzzy(stripped string) (*Record, bool) {
	for _, rec := range v.records {
		if StripPunctuation(rec.Fingerprint) == stripped {
			return rec, true
		}

		for _, alias := range rec.Aliases {
			if StripPunctuation(alias) == stripped {
				return rec, true
			}
		}
	}

	return nil, false
}

// Insert adds a new record. The record's primary fingerprint and every
// alias must be non-empty and unclaimed.
func (v *Variant) Insert(rec *Record) error {
	if rec.Fingerprint == "" {
		return ErrEmptyFingerprint
	}

	if v.claimed(rec.Fingerprint) {
		return fmt.Errorf("%w: %q", ErrFingerprintTaken, rec.Fingerprint)
	}

	for i, alias := range rec.Aliases {
		if alias == "" {
			return ErrEmptyFingerprint
		}

		if v.claimed(alias) || alias == rec.Fingerprint {
			return fmt.Errorf("%w: %q", ErrAliasTaken, alias)
		}

		for _, prev := range rec.Aliases[:i] {
			if prev == alias {
				return fmt.Errorf("%w: %q", ErrAliasTaken, alias)
			}
		}
	}

	cp := rec.clone()
	v.records = append(v.records, cp)
	v.byFingerprint[cp.Fingerprint] = cp

	for _, alias := range cp.Aliases {
		v.byAlias[alias] = cp
	}

	return nil
}

// AppendAlias attaches alias to the record whose primary fingerprint is
// fingerprint. The alias must be non-empty and unclaimed. The record's
// answer and creation time are never touched.
func (v *Variant) AppendAlias(fingerprint, alias string) error {
	if alias == "" {
		return ErrEmptyFingerprint
	}

	rec, ok := v.byFingerprint[fingerprint]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRecordNotFound, fingerprint)
	}

	if v.claimed(alias) {
		return fmt.Errorf("%w: %q", ErrAliasTaken, alias)
	}

	rec.Aliases = append(rec.Aliases, alias)
	v.byAlias[alias] = rec

	return nil
}

// Answers returns an immutable primary-fingerprint-to-answer map for
// lock-free exact lookups. The map is rebuilt on every call and never
// mutated afterwards.
func (v *Variant) Answers() map[string]string {
	out := make(map[string]string, len(v.records))
	for _, rec := range v.records {
		out[rec.Fingerprint] = rec.Answer
	}

	return out
}

// claimed reports whether fingerprint is already taken by a primary
// fingerprint or an alias.
func (v *Variant) claimed(fingerprint string) bool {
	if _, ok := v.byFingerprint[fingerprint]; ok {
		return true
	}

	_, ok := v.byAlias[fingerprint]

	return ok
}

// reset replaces the in-memory state with st, rebuilding the index.
// Duplicate fingerprints or aliases in st are dropped, first claim wins.
func (v *Variant) reset(st *Store) {
	v.version = st.Version
	v.records = nil
	v.byFingerprint = make(map[string]*Record, len(st.Records))
	v.byAlias = make(map[string]*Record)

	for _, rec := range st.Records {
		if v.claimed(rec.Fingerprint) {
			continue
		}

		cp := rec.clone()

		aliases := cp.Aliases[:0]

		for _, alias := range cp.Aliases {
			if alias == "" || v.claimed(alias) || alias == cp.Fingerprint {
				continue
			}

			aliases = append(aliases, alias)
			v.byAlias[alias] = cp
		}

		cp.Aliases = aliases
		v.records = append(v.records, cp)
		v.byFingerprint[cp.Fingerprint] = cp
	}
}
