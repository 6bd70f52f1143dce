// Package store implements the persistent question/answer store: the data
// model, a corruption-tolerant file codec, the per-policy variant store, and
// the append-only migration between variants.
package store

import (
	"strings"
	"time"
	"unicode"
)

// SchemaVersion is the current on-disk schema version.
const SchemaVersion = 1

// Record is one cached question/answer pair.
//
// Fingerprint is the normalized form of Query and the record's primary key
// within a variant store. Aliases holds additional normalized forms that
// resolve to this record; insertion order is preserved, duplicates are
// forbidden, and appending an alias never changes Answer or CreatedAt.
type Record struct {
	Query       string    `json:"q"`
	Fingerprint string    `json:"q_norm"` //nolint:tagliatelle // snake_case for store file
	Answer      string    `json:"a"`
	CreatedAt   time.Time `json:"ts"`
	Aliases     []string  `json:"aliases"`
}

// HasAlias reports whether alias is already attached to the record.
func (r *Record) HasAlias(alias string) bool {
	for _, a := range r.Aliases {
		if a == alias {
			return true
		}
	}

	return false
}

// clone returns a deep copy of the record.
func (r *Record) clone() *Record {
	cp := *r
	cp.Aliases = append(make([]string, 0, len(r.Aliases)), r.Aliases...)

	return &cp
}

// Store is the serialized record set of one variant file.
type Store struct {
	Version int       `json:"version"`
	Records []*Record `json:"items"`
}

// Normalize returns the fingerprint form of text: trimmed, lower-cased,
// with runs of whitespace collapsed to single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// StripPunctuation returns fingerprint with Unicode punctuation removed and
// whitespace re-collapsed. Used for punctuation-insensitive fuzzy matching.
func StripPunctuation(fingerprint string) string {
	var b strings.Builder

	for _, r := range fingerprint {
		if !unicode.IsPunct(r) {
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
