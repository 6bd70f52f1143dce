package store

import "errors"

// Store errors.
var (
	// ErrCorrupt means the store file could not be decoded even after
	// trailing-garbage stripping and truncation recovery.
	ErrCorrupt = errors.New("store file corrupted")

	// ErrFingerprintTaken means a record with the same primary fingerprint,
	// or an alias claiming it, already exists.
	ErrFingerprintTaken = errors.New("fingerprint already taken")

	// ErrAliasTaken means the alias is already claimed by a record's primary
	// fingerprint or by another alias.
	ErrAliasTaken = errors.New("alias already taken")

	// ErrRecordNotFound means no record with the given primary fingerprint
	// exists.
	ErrRecordNotFound = errors.New("record not found")

	// ErrEmptyFingerprint means a record or alias with an empty fingerprint
	// was rejected.
	ErrEmptyFingerprint = errors.New("fingerprint is empty")
)
