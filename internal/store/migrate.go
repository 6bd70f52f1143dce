package store

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/qacache/internal/fs"
)

// Migrator merges the records of one variant file into another when the
// matching policy flips. The merge is append-only and non-destructive: it
// never removes, renames, or mutates an existing destination record.
type Migrator struct {
	fsys fs.FS
	log  zerolog.Logger
}

// NewMigrator returns a migrator using fsys.
func NewMigrator(fsys fs.FS, log zerolog.Logger) *Migrator {
	return &Migrator{fsys: fsys, log: log}
}

// Migrate merges the records of sourcePath into destPath.
//
// If the destination file exists, its current bytes are first copied to the
// single backup slot derived from base (one slot per base; each migration
// overwrites the previous backup). A destination that exists but cannot be
// decoded aborts the merge without touching it: a subtly damaged file may
// still be intentional and must not be clobbered.
//
// Source records whose primary fingerprint already appears as a primary
// fingerprint in the destination are skipped; the rest are appended with
// their aliases, dropping any alias the destination already claims. The
// destination file is rewritten only when at least one record was appended.
//
// Returns the number of appended records.
func (m *Migrator) Migrate(sourcePath, destPath, base string) (int, error) {
	destData, destExists, err := m.readIfExists(destPath)
	if err != nil {
		return 0, err
	}

	if destExists {
		backupPath := BackupPath(base)
		if err := m.fsys.WriteFileAtomic(backupPath, destData, filePerms); err != nil {
			return 0, fmt.Errorf("writing backup %s: %w", backupPath, err)
		}
	}

	sourceData, _, err := m.readIfExists(sourcePath)
	if err != nil {
		return 0, err
	}

	source, err := Decode(sourceData)
	if err != nil {
		return 0, fmt.Errorf("decoding migration source %s: %w", sourcePath, err)
	}

	dest, err := Decode(destData)
	if err != nil {
		return 0, fmt.Errorf("decoding migration destination %s: %w", destPath, err)
	}

	appended := m.merge(source, dest)
	if appended == 0 {
		return 0, nil
	}

	data, err := Encode(dest)
	if err != nil {
		return 0, err
	}

	if err := m.fsys.WriteFileAtomic(destPath, data, filePerms); err != nil {
		return 0, fmt.Errorf("writing merged store %s: %w", destPath, err)
	}

	m.log.Info().
		Str("source", sourcePath).
		Str("dest", destPath).
		Int("appended", appended).
		Msg("variant migration complete")

	return appended, nil
}

// merge appends source records missing from dest. Returns the append count.
func (m *Migrator) merge(source, dest *Store) int {
	claimed := make(map[string]bool)

	for _, rec := range dest.Records {
		claimed[rec.Fingerprint] = true

		for _, alias := range rec.Aliases {
			claimed[alias] = true
		}
	}

	appended := 0

	for _, rec := range source.Records {
		if claimed[rec.Fingerprint] {
			continue
		}

		cp := rec.clone()

		aliases := cp.Aliases[:0]

		for _, alias := range cp.Aliases {
			if claimed[alias] {
				continue
			}

			aliases = append(aliases, alias)
			claimed[alias] = true
		}

		cp.Aliases = aliases
		dest.Records = append(dest.Records, cp)
		claimed[cp.Fingerprint] = true
		appended++
	}

	return appended
}

// readIfExists returns the file's bytes, or (nil, false, nil) when missing.
func (m *Migrator) readIfExists(path string) ([]byte, bool, error) {
	data, err := m.fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}

	return data, true, nil
}
