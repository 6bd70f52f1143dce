package store

import (
	"path/filepath"
	"strings"
)

// VariantPath derives the physical file path for one matching-policy value
// from the configured base path: "qa_cache.json" becomes
// "qa_cache_true.json" or "qa_cache_false.json". A base without an
// extension gets a bare "_true"/"_false" suffix.
func VariantPath(base string, matchPunctuation bool) string {
	tag := "_false"
	if matchPunctuation {
		tag = "_true"
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	return stem + tag + ext
}

// BackupPath derives the single backup slot for a base path. The backup is
// named from the base, not the variant: each migration overwrites it with
// the pre-merge bytes of whichever variant was merged into.
func BackupPath(base string) string {
	return base + ".bak"
}
