package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// trailingGarbage is the byte set stripped from the end of a store file
// before parsing. A process killed mid-write (device reboot, container
// restart) can leave NUL padding or a truncated tail behind.
const trailingGarbage = "\x00\r\n\t "

// Decode parses the raw bytes of a store file.
//
// Trailing NULs and whitespace are stripped first. An empty payload decodes
// to a fresh, empty store rather than an error. If the full payload fails to
// parse, the bytes are truncated to the last top-level closing brace and
// parsed once more; if that also fails, [ErrCorrupt] is returned. Decode
// never panics on truncated input.
func Decode(data []byte) (*Store, error) {
	stripped := bytes.TrimRight(data, trailingGarbage)
	if len(stripped) == 0 {
		return emptyStore(), nil
	}

	st, err := decodeStrict(stripped)
	if err == nil {
		return st, nil
	}

	// A torn write usually leaves a valid prefix. Cut to the last closing
	// brace and retry once.
	last := bytes.LastIndexByte(stripped, '}')
	if last == -1 {
		return nil, ErrCorrupt
	}

	st, err = decodeStrict(stripped[:last+1])
	if err != nil {
		return nil, ErrCorrupt
	}

	return st, nil
}

// Encode serializes st as indented JSON. The output re-decodes to an equal
// store and is human-readable for manual inspection of the cache file.
func Encode(st *Store) ([]byte, error) {
	out := *st
	if out.Records == nil {
		out.Records = []*Record{}
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding store: %w", err)
	}

	return append(data, '\n'), nil
}

func decodeStrict(data []byte) (*Store, error) {
	var st Store

	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}

	// Drop items without a fingerprint; they are unreachable by lookup and
	// would poison the index.
	records := st.Records[:0]

	for _, rec := range st.Records {
		if rec != nil && rec.Fingerprint != "" {
			records = append(records, rec)
		}
	}

	st.Records = records
	if st.Version == 0 {
		st.Version = SchemaVersion
	}

	return &st, nil
}

func emptyStore() *Store {
	return &Store{Version: SchemaVersion}
}
