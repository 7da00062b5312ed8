// Package merkle parses and validates root-commitment documents and
// verifies per-file Merkle membership. Conceptually grounded on the
// append-only, externally-verified commitment logs in
// forestrie-go-merklelog's massifs package (a signed root over an ordered
// leaf sequence) and dedis-tlc's simple filesystem store (a small, strict
// on-disk document format) from the reference pack; the root-recomputation
// algorithm itself is the standard paired-hash binary Merkle tree.
package merkle

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/storepeer/propagator/internal/digest"
)

// FileEntry is one entry of a root-commitment document's "files" map.
type FileEntry struct {
	Hash   string `json:"hash"`
	SHA256 string `json:"sha256"`
}

// Document is the strictly-parsed sum type for a root-commitment ".dat"
// payload: either LeavesEmpty (root must be the all-zero digest) or
// LeavesPresent (root must equal the recomputed Merkle root of Leaves).
// Design note: the source's dynamic JSON shape is replaced here with an
// explicit sum type parsed strictly, rather than a single struct with an
// always-present (possibly empty) Leaves slice.
type Document struct {
	Root  string
	Files map[string]FileEntry

	LeavesEmpty   bool
	LeavesPresent []string // ordered leaf hex hashes, only set when !LeavesEmpty
}

type rawDocument struct {
	Root   string               `json:"root"`
	Leaves []string             `json:"leaves"`
	Files  map[string]FileEntry `json:"files"`
}

// ErrMalformed wraps any parse failure with a reason; callers surface it as
// a BadRequest.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string { return "malformed root commitment: " + e.Reason }

// Parse strictly parses raw as a root-commitment document.
//
// Rejects: leading/trailing whitespace, non-lowercase-normalizable hex in
// root/leaves/sha256 fields, and duplicate keys in "files". Unknown
// top-level fields are ignored (json.Unmarshal's default behavior already
// does this, so no DisallowUnknownFields is set).
func Parse(raw []byte) (*Document, error) {
	if len(raw) == 0 {
		return nil, &ErrMalformed{Reason: "empty document"}
	}
	if hasSurroundingWhitespace(raw) {
		return nil, &ErrMalformed{Reason: "leading or trailing whitespace"}
	}

	if err := checkNoDuplicateFileKeys(raw); err != nil {
		return nil, err
	}

	var rd rawDocument
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&rd); err != nil {
		return nil, &ErrMalformed{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	root, ok := digest.Canonicalize(rd.Root)
	if !ok {
		return nil, &ErrMalformed{Reason: "root is not a 64-hex digest"}
	}

	doc := &Document{Root: root, Files: make(map[string]FileEntry, len(rd.Files))}
	for k, v := range rd.Files {
		sha, ok := digest.Canonicalize(v.SHA256)
		if !ok {
			return nil, &ErrMalformed{Reason: fmt.Sprintf("files[%q].sha256 is not a 64-hex digest", k)}
		}
		v.SHA256 = sha
		doc.Files[k] = v
	}

	if len(rd.Leaves) == 0 {
		doc.LeavesEmpty = true
		return doc, nil
	}

	leaves := make([]string, len(rd.Leaves))
	for i, l := range rd.Leaves {
		h, ok := digest.Canonicalize(l)
		if !ok {
			return nil, &ErrMalformed{Reason: fmt.Sprintf("leaves[%d] is not a 64-hex digest", i)}
		}
		leaves[i] = h
	}
	doc.LeavesPresent = leaves
	return doc, nil
}

func hasSurroundingWhitespace(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) != len(raw)
}

// checkNoDuplicateFileKeys walks the JSON token stream looking for the
// top-level "files" object and rejects it if any key repeats.
// encoding/json silently keeps the last value on a duplicate object key, so
// this strictness has to be enforced with a manual token scan.
func checkNoDuplicateFileKeys(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return &ErrMalformed{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return &ErrMalformed{Reason: "document is not a JSON object"}
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return &ErrMalformed{Reason: fmt.Sprintf("invalid JSON: %v", err)}
		}
		key, _ := keyTok.(string)

		if key != "files" {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}

		if err := checkObjectHasNoDuplicateKeys(dec); err != nil {
			return err
		}
	}
	return nil
}

func checkObjectHasNoDuplicateKeys(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return &ErrMalformed{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		// "files" absent or null; nothing to check.
		return nil
	}

	seen := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return &ErrMalformed{Reason: fmt.Sprintf("invalid JSON: %v", err)}
		}
		key, _ := keyTok.(string)
		if seen[key] {
			return &ErrMalformed{Reason: fmt.Sprintf("duplicate key %q in files", key)}
		}
		seen[key] = true

		if err := skipValue(dec); err != nil {
			return err
		}
	}
	// consume closing '}'
	_, err = dec.Token()
	return err
}

// skipValue consumes one complete JSON value (scalar, array, or object)
// from dec.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return &ErrMalformed{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil // scalar already consumed
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return &ErrMalformed{Reason: fmt.Sprintf("invalid JSON: %v", err)}
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	_ = delim
	return nil
}
