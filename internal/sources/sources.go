// Package sources classifies and decodes the SourceCode payload returned by
// explorer verification lookups.
package sources

import (
	"encoding/json"
	"strings"
)

// Kind identifies the decoded shape of a source payload.
type Kind string

const (
	// KindUnverified means the explorer holds no source for the contract.
	KindUnverified Kind = "unverified"
	// KindSingleFile means the payload is the literal text of one source file.
	KindSingleFile Kind = "single-file"
	// KindMultiFile means the payload bundled several files keyed by relative path.
	KindMultiFile Kind = "multi-file"
)

// Bundle is the decoded form of a source payload. Files maps relative paths
// to file contents; it is empty for KindUnverified and has exactly one entry
// for KindSingleFile.
type Bundle struct {
	Kind  Kind
	Files map[string]string
}

// FileCount returns the number of decoded source files.
func (b Bundle) FileCount() int {
	return len(b.Files)
}

// fileContent is one entry of a compiler-input sources mapping.
type fileContent struct {
	Content string `json:"content"`
}

// standardInput is the compiler standard-JSON-input shape explorers return
// for multi-file verifications.
type standardInput struct {
	Language string                 `json:"language"`
	Sources  map[string]fileContent `json:"sources"`
}

// Decode classifies a raw SourceCode payload. It never fails: payloads that
// resist every bundle heuristic degrade to a single literal file rather than
// an error, and the caller retains the verbatim response for auditing.
//
// Explorers emit the payload in several shapes: empty (unverified), plain
// source text, a compiler standard-JSON-input with a sources mapping, that
// same JSON wrapped in one extra pair of braces, a bare path to {content}
// mapping, or any of the JSON forms encoded once more as a JSON string.
func Decode(raw, contractName string) Bundle {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Bundle{Kind: KindUnverified}
	}

	payload := trimmed
	if len(payload) > 4 && strings.HasPrefix(payload, "{{") && strings.HasSuffix(payload, "}}") {
		// Strip exactly one layer; the inner braces belong to the JSON itself.
		payload = payload[1 : len(payload)-1]
	}

	if files, ok := parseSources(payload); ok {
		return Bundle{Kind: KindMultiFile, Files: files}
	}

	name := strings.TrimSpace(contractName)
	if name == "" {
		name = "Contract"
	}
	return Bundle{
		Kind:  KindSingleFile,
		Files: map[string]string{name + ".sol": raw},
	}
}

// parseSources attempts the bundle heuristics against a payload, trying the
// payload itself first and then its double-encoded form (a JSON string that
// itself holds the JSON document).
func parseSources(payload string) (map[string]string, bool) {
	if files, ok := sourcesFrom(payload); ok {
		return files, true
	}

	var nested string
	if err := json.Unmarshal([]byte(payload), &nested); err == nil {
		return sourcesFrom(nested)
	}

	return nil, false
}

// sourcesFrom extracts a path to content mapping from a JSON payload, either
// through the standard-input sources key or from a bare path to {content}
// object.
func sourcesFrom(payload string) (map[string]string, bool) {
	var std standardInput
	if err := json.Unmarshal([]byte(payload), &std); err == nil && len(std.Sources) > 0 {
		files := make(map[string]string, len(std.Sources))
		for path, fc := range std.Sources {
			files[path] = fc.Content
		}
		return files, true
	}

	var bare map[string]fileContent
	if err := json.Unmarshal([]byte(payload), &bare); err == nil && len(bare) > 0 {
		files := make(map[string]string, len(bare))
		for path, fc := range bare {
			// Without the sources key this shape is a guess; an entry with no
			// content means it is probably not a bundle at all.
			if fc.Content == "" {
				return nil, false
			}
			files[path] = fc.Content
		}
		return files, true
	}

	return nil, false
}
