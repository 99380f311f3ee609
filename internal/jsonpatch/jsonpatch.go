// Package jsonpatch wraps github.com/evanphx/json-patch/v5's merge-patch
// computation with support for excluding configured attribute paths
// before comparison, so the differ can ignore fields like "_timestamp"
// or build-run bookkeeping that change on every run without being a
// meaningful content difference.
package jsonpatch

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/biohub-dev/biohub/internal/hubtypes"
)

// Diff computes a JSON merge patch taking old to new, first stripping
// every dotted path in exclude from both documents so excluded fields
// never appear in the resulting patch.
func Diff(old, new hubtypes.Document, exclude []string) ([]byte, error) {
	oldClean := stripPaths(old, exclude)
	newClean := stripPaths(new, exclude)

	oldRaw, err := json.Marshal(oldClean)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: marshal old: %w", err)
	}
	newRaw, err := json.Marshal(newClean)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: marshal new: %w", err)
	}

	patch, err := jsonpatch.CreateMergePatch(oldRaw, newRaw)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: create merge patch: %w", err)
	}
	return patch, nil
}

// Apply applies a merge patch produced by Diff to doc.
func Apply(doc hubtypes.Document, patch []byte) (hubtypes.Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: marshal document: %w", err)
	}
	merged, err := jsonpatch.MergePatch(raw, patch)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: apply merge patch: %w", err)
	}
	var out hubtypes.Document
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("jsonpatch: unmarshal patched document: %w", err)
	}
	return out, nil
}

// IsEmpty reports whether patch represents no change ("{}" or null).
func IsEmpty(patch []byte) bool {
	trimmed := strings.TrimSpace(string(patch))
	return trimmed == "" || trimmed == "{}" || trimmed == "null"
}

func stripPaths(doc hubtypes.Document, paths []string) hubtypes.Document {
	if len(paths) == 0 {
		return doc
	}
	out := doc.Clone()
	for _, p := range paths {
		unsetDotted(out, p)
	}
	return out
}

func unsetDotted(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	m := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(m, p)
			return
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
}
