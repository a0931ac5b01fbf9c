// Package jsonpack holds the declaration-blob shape detection shared by
// every Add* entry point on the tracker: the "bare array or {key: [...]}"
// ambiguity for items/locations, and the legacy maps/layouts normalization
// of spec §6. It intentionally knows nothing about item or location types
// so it can be imported by pkg/tracker without a cycle.
package jsonpack

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// ErrMalformed is wrapped into every decode failure this package reports.
var ErrMalformed = errors.New("jsonpack: malformed declaration blob")

// ExtractArray returns the raw top-level JSON array from data: either data
// itself is an array, or data is an object whose key field holds one. Real
// packs use both forms depending on authoring tool.
func ExtractArray(data []byte, key string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.RawMessage(trimmed), nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	arr, ok := wrapped[key]
	if !ok {
		return nil, fmt.Errorf("%w: no top-level array and no %q field", ErrMalformed, key)
	}
	return arr, nil
}

// NormalizeMapLike decodes a maps or layouts blob into a plain name->blob
// dictionary, detecting and undoing the two legacy shapes spec §6 names: a
// root object containing "layouts" is unwrapped to that inner object; a
// root object with both "type" and "content" fields is itself the single
// entry of a synthesized "tracker_broadcast" dictionary.
func NormalizeMapLike(data []byte) (map[string]any, error) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if inner, ok := root["layouts"]; ok {
		if m, ok := inner.(map[string]any); ok {
			return m, nil
		}
	}
	_, hasType := root["type"]
	_, hasContent := root["content"]
	if hasType && hasContent {
		return map[string]any{"tracker_broadcast": root}, nil
	}
	return root, nil
}
