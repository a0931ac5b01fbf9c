package tracker

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// supportedFormatVersion is the only tracker.format_version this build
// accepts; a newer or older value fails the load with ErrStateVersion.
const supportedFormatVersion = 1

// itemState is the mutable slice of an Item that Save/Load round-trip:
// enabled flag, active-stage index, and count, per §4.6.
type itemState struct {
	Enabled     bool `json:"enabled"`
	ActiveStage int  `json:"active_stage"`
	Count       int  `json:"count"`
}

// sectionState is the mutable slice of a Section that Save/Load round-trip.
type sectionState struct {
	ClearedCount int `json:"cleared_count"`
}

type stateBody struct {
	FormatVersion int                     `json:"format_version"`
	JSONItems     map[string]itemState    `json:"json_items"`
	LuaItems      map[string]itemState    `json:"lua_items"`
	Sections      map[string]sectionState `json:"sections"`
}

type stateDocument struct {
	Tracker stateBody `json:"tracker"`
}

// Save serializes every item's and section's mutable state into the
// versioned document shape of §4.6. Every item is written under
// json_items; lua_items is always present but empty, since this tracker
// does not distinguish an item's declaration origin once loaded (see
// DESIGN.md's note on the "Polymorphic item storage" design note).
func (t *Tracker) Save() ([]byte, error) {
	var doc stateDocument
	doc.Tracker.FormatVersion = supportedFormatVersion
	doc.Tracker.JSONItems = make(map[string]itemState, len(t.items.Items()))
	doc.Tracker.LuaItems = make(map[string]itemState)
	doc.Tracker.Sections = make(map[string]sectionState)

	for _, it := range t.items.Items() {
		doc.Tracker.JSONItems[it.ID] = itemState{
			Enabled:     it.Enabled,
			ActiveStage: it.ActiveStage,
			Count:       it.Count,
		}
	}
	for _, loc := range t.locations.Locations() {
		for _, sec := range loc.Sections {
			doc.Tracker.Sections[sec.Path()] = sectionState{ClearedCount: sec.ClearedCount}
		}
	}

	return json.Marshal(doc)
}

// Load restores mutable state from a document produced by Save. Per §4.6 it
// enters bulk mode, applies every entry by id (ignoring unknown ids), then
// flushes one event per touched id. A non-object top level or an
// unsupported format_version fails without mutating any state.
func (t *Tracker) Load(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrStateShape, err)
	}
	trackerRaw, ok := raw["tracker"]
	if !ok {
		return fmt.Errorf("%w: missing top-level \"tracker\" object", ErrStateShape)
	}
	var body stateBody
	if err := json.Unmarshal(trackerRaw, &body); err != nil {
		return fmt.Errorf("%w: %v", ErrStateShape, err)
	}
	if body.FormatVersion != supportedFormatVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrStateVersion, body.FormatVersion, supportedFormatVersion)
	}

	t.reactive.BeginBulk()
	defer t.reactive.EndBulk()

	for id, st := range body.JSONItems {
		t.applyItemState(id, st)
	}
	for id, st := range body.LuaItems {
		t.applyItemState(id, st)
	}
	for path, st := range body.Sections {
		if _, err := t.locations.SetClearedCount(path, st.ClearedCount); err != nil {
			t.log.Warnw("ignoring unknown section in state document", "section", path)
		}
	}
	return nil
}

// applyItemState overwrites id's mutable fields directly (bypassing the
// action state machine, since a load restores an authored value rather than
// applying a user action) and fires one change notification if anything
// actually differed.
func (t *Tracker) applyItemState(id string, st itemState) {
	it, ok := t.items.FindItemByID(id)
	if !ok {
		t.log.Warnw("ignoring unknown item in state document", "id", id)
		return
	}
	changed := it.Enabled != st.Enabled || it.ActiveStage != st.ActiveStage || it.Count != st.Count
	it.Enabled = st.Enabled
	it.ActiveStage = st.ActiveStage
	it.Count = st.Count
	if changed {
		t.items.fireChange(id)
	}
}
