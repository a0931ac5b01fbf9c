// Package tracker implements the evaluation core: typed items, locations
// and sections, the rule evaluator, the provider index, the reactive
// change-event core, and state save/load. Tracker is the facade wiring
// these into the public query surface of spec §4.1-4.6 and §6.
package tracker

import (
	"fmt"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/gitrdm/trackercore/internal/jsonpack"
	"github.com/gitrdm/trackercore/pkg/rule"
)

// Tracker owns one self-contained progress-tracking instance: its item and
// location stores, the derived provider and reachability caches, and the
// reactive core fanning out change events. Per spec §5 it is
// single-threaded cooperative: callers must not mutate it from inside a
// change-event handler triggered by the same mutation, and must not call it
// concurrently from multiple goroutines.
type Tracker struct {
	log *zap.SugaredLogger

	items     *ItemStore
	locations *LocationStore
	provider  *ProviderIndex
	evaluator *Evaluator
	reactive  *Reactive

	// uiHints is opaque per-id passthrough state for the UI collaborator
	// (e.g. a preferred glyph or note), never read by the evaluator.
	uiHints map[string]string
}

// New builds an empty Tracker. host may be nil; it can be installed or
// replaced later via SetScriptHost.
func New(log *zap.SugaredLogger, policy DuplicatePolicy, host ScriptHost) *Tracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	items := NewItemStore(log)
	locations := NewLocationStore(log, policy)
	provider := NewProviderIndex(log, items, host)
	evaluator := NewEvaluator(log, provider, locations, rule.NewLexicon())
	reactive := NewReactive(log, provider, evaluator)

	items.SetNotifier(reactive.OnChanged)
	locations.SetNotifier(reactive.OnChanged)

	return &Tracker{
		log:       log,
		items:     items,
		locations: locations,
		provider:  provider,
		evaluator: evaluator,
		reactive:  reactive,
		uiHints:   make(map[string]string),
	}
}

// SetScriptHost (re)binds the scripting collaborator.
func (t *Tracker) SetScriptHost(host ScriptHost) {
	t.provider.SetScriptHost(host)
}

// AddItems decodes raw (a bare JSON array or {"items": [...]}) and merges
// the descriptors into the item store.
func (t *Tracker) AddItems(raw []byte) error {
	arr, err := jsonpack.ExtractArray(raw, "items")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	var decls []ItemDecl
	if err := json.Unmarshal(arr, &decls); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	t.items.AddItems(decls)
	t.invalidateOnLoad()
	return nil
}

// AddLocations decodes raw (a bare JSON array or {"locations": [...]}) and
// merges the descriptor tree into the location store.
func (t *Tracker) AddLocations(raw []byte) error {
	arr, err := jsonpack.ExtractArray(raw, "locations")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	var decls []LocationDecl
	if err := json.Unmarshal(arr, &decls); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	t.locations.AddLocations(decls)
	t.invalidateOnLoad()
	return nil
}

// AddMaps decodes raw, normalizing legacy shapes, and merges it into the
// maps dictionary.
func (t *Tracker) AddMaps(raw []byte) error {
	m, err := jsonpack.NormalizeMapLike(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	t.locations.AddMaps(m)
	return nil
}

// AddLayouts decodes raw, normalizing legacy shapes, and merges it into the
// layouts dictionary.
func (t *Tracker) AddLayouts(raw []byte) error {
	m, err := jsonpack.NormalizeMapLike(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	t.locations.AddLayouts(m)
	return nil
}

func (t *Tracker) invalidateOnLoad() {
	t.provider.Invalidate()
	t.evaluator.Invalidate()
}

// ProviderCount returns provider_count(code).
func (t *Tracker) ProviderCount(code string) int {
	return t.provider.Count(code)
}

// FindForCode returns the first item (declaration order) that can provide
// code, per find_first_providing.
func (t *Tracker) FindForCode(code string) (*Item, bool) {
	it := t.items.FindFirstProviding(code)
	return it, it != nil
}

// FindActiveProviding returns the first item currently providing a positive
// count for code.
func (t *Tracker) FindActiveProviding(code string) (*Item, bool) {
	it := t.items.FindActiveProviding(code)
	return it, it != nil
}

// FindItemByID looks up an item by id.
func (t *Tracker) FindItemByID(id string) (*Item, bool) {
	return t.items.FindItemByID(id)
}

// IsReachableLocation evaluates id's (partial-matched) access rules.
func (t *Tracker) IsReachableLocation(id string) (Level, error) {
	loc, err := t.locations.GetLocation(id, true)
	if err != nil {
		return LevelNone, err
	}
	return t.evaluator.EvaluateLocation(loc, false), nil
}

// IsReachableSection evaluates "loc/section"'s access rules.
func (t *Tracker) IsReachableSection(path string) (Level, error) {
	_, sec, err := t.locations.GetSection(path)
	if err != nil {
		return LevelNone, err
	}
	return t.evaluator.EvaluateSection(sec, false), nil
}

// IsVisibleLocation reports whether id is visible at all (its visibility
// rules evaluate to anything above NONE).
func (t *Tracker) IsVisibleLocation(id string) (bool, error) {
	loc, err := t.locations.GetLocation(id, true)
	if err != nil {
		return false, err
	}
	return t.evaluator.EvaluateLocation(loc, true) != LevelNone, nil
}

// IsVisibleSection reports whether "loc/section" is visible at all.
func (t *Tracker) IsVisibleSection(path string) (bool, error) {
	_, sec, err := t.locations.GetSection(path)
	if err != nil {
		return false, err
	}
	return t.evaluator.EvaluateSection(sec, true) != LevelNone, nil
}

// ChangeItem applies action to item id, per change_item(id, action).
func (t *Tracker) ChangeItem(id string, action Action) (bool, error) {
	return t.items.ChangeItemState(id, action)
}

// SetClearedCount updates a section's cleared/completed count.
func (t *Tracker) SetClearedCount(path string, count int) (bool, error) {
	return t.locations.SetClearedCount(path, count)
}

// BeginBulk opens a bulk-update transaction (§4.5); calls nest.
func (t *Tracker) BeginBulk() {
	t.reactive.BeginBulk()
}

// EndBulk closes one level of bulk transaction, flushing queued events on
// the outermost call.
func (t *Tracker) EndBulk() {
	t.reactive.EndBulk()
}

// OnChange subscribes fn to every future change event.
func (t *Tracker) OnChange(fn func(ChangeEvent)) {
	t.reactive.Subscribe(fn)
}

// MapLocations returns every placement declared against mapName.
func (t *Tracker) MapLocations(mapName string) []MapLocationEntry {
	return t.locations.MapLocations(mapName)
}

// GetMap returns the opaque map blob for name.
func (t *Tracker) GetMap(name string) (any, bool) {
	return t.locations.GetMap(name)
}

// GetLayout returns the opaque layout blob for name.
func (t *Tracker) GetLayout(name string) (any, bool) {
	return t.locations.GetLayout(name)
}

// SetUIHint records an opaque UI hint for id, passed through unchanged by
// the evaluator (SPEC_FULL.md §3 supplemented passthrough fields).
func (t *Tracker) SetUIHint(id, hint string) {
	t.uiHints[id] = hint
}

// UIHint returns id's previously set UI hint, or "".
func (t *Tracker) UIHint(id string) string {
	return t.uiHints[id]
}
