package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitrdm/trackercore/pkg/rule"
)

func newTestEvaluator(items *ItemStore, locations *LocationStore, host ScriptHost) (*Evaluator, *ProviderIndex) {
	if items == nil {
		items = NewItemStore(nil)
	}
	if locations == nil {
		locations = NewLocationStore(nil, PolicyMerge)
	}
	p := NewProviderIndex(nil, items, host)
	e := NewEvaluator(nil, p, locations, rule.NewLexicon())
	return e, p
}

func mustAddLocation(t *testing.T, s *LocationStore, d LocationDecl) {
	t.Helper()
	s.AddLocations([]LocationDecl{d})
}

// S1: a location gated on a single required code is NONE until the item is
// collected, then NORMAL.
func TestEvaluatorLinearGate(t *testing.T) {
	items := NewItemStore(nil)
	items.AddItems([]ItemDecl{{Name: "sword", Type: "toggle", Codes: StringList{"sword"}}})
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:        "cave",
		AccessRules: RuleDecl{{"sword"}},
	})
	e, p := newTestEvaluator(items, locations, nil)
	loc, err := locations.GetLocation("cave", false)
	require.NoError(t, err)

	assert.Equal(t, LevelNone, e.EvaluateLocation(loc, false))
	items.ChangeItemState("sword", ActionPrimary)
	p.Invalidate()
	e.Invalidate()
	assert.Equal(t, LevelNormal, e.EvaluateLocation(loc, false))
}

// S2: an optional atom that fails degrades its clause to SEQUENCE_BREAK
// instead of NONE (the "glitch" case).
func TestEvaluatorOptionalDegradesToSequenceBreak(t *testing.T) {
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:        "ledge",
		AccessRules: RuleDecl{{"[boots]"}},
	})
	e, _ := newTestEvaluator(nil, locations, nil)
	loc, _ := locations.GetLocation("ledge", false)
	assert.Equal(t, LevelSequenceBreak, e.EvaluateLocation(loc, false))
}

// A non-optional failing atom takes the whole clause to NONE, even when an
// earlier atom in the same clause was optional.
func TestEvaluatorRequiredAtomWinsOverOptional(t *testing.T) {
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:        "ledge",
		AccessRules: RuleDecl{{"[boots]", "key"}},
	})
	e, _ := newTestEvaluator(nil, locations, nil)
	loc, _ := locations.GetLocation("ledge", false)
	assert.Equal(t, LevelNone, e.EvaluateLocation(loc, false))
}

// S3: a check-only atom can only ever contribute INSPECT, never NORMAL, even
// when its code is satisfied.
func TestEvaluatorCheckOnlyAtomCapsAtInspect(t *testing.T) {
	items := NewItemStore(nil)
	items.AddItems([]ItemDecl{{Name: "map", Type: "toggle", Codes: StringList{"map"}}})
	items.ChangeItemState("map", ActionPrimary)
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:        "room",
		AccessRules: RuleDecl{{"{map}"}},
	})
	e, _ := newTestEvaluator(items, locations, nil)
	loc, _ := locations.GetLocation("room", false)
	assert.Equal(t, LevelInspect, e.EvaluateLocation(loc, false))
}

// A clause is never cheaper than its strictest atom: one check-only atom
// caps the whole clause's contribution at INSPECT, even when every other
// atom in it is independently satisfied at NORMAL.
func TestEvaluatorCheckOnlyAtomCapsWholeClause(t *testing.T) {
	items := NewItemStore(nil)
	items.AddItems([]ItemDecl{
		{Name: "map", Type: "toggle", Codes: StringList{"map"}},
		{Name: "key", Type: "toggle", Codes: StringList{"key"}},
	})
	items.ChangeItemState("map", ActionPrimary)
	items.ChangeItemState("key", ActionPrimary)
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:        "room",
		AccessRules: RuleDecl{{"{map}", "key"}},
	})
	e, _ := newTestEvaluator(items, locations, nil)
	loc, _ := locations.GetLocation("room", false)
	assert.Equal(t, LevelInspect, e.EvaluateLocation(loc, false))
}

// A failed check-only atom (no checkOnly atom satisfied, sub-level NONE)
// degrades the same as a normal atom: optional if marked, else the clause
// fails outright.
func TestEvaluatorFailedCheckOnlyAtomFailsClause(t *testing.T) {
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:        "room",
		AccessRules: RuleDecl{{"{missing}"}},
	})
	e, _ := newTestEvaluator(nil, locations, nil)
	loc, _ := locations.GetLocation("room", false)
	assert.Equal(t, LevelNone, e.EvaluateLocation(loc, false))
}

// Disjunction: any satisfied clause makes the whole set NORMAL.
func TestEvaluatorDisjunctionShortCircuits(t *testing.T) {
	items := NewItemStore(nil)
	items.AddItems([]ItemDecl{{Name: "key", Type: "toggle", Codes: StringList{"key"}}})
	items.ChangeItemState("key", ActionPrimary)
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:        "room",
		AccessRules: RuleDecl{{"bomb"}, {"key"}},
	})
	e, _ := newTestEvaluator(items, locations, nil)
	loc, _ := locations.GetLocation("room", false)
	assert.Equal(t, LevelNormal, e.EvaluateLocation(loc, false))
}

// An empty rule set is vacuously NORMAL.
func TestEvaluatorEmptyRuleSetIsNormal(t *testing.T) {
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{Name: "start"})
	e, _ := newTestEvaluator(nil, locations, nil)
	loc, _ := locations.GetLocation("start", false)
	assert.Equal(t, LevelNormal, e.EvaluateLocation(loc, false))
}

// S5: a mutual cross-reference cycle evaluates both sides to NONE, and
// neither result is cached.
func TestEvaluatorMutualCycleIsNoneAndUncached(t *testing.T) {
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name: "a",
		Sections: []SectionDecl{
			{Name: "a", AccessRules: RuleDecl{{"@b/b"}}},
		},
	})
	mustAddLocation(t, locations, LocationDecl{
		Name: "b",
		Sections: []SectionDecl{
			{Name: "b", AccessRules: RuleDecl{{"@a/a"}}},
		},
	})
	e, _ := newTestEvaluator(nil, locations, nil)

	_, secA, err := locations.GetSection("a/a")
	require.NoError(t, err)
	_, secB, err := locations.GetSection("b/b")
	require.NoError(t, err)

	assert.Equal(t, LevelNone, e.EvaluateSection(secA, false))
	assert.Equal(t, LevelNone, e.EvaluateSection(secB, false))

	assert.Equal(t, 0, e.reachCache.Len(), "a cyclic result must never be memoized")
}

// A self-reference ("a location that references its own section") is
// likewise uncached and resolves to NONE rather than recursing forever.
func TestEvaluatorSelfReferenceTerminates(t *testing.T) {
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name: "loop",
		Sections: []SectionDecl{
			{Name: "s", AccessRules: RuleDecl{{"@loop/s"}}},
		},
	})
	e, _ := newTestEvaluator(nil, locations, nil)
	_, sec, err := locations.GetSection("loop/s")
	require.NoError(t, err)
	assert.Equal(t, LevelNone, e.EvaluateSection(sec, false))
	assert.Equal(t, 0, e.reachCache.Len())
}

// A non-cyclic reference chain, by contrast, is cached once resolved.
func TestEvaluatorAcyclicRefIsCached(t *testing.T) {
	items := NewItemStore(nil)
	items.AddItems([]ItemDecl{{Name: "key", Type: "toggle", Codes: StringList{"key"}}})
	items.ChangeItemState("key", ActionPrimary)
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{Name: "vault", AccessRules: RuleDecl{{"key"}}})
	mustAddLocation(t, locations, LocationDecl{Name: "antechamber", AccessRules: RuleDecl{{"@vault"}}})
	e, _ := newTestEvaluator(items, locations, nil)

	loc, _ := locations.GetLocation("antechamber", false)
	assert.Equal(t, LevelNormal, e.EvaluateLocation(loc, false))
	assert.GreaterOrEqual(t, e.reachCache.Len(), 1)
}

// A section ref is dereferenced exactly once; the canonical cache/cycle key
// is the real section's path, not the ref spelling.
func TestEvaluatorSectionRefDereferencedOnce(t *testing.T) {
	items := NewItemStore(nil)
	items.AddItems([]ItemDecl{{Name: "key", Type: "toggle", Codes: StringList{"key"}}})
	items.ChangeItemState("key", ActionPrimary)
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name: "real_place",
		Sections: []SectionDecl{
			{Name: "real_section", AccessRules: RuleDecl{{"key"}}},
		},
	})
	mustAddLocation(t, locations, LocationDecl{
		Name: "alias_place",
		Sections: []SectionDecl{
			{Name: "alias_section", Ref: "real_place/real_section"},
		},
	})
	e, _ := newTestEvaluator(items, locations, nil)
	_, alias, err := locations.GetSection("alias_place/alias_section")
	require.NoError(t, err)

	assert.Equal(t, LevelNormal, e.EvaluateSection(alias, false))
	_, ok := e.reachCache.Get("real_place/real_section")
	assert.True(t, ok, "cache key must be the dereferenced section's own path")
}

// S6: a bulk transaction holds back change events until the outermost
// EndBulk, then fires every changed id once, in first-touched order, even
// when an id is touched more than once before the matching EndBulk.
func TestEvaluatorBulkCoalescesEvents(t *testing.T) {
	items := NewItemStore(nil)
	items.AddItems([]ItemDecl{
		{Name: "a", Type: "toggle", Codes: StringList{"a"}},
		{Name: "b", Type: "toggle", Codes: StringList{"b"}},
	})
	locations := NewLocationStore(nil, PolicyMerge)
	p := NewProviderIndex(nil, items, nil)
	e := NewEvaluator(nil, p, locations, rule.NewLexicon())
	r := NewReactive(nil, p, e)
	items.SetNotifier(r.OnChanged)

	var events []ChangeEvent
	r.Subscribe(func(ev ChangeEvent) { events = append(events, ev) })

	r.BeginBulk()
	items.ChangeItemState("a", ActionPrimary)
	items.ChangeItemState("b", ActionPrimary)
	items.ChangeItemState("a", ActionPrimary) // touched twice before flush
	assert.Empty(t, events, "no events before the outer EndBulk")
	r.EndBulk()

	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID, "first-touched order")
	assert.Equal(t, "b", events[1].ID)
}

func TestEvaluatorBulkNestingFlushesOnlyAtOutermost(t *testing.T) {
	items := NewItemStore(nil)
	items.AddItems([]ItemDecl{{Name: "a", Type: "toggle", Codes: StringList{"a"}}})
	locations := NewLocationStore(nil, PolicyMerge)
	p := NewProviderIndex(nil, items, nil)
	e := NewEvaluator(nil, p, locations, rule.NewLexicon())
	r := NewReactive(nil, p, e)
	items.SetNotifier(r.OnChanged)

	var events []ChangeEvent
	r.Subscribe(func(ev ChangeEvent) { events = append(events, ev) })

	r.BeginBulk()
	r.BeginBulk()
	items.ChangeItemState("a", ActionPrimary)
	r.EndBulk()
	assert.Empty(t, events, "inner EndBulk must not flush")
	r.EndBulk()
	assert.Len(t, events, 1)
}

// Reachability cache invalidates on every item change outside a bulk
// transaction, never stays stale.
func TestEvaluatorInvalidatesOnNonBulkItemChange(t *testing.T) {
	items := NewItemStore(nil)
	items.AddItems([]ItemDecl{{Name: "key", Type: "toggle", Codes: StringList{"key"}}})
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{Name: "vault", AccessRules: RuleDecl{{"key"}}})
	p := NewProviderIndex(nil, items, nil)
	e := NewEvaluator(nil, p, locations, rule.NewLexicon())
	r := NewReactive(nil, p, e)
	items.SetNotifier(r.OnChanged)

	loc, _ := locations.GetLocation("vault", false)
	assert.Equal(t, LevelNone, e.EvaluateLocation(loc, false))
	items.ChangeItemState("key", ActionPrimary)
	assert.Equal(t, LevelNormal, e.EvaluateLocation(loc, false))
}

// An unresolved cross-reference is treated as NONE rather than erroring.
func TestEvaluatorUnresolvedRefIsNone(t *testing.T) {
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:        "room",
		AccessRules: RuleDecl{{"@nowhere"}},
	})
	e, _ := newTestEvaluator(nil, locations, nil)
	loc, _ := locations.GetLocation("room", false)
	assert.Equal(t, LevelNone, e.EvaluateLocation(loc, false))
}

// A malformed atom fails its clause outright without panicking.
func TestEvaluatorMalformedAtomFailsClause(t *testing.T) {
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:        "room",
		AccessRules: RuleDecl{{"[unterminated"}},
	})
	e, _ := newTestEvaluator(nil, locations, nil)
	loc, _ := locations.GetLocation("room", false)
	assert.Equal(t, LevelNone, e.EvaluateLocation(loc, false))
}

// Visibility queries use the visibility rule set and their own cache
// namespace (never memoized, so a visibility read never returns an access
// answer and vice versa).
func TestEvaluatorVisibilitySeparateFromAccess(t *testing.T) {
	locations := NewLocationStore(nil, PolicyMerge)
	mustAddLocation(t, locations, LocationDecl{
		Name:            "room",
		AccessRules:     RuleDecl{{"key"}},
		VisibilityRules: RuleDecl{},
	})
	e, _ := newTestEvaluator(nil, locations, nil)
	loc, _ := locations.GetLocation("room", false)
	assert.Equal(t, LevelNone, e.EvaluateLocation(loc, false))
	assert.Equal(t, LevelNormal, e.EvaluateLocation(loc, true), "empty visibility rules are vacuously NORMAL")
}
