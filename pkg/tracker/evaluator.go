package tracker

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/gitrdm/trackercore/pkg/rule"
)

// Level is a point in the accessibility lattice NONE < INSPECT <
// SEQUENCE_BREAK < NORMAL. Its integer ordering is meaningful: comparisons
// like `a < b` are used directly by the degradation rules.
type Level int

const (
	LevelNone Level = iota
	LevelInspect
	LevelSequenceBreak
	LevelNormal
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelInspect:
		return "INSPECT"
	case LevelSequenceBreak:
		return "SEQUENCE_BREAK"
	case LevelNormal:
		return "NORMAL"
	default:
		return "UNKNOWN"
	}
}

// reachabilityCacheSize bounds the memoized node (location/section) level
// table.
const reachabilityCacheSize = 4096

// ParentStack is the explicit recursion stack threaded through a single
// evaluation, per the "Recursion stack" design note: modeled as a value
// passed down the call chain rather than hidden (thread-local/global)
// state, so a scripted predicate that calls back into the evaluator can be
// handed the same stack explicitly instead of reaching into ambient state.
type ParentStack struct {
	ids []string
}

// NewParentStack returns an empty stack, used once per top-level query.
func NewParentStack() *ParentStack {
	return &ParentStack{}
}

// Contains reports whether id is already on the stack.
func (p *ParentStack) Contains(id string) bool {
	for _, x := range p.ids {
		if x == id {
			return true
		}
	}
	return false
}

func (p *ParentStack) push(id string) { p.ids = append(p.ids, id) }
func (p *ParentStack) pop()           { p.ids = p.ids[:len(p.ids)-1] }

// Snapshot copies the current stack contents, safe for a scripted predicate
// to retain past the call that handed it out.
func (p *ParentStack) Snapshot() []string {
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// Evaluator implements §4.4: evaluating a disjunction-of-conjunctions rule
// set against the provider index and the location store, with cycle
// detection and a memoization table distinct from the provider index's own
// cache (see ProviderIndex's doc comment for why they are not folded
// together).
//
// The memoization/cycle-tracking discipline here is grounded in the
// teacher's SLG tabling engine (pkg/minikanren/tabling.go, slg_engine.go):
// "don't table through an active subgoal, only cache a fully-resolved
// answer" is exactly the rule this evaluator applies to reachability
// results, adapted from logic-program subgoals to location/section ids.
type Evaluator struct {
	log       *zap.SugaredLogger
	provider  *ProviderIndex
	locations *LocationStore
	lex       *rule.Lexicon

	reachCache *lru.Cache[string, Level]

	// currentParents is published just before a scripted-predicate call
	// and cleared immediately after, per §4.4's "publish... unpublish"
	// requirement. Safe without synchronization because the tracker is
	// single-threaded (spec §5): there is exactly one evaluation, and
	// thus exactly one scripted call, in flight at a time.
	currentParents []string
}

// NewEvaluator builds an evaluator over provider and locations, using lex to
// decode rule atoms.
func NewEvaluator(log *zap.SugaredLogger, provider *ProviderIndex, locations *LocationStore, lex *rule.Lexicon) *Evaluator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c, err := lru.New[string, Level](reachabilityCacheSize)
	if err != nil {
		panic(err)
	}
	return &Evaluator{log: log, provider: provider, locations: locations, lex: lex, reachCache: c}
}

// Invalidate clears every memoized node-level result. Called on every item
// change outside a bulk update, on bulk flush, and on every declaration
// load (spec §9's "reachable" cache).
func (e *Evaluator) Invalidate() {
	e.reachCache.Purge()
}

// CurrentParents returns the recursion stack active during the
// currently-in-flight scripted-predicate call, or nil outside one. A
// ScriptHost implementation that needs to query the evaluator back (e.g. to
// check reachability of some other node as part of computing its own
// result) is handed this explicitly rather than through thread-local state.
func (e *Evaluator) CurrentParents() []string {
	return e.currentParents
}

// EvaluateLocation evaluates a location's own access (visibility=false) or
// visibility (visibility=true) rule set from a fresh recursion stack.
func (e *Evaluator) EvaluateLocation(loc *Location, visibility bool) Level {
	rs := loc.AccessRules
	if visibility {
		rs = loc.VisibilityRules
	}
	level, _ := e.evaluateNode(loc.ID, rs, visibility, NewParentStack())
	return level
}

// EvaluateSection evaluates sec's rules, first dereferencing sec.Ref once if
// set. An unresolved ref is logged and treated as NONE.
func (e *Evaluator) EvaluateSection(sec *Section, visibility bool) Level {
	real, ok := e.locations.ResolveSectionRef(sec)
	if !ok {
		e.log.Warnw("unresolved section ref", "section", sec.Path(), "ref", sec.Ref)
		return LevelNone
	}
	rs := real.AccessRules
	if visibility {
		rs = real.VisibilityRules
	}
	level, _ := e.evaluateNode(real.Path(), rs, visibility, NewParentStack())
	return level
}

// evaluateNode evaluates the rule set owned by id (a location id or a
// "location/section" path), applying cycle detection and the memoization
// discipline of §4.4's closing paragraphs.
func (e *Evaluator) evaluateNode(id string, rs rule.Set, visibility bool, parents *ParentStack) (Level, map[string]struct{}) {
	if !visibility {
		if lvl, ok := e.reachCache.Get(id); ok {
			return lvl, nil
		}
	}
	if parents.Contains(id) {
		return LevelNone, map[string]struct{}{id: {}}
	}

	parents.push(id)
	level, cycles := e.evaluateSet(rs, visibility, parents)
	parents.pop()

	// Whether this node's result is trustworthy to cache is decided from
	// the raw witness set, before this node's own id is stripped out of
	// it for propagation to the caller: a result is cache-safe only when
	// no witness survived at all. Stripping first and checking after
	// would wrongly mark a node that is itself part of a cycle back to
	// itself (through any number of hops) as cacheable, once the cycle
	// has unwound all the way back to the id that started it.
	cacheable := level != LevelNone || len(cycles) == 0

	if level == LevelNone {
		delete(cycles, id)
	} else {
		cycles = nil
	}
	if !visibility && cacheable {
		e.reachCache.Add(id, level)
	}
	return level, cycles
}

// evaluateSet combines every clause (conjunction) in rs by disjunction, per
// §4.4's clause-to-final rules. An empty rule set is vacuously NORMAL.
func (e *Evaluator) evaluateSet(rs rule.Set, visibility bool, parents *ParentStack) (Level, map[string]struct{}) {
	if rs.Empty() {
		return LevelNormal, map[string]struct{}{}
	}

	anyInspect, anySeqBreak, shortCircuit := false, false, false
	cycles := map[string]struct{}{}

	for _, clause := range rs {
		level, checkOnly, cc := e.evaluateClause(clause, visibility, parents)
		for id := range cc {
			cycles[id] = struct{}{}
		}
		switch {
		case level == LevelNormal && !checkOnly:
			shortCircuit = true
		case level != LevelNone && checkOnly:
			anyInspect = true
		case level == LevelSequenceBreak && !checkOnly:
			anySeqBreak = true
		}
		if shortCircuit {
			break
		}
	}

	switch {
	case shortCircuit:
		return LevelNormal, cycles
	case anySeqBreak:
		return LevelSequenceBreak, cycles
	case anyInspect:
		return LevelInspect, cycles
	default:
		return LevelNone, cycles
	}
}

// evaluateClause evaluates one conjunction of atoms, returning its running
// level, whether any atom in it was check-only, and any cycle witnesses
// surfaced by nested location/section references.
func (e *Evaluator) evaluateClause(clause rule.Clause, visibility bool, parents *ParentStack) (Level, bool, map[string]struct{}) {
	level := LevelNormal
	checkOnly := false
	cycles := map[string]struct{}{}

	for _, raw := range clause {
		if raw == "" {
			continue // an empty atom is vacuously satisfied
		}
		atom, err := e.lex.Parse(raw)
		if err != nil {
			e.log.Warnw("malformed rule atom, treating clause as unsatisfied", "atom", raw, "error", err)
			level = LevelNone
			break
		}
		if atom.Empty() {
			if atom.CheckOnly {
				checkOnly = true
			}
			continue
		}

		var subLevel Level
		var subCycles map[string]struct{}
		if atom.Kind == rule.KindLocationRef {
			subLevel, subCycles = e.evaluateRefAtom(atom.Body, visibility, parents)
		} else {
			n := e.countFor(atom, parents)
			if n >= atom.Count {
				subLevel = LevelNormal
			} else {
				subLevel = LevelNone
			}
		}
		for id := range subCycles {
			cycles[id] = struct{}{}
		}
		if atom.CheckOnly {
			checkOnly = true
		}

		if subLevel == LevelNormal {
			continue
		}

		// Degradation rules (§4.4), applied only when this atom did not
		// resolve at NORMAL.
		if subLevel == LevelInspect && !atom.CheckOnly {
			subLevel = LevelNone
		}
		if subLevel == LevelNone {
			if atom.Optional {
				subLevel = LevelSequenceBreak
			} else {
				level = LevelNone
				break
			}
		}
		if subLevel == LevelSequenceBreak && level != LevelNone {
			if level > LevelSequenceBreak {
				level = LevelSequenceBreak
			}
		}
	}

	return level, checkOnly, cycles
}

// evaluateRefAtom resolves and recursively evaluates a '@'-prefixed
// cross-reference.
func (e *Evaluator) evaluateRefAtom(body string, visibility bool, parents *ParentStack) (Level, map[string]struct{}) {
	id, rs, ok := e.resolveRef(body, visibility)
	if !ok {
		e.log.Warnw("unresolved rule cross-reference", "ref", body)
		return LevelNone, nil
	}
	return e.evaluateNode(id, rs, visibility, parents)
}

// resolveRef resolves an '@' atom body to a canonical node id and the rule
// set to evaluate: an exact or partial location match, or a
// "location/section" path whose tail matches a section name, per §4.2's
// "Partial lookup" and §3's "Rule expression" cross-reference rule. A
// section with a non-empty ref is dereferenced once; the *canonical id*
// returned is the real (dereferenced) section's path, so cache keys and
// cycle-stack entries are stable across different spellings of the same
// reference (§4.4's "Section ref resolution").
func (e *Evaluator) resolveRef(body string, visibility bool) (string, rule.Set, bool) {
	if loc, err := e.locations.GetLocation(body, false); err == nil {
		return e.refFromLocation(loc, visibility)
	}
	if _, sec, err := e.locations.GetSection(body); err == nil {
		return e.refFromSection(sec, visibility)
	}
	if loc, err := e.locations.GetLocation(body, true); err == nil {
		return e.refFromLocation(loc, visibility)
	}
	return "", nil, false
}

func (e *Evaluator) refFromLocation(loc *Location, visibility bool) (string, rule.Set, bool) {
	if visibility {
		return loc.ID, loc.VisibilityRules, true
	}
	return loc.ID, loc.AccessRules, true
}

func (e *Evaluator) refFromSection(sec *Section, visibility bool) (string, rule.Set, bool) {
	real, ok := e.locations.ResolveSectionRef(sec)
	if !ok {
		return "", nil, false
	}
	if visibility {
		return real.Path(), real.VisibilityRules, true
	}
	return real.Path(), real.AccessRules, true
}

// countFor evaluates a non-'@' atom's provider count, publishing parents for
// the duration of a '$' scripted call so the script host can query the
// evaluator back through the explicit handle (CurrentParents), then
// unpublishing.
func (e *Evaluator) countFor(atom rule.Atom, parents *ParentStack) int {
	if atom.Kind != rule.KindScript {
		return e.provider.Count(atom.Body)
	}
	e.currentParents = parents.Snapshot()
	defer func() { e.currentParents = nil }()

	raw := "$" + atom.Body
	if len(atom.ScriptArgs) > 0 {
		raw += "|" + strings.Join(atom.ScriptArgs, "|")
	}
	return e.provider.Count(raw)
}
