package tracker

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// providerCacheSize bounds the memoized provider_count table. It is keyed
// by the exact code string (including any '$' prefix), so one entry per
// distinct code/predicate invocation appearing anywhere in the pack.
const providerCacheSize = 4096

// ScriptHost is the embedded-scripting collaborator: given a predicate name
// and its string arguments, return an integer or boolean result, or fail.
// The tracker treats any non-numeric, non-boolean result as failure.
type ScriptHost interface {
	Call(name string, args []string) (ScriptResult, error)
}

// ScriptResult is the normalized result of a ScriptHost.Call: exactly one of
// Number or Bool is meaningful, selected by IsBool.
type ScriptResult struct {
	Number int
	Bool   bool
	IsBool bool
}

// Int normalizes a ScriptResult to the integer the provider index sums:
// true becomes 1, false becomes 0, numbers pass through.
func (r ScriptResult) Int() int {
	if r.IsBool {
		if r.Bool {
			return 1
		}
		return 0
	}
	return r.Number
}

// ProviderIndex aggregates provider_count(code) across the item store,
// memoizing results until explicitly invalidated. Per spec §4.3 the cache is
// cleared on every non-bulk item change and on every declaration load; it is
// deliberately a distinct cache from the evaluator's reachability cache (see
// Evaluator) — folding them would mean a provider-only change (e.g. adding
// an item) invalidates reachability results that never needed to change,
// and vice versa.
type ProviderIndex struct {
	log   *zap.SugaredLogger
	items *ItemStore
	host  ScriptHost
	cache *lru.Cache[string, int]
}

// NewProviderIndex builds an index over items. host may be nil, in which
// case any '$'-prefixed code resolves to 0 (predicate error per §7).
func NewProviderIndex(log *zap.SugaredLogger, items *ItemStore, host ScriptHost) *ProviderIndex {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c, err := lru.New[string, int](providerCacheSize)
	if err != nil {
		panic(err)
	}
	return &ProviderIndex{log: log, items: items, host: host, cache: c}
}

// SetScriptHost (re)binds the scripting collaborator and clears the cache,
// since previously-memoized '$' results may no longer be valid.
func (p *ProviderIndex) SetScriptHost(host ScriptHost) {
	p.host = host
	p.Invalidate()
}

// Count returns provider_count(code): the memoized sum of provides(code)
// over every item, or the normalized scripting-collaborator result for a
// '$'-prefixed code.
func (p *ProviderIndex) Count(code string) int {
	if n, ok := p.cache.Get(code); ok {
		return n
	}
	n := p.compute(code)
	p.cache.Add(code, n)
	return n
}

func (p *ProviderIndex) compute(code string) int {
	if strings.HasPrefix(code, "$") {
		return p.computeScript(code[1:])
	}
	total := 0
	for _, it := range p.items.Items() {
		total += it.Provides(code)
	}
	return total
}

func (p *ProviderIndex) computeScript(rest string) int {
	if p.host == nil {
		p.log.Warnw("scripted predicate invoked with no script host bound", "predicate", rest)
		return 0
	}
	parts := strings.Split(rest, "|")
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	res, err := p.host.Call(name, args)
	if err != nil {
		p.log.Warnw("scripted predicate failed", "predicate", name, "args", args, "error", err)
		return 0
	}
	return res.Int()
}

// Invalidate clears every memoized provider count. Called whenever any item
// changes outside a bulk update, on every bulk flush, and on every
// declaration load.
func (p *ProviderIndex) Invalidate() {
	p.cache.Purge()
}
