package rule

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultLexiconSize bounds the parsed-atom memoization table. Rule sets
// reuse the same atom text heavily (the same code gated behind many
// locations), so this is a straightforward win; it is sized generously since
// a full pack rarely declares more than a few thousand distinct atoms.
const defaultLexiconSize = 4096

// Lexicon memoizes ParseAtom by raw atom text. It is safe to share across a
// single tracker instance; the tracker itself is single-threaded, so no
// internal locking is attempted here.
type Lexicon struct {
	cache *lru.Cache[string, Atom]
}

// NewLexicon builds a lexicon with the default memoization size.
func NewLexicon() *Lexicon {
	c, err := lru.New[string, Atom](defaultLexiconSize)
	if err != nil {
		// Only returns an error for a non-positive size, which never
		// happens with the compiled-in constant above.
		panic(err)
	}
	return &Lexicon{cache: c}
}

// Parse returns the decoded Atom for raw, parsing and caching it on first
// use.
func (l *Lexicon) Parse(raw string) (Atom, error) {
	if a, ok := l.cache.Get(raw); ok {
		return a, nil
	}
	a, err := ParseAtom(raw)
	if err != nil {
		return Atom{}, err
	}
	l.cache.Add(raw, a)
	return a, nil
}
