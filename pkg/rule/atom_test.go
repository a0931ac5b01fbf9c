package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAtomPlainCode(t *testing.T) {
	a, err := ParseAtom("sword")
	require.NoError(t, err)
	assert.Equal(t, KindCode, a.Kind)
	assert.Equal(t, "sword", a.Body)
	assert.Equal(t, 1, a.Count)
	assert.False(t, a.Optional)
	assert.False(t, a.CheckOnly)
}

func TestParseAtomCount(t *testing.T) {
	a, err := ParseAtom("rupee:60")
	require.NoError(t, err)
	assert.Equal(t, "rupee", a.Body)
	assert.Equal(t, 60, a.Count)
}

func TestParseAtomOptional(t *testing.T) {
	a, err := ParseAtom("[fire]")
	require.NoError(t, err)
	assert.True(t, a.Optional)
	assert.Equal(t, "fire", a.Body)
}

func TestParseAtomCheckOnly(t *testing.T) {
	a, err := ParseAtom("{map}")
	require.NoError(t, err)
	assert.True(t, a.CheckOnly)
	assert.Equal(t, "map", a.Body)
}

func TestParseAtomCheckOnlyEmpty(t *testing.T) {
	a, err := ParseAtom("{}")
	require.NoError(t, err)
	assert.True(t, a.CheckOnly)
	assert.True(t, a.Empty())
}

func TestParseAtomLocationRef(t *testing.T) {
	a, err := ParseAtom("@caves/a")
	require.NoError(t, err)
	assert.Equal(t, KindLocationRef, a.Kind)
	assert.Equal(t, "caves/a", a.Body)
}

func TestParseAtomScript(t *testing.T) {
	a, err := ParseAtom("$has_glitch|a|b")
	require.NoError(t, err)
	assert.Equal(t, KindScript, a.Kind)
	assert.Equal(t, "has_glitch", a.Body)
	assert.Equal(t, []string{"a", "b"}, a.ScriptArgs)
}

func TestParseAtomOptionalCount(t *testing.T) {
	a, err := ParseAtom("[fire]:2")
	require.NoError(t, err)
	assert.True(t, a.Optional)
	assert.Equal(t, "fire", a.Body)
	assert.Equal(t, 2, a.Count)
}

func TestParseAtomUnterminatedRejected(t *testing.T) {
	_, err := ParseAtom("{fire")
	require.ErrorIs(t, err, ErrMalformedAtom)

	_, err = ParseAtom("[fire")
	require.ErrorIs(t, err, ErrMalformedAtom)
}

func TestLexiconMemoizes(t *testing.T) {
	lex := NewLexicon()
	a1, err := lex.Parse("sword:2")
	require.NoError(t, err)
	a2, err := lex.Parse("sword:2")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestSetEmpty(t *testing.T) {
	var s Set
	assert.True(t, s.Empty())
	s = Set{{"a"}}
	assert.False(t, s.Empty())
}
