package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowUnfollow(t *testing.T) {
	g := New()
	g.Follow("s1", "a1")
	g.Follow("s1", "a2")
	g.Follow("s2", "a1")

	authors, ok := g.Follows("s1")
	require.True(t, ok)
	assert.Equal(t, []string{"a1", "a2"}, authors)
	assert.Equal(t, []string{"s1", "s2"}, g.Followers("a1"))

	g.Unfollow("s1", "a1")
	authors, _ = g.Follows("s1")
	assert.Equal(t, []string{"a2"}, authors)
	assert.Equal(t, []string{"s2"}, g.Followers("a1"))
	require.NoError(t, g.Consistent())
}

func TestFollow_DuplicatesPreserved(t *testing.T) {
	g := New()
	g.Follow("s", "a")
	g.Follow("s", "a")

	authors, _ := g.Follows("s")
	assert.Equal(t, []string{"a", "a"}, authors)
	assert.Equal(t, []string{"s", "s"}, g.Followers("a"))
	require.NoError(t, g.Consistent())

	g.Unfollow("s", "a")
	authors, ok := g.Follows("s")
	assert.True(t, ok, "subscriber entry survives unfollow")
	assert.Empty(t, authors)
	assert.Empty(t, g.Followers("a"))
	require.NoError(t, g.Consistent())
}

func TestUnfollow_UnknownIsNoop(t *testing.T) {
	g := New()
	g.Unfollow("ghost", "a")

	_, ok := g.Follows("ghost")
	assert.False(t, ok)
	require.NoError(t, g.Consistent())
}

func TestFollows_ReturnsCopy(t *testing.T) {
	g := New()
	g.Follow("s", "a")

	authors, _ := g.Follows("s")
	authors[0] = "mutated"

	again, _ := g.Follows("s")
	assert.Equal(t, []string{"a"}, again)
}

func TestFromMaps_RejectsInconsistent(t *testing.T) {
	_, err := FromMaps(
		map[string][]string{"s": {"a", "a"}},
		map[string][]string{"a": {"s"}},
	)
	assert.Error(t, err)

	_, err = FromMaps(
		map[string][]string{"s": {"a"}},
		map[string][]string{},
	)
	assert.Error(t, err)

	g, err := FromMaps(
		map[string][]string{"s": {"a", "b"}, "t": {}},
		map[string][]string{"a": {"s"}, "b": {"s"}},
	)
	require.NoError(t, err)
	_, ok := g.Follows("t")
	assert.True(t, ok)
}

func TestClone_Independent(t *testing.T) {
	g := New()
	g.Follow("s", "a")
	c := g.Clone()
	c.Follow("s", "b")

	authors, _ := g.Follows("s")
	assert.Equal(t, []string{"a"}, authors)
	assert.Equal(t, map[string][]string{"s": {"a", "b"}}, c.FollowsMap())
}
