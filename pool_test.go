package trident

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool_WithBothWrite_RemovesAndAppendsByURL(t *testing.T) {
	a := NewUpstream("https://a.example.com", "", 1, 0, 15)
	b := NewUpstream("https://b.example.com", "", 1, 0, 15)
	pool := NewPool([]*Upstream{a, b}, nil)

	pool.WithBothWrite(func(active, poverty *[]*Upstream) {
		removed, ok := removeByURL(active, a.URL)
		require.True(t, ok)
		*poverty = append(*poverty, removed)
	})

	require.Equal(t, 1, pool.ActiveLen())
	require.Equal(t, 1, pool.PovertyLen())
}

func TestRemoveByURL_NotFound(t *testing.T) {
	a := NewUpstream("https://a.example.com", "", 1, 0, 15)
	list := []*Upstream{a}
	_, ok := removeByURL(&list, "https://missing.example.com")
	require.False(t, ok)
	require.Len(t, list, 1)
}

func TestSnapshotClones_IndependentOfOriginal(t *testing.T) {
	a := NewUpstream("https://a.example.com", "", 1, 0, 15)
	clones := snapshotClones([]*Upstream{a})
	clones[0].Consecutive = 99
	require.Zero(t, a.Consecutive)
}
