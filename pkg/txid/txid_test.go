package txid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDPacksSiteAndCounter(t *testing.T) {
	id := New(7, 42)
	require.Equal(t, uint32(7), id.SiteID())
	require.Equal(t, uint32(42), id.Counter())
	require.Equal(t, "7:42", id.String())
}

func TestGeneratorCountsIndependentlyPerSite(t *testing.T) {
	g := NewGenerator()

	first := g.Next(1)
	second := g.Next(1)
	require.Equal(t, uint32(0), first.Counter())
	require.Equal(t, uint32(1), second.Counter())

	otherSite := g.Next(2)
	require.Equal(t, uint32(0), otherSite.Counter())
	require.NotEqual(t, first, otherSite)
}
