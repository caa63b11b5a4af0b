package tui

import (
	"testing"
	"time"

	"nodetop/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestNavigation_WrapsAround(t *testing.T) {
	var n navigation
	assert.Equal(t, TabSummary, n.tab)

	n.prev()
	assert.Equal(t, TabTopCapacity, n.tab)
	n.next()
	assert.Equal(t, TabSummary, n.tab)

	for i := 0; i < 3; i++ {
		n.next()
	}
	assert.Equal(t, TabTopCapacity, n.tab)
}

func TestTabTitle(t *testing.T) {
	assert.Equal(t, "Summary", TabSummary.Title())
	assert.Equal(t, "Recent Blocks", TabBlocks.Title())
	assert.Equal(t, "Peers", TabPeers.Title())
	assert.Equal(t, "Top Capacity", TabTopCapacity.Title())
	assert.Equal(t, "", Tab(7).Title())
	assert.Equal(t, "", Tab(-1).Title())
}

func TestIsFresh(t *testing.T) {
	now := time.Unix(1000, 0)
	window := 2 * time.Second

	assert.True(t, isFresh(now, now.Add(-1999*time.Millisecond), window))
	assert.False(t, isFresh(now, now.Add(-2000*time.Millisecond), window), "exactly the window is stale")
	assert.False(t, isFresh(now, now.Add(-5*time.Second), window))
	assert.True(t, isFresh(now, now.Add(time.Second), window), "clock skew counts as fresh")
	assert.False(t, isFresh(now, time.Time{}, window))
}

func TestBlockIntervals(t *testing.T) {
	base := time.Unix(0, 0)
	blocks := []models.BlockSummary{
		{Number: 10, Timestamp: base},
		{Number: 11, Timestamp: base.Add(8 * time.Second)},
		{Number: 13, Timestamp: base.Add(20 * time.Second)},
	}
	assert.Equal(t, []float64{8, 6}, blockIntervals(blocks, 100))
	assert.Equal(t, []float64{6}, blockIntervals(blocks, 1))
	assert.Empty(t, blockIntervals(blocks[:1], 10))
}
