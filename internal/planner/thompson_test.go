package planner

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThompsonStatsUpdate(t *testing.T) {
	stats := NewThompsonStats(time.Second)
	require.InDelta(t, 1000.0, stats.Mu, 1e-9)

	stats.Update(100 * time.Millisecond)
	require.Equal(t, int64(1), stats.Runs)
	require.InDelta(t, 550.0, stats.Mu, 1e-9)
	require.InDelta(t, 2.0, stats.Lambda, 1e-9)
	require.InDelta(t, 1.5, stats.Alpha, 1e-9)
}

func TestThompsonStatsSampleTracksObservations(t *testing.T) {
	stats := NewThompsonStats(50 * time.Millisecond)
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		stats.Update(500 * time.Millisecond)
	}

	var total float64
	for i := 0; i < 200; i++ {
		total += stats.Sample(r)
	}
	require.InDelta(t, 490.0, total/200, 60)
}
