package manual

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := New(start)
	clk.Advance(time.Minute)
	require.NoError(t, clk.Sleep(context.Background(), 2*time.Second))

	assert.Equal(t, start.Add(time.Minute+2*time.Second), clk.Now())
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Sleeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, clk.Sleep(ctx, time.Second), context.Canceled)
	assert.Len(t, clk.Sleeps(), 1)
}
