package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPacerHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	TimerPacer{}.Pause(ctx, 5*time.Second)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}

func TestTimerPacerWaitsForDelay(t *testing.T) {
	t.Parallel()

	start := time.Now()
	TimerPacer{}.Pause(context.Background(), 20*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	start = time.Now()
	TimerPacer{}.Pause(context.Background(), 0)
	require.Less(t, time.Since(start), 10*time.Millisecond)
}
