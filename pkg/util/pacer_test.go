package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for range 1000 {
		d := Jitter(base, 0.2)
		require.GreaterOrEqual(t, d, 80*time.Millisecond)
		require.LessOrEqual(t, d, 120*time.Millisecond)
	}
	require.Equal(t, base, Jitter(base, 0))
}

func TestPacerZeroBaseDoesNotWait(t *testing.T) {
	p := NewPacer(0, 0.5)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestPacerWaits(t *testing.T) {
	p := NewPacer(5*time.Millisecond, 0)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	require.NoError(t, p.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestPacerCancelled(t *testing.T) {
	p := NewPacer(time.Hour, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
}
