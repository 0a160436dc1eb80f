package interstitial_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personal/interstitial-ad-coordinator/internal/domain/interstitial"
)

func TestResult_SettlesOnce(t *testing.T) {
	r := interstitial.NewPendingResult()
	assert.False(t, r.Settled())

	assert.True(t, r.Resolve(true))
	assert.False(t, r.Reject(errors.New("too late")))
	assert.False(t, r.Resolve(false))

	value, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, value)

	select {
	case <-r.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestResult_WaitHonoursContext(t *testing.T) {
	r := interstitial.NewPendingResult()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, r.Settled())
}

func TestResult_SettledBeatsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := interstitial.RejectedResult(interstitial.ErrAdNotReady).Wait(ctx)
	assert.ErrorIs(t, err, interstitial.ErrAdNotReady)

	value, err := interstitial.ResolvedResult(true).Wait(ctx)
	require.NoError(t, err)
	assert.True(t, value)
}
