package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	r := New(3, time.Millisecond, 5*time.Millisecond)

	calls := 0
	err := r.Do(context.Background(), func() (bool, error) {
		calls++
		if calls < 3 {
			return true, errors.New("transient")
		}
		return false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	r := New(5, time.Millisecond, 5*time.Millisecond)

	permanent := errors.New("bad request")
	calls := 0
	err := r.Do(context.Background(), func() (bool, error) {
		calls++
		return false, permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	r := New(2, time.Millisecond, 5*time.Millisecond)

	boom := errors.New("boom")
	calls := 0
	err := r.Do(context.Background(), func() (bool, error) {
		calls++
		return true, boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoHonoursContextCancellation(t *testing.T) {
	r := New(10, 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() (bool, error) {
		calls++
		return true, errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelayIsCapped(t *testing.T) {
	r := New(10, 100*time.Millisecond, 400*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, r.delay(0))
	assert.Equal(t, 200*time.Millisecond, r.delay(1))
	assert.Equal(t, 400*time.Millisecond, r.delay(2))
	assert.Equal(t, 400*time.Millisecond, r.delay(3))
	assert.Equal(t, 400*time.Millisecond, r.delay(40)) // overflow guard
}
