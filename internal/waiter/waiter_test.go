package waiter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/formpilot/internal/waiter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSleep(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, waiter.Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start = time.Now()
	err := waiter.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, waiter.Sleep(context.Background(), 0))
	assert.ErrorIs(t, waiter.Sleep(ctx, 0), context.Canceled)
}

func TestPoll_ZeroTimeoutChecksOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	start := time.Now()
	ok, err := waiter.Poll(context.Background(), 50*time.Millisecond, 0, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "zero timeout must not sleep")
}

func TestPoll_SucceedsOnLaterCheck(t *testing.T) {
	t.Parallel()

	calls := 0
	ok, err := waiter.Poll(context.Background(), 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
}

func TestPoll_TimesOut(t *testing.T) {
	t.Parallel()

	calls := 0
	start := time.Now()
	ok, err := waiter.Poll(context.Background(), 10*time.Millisecond, 45*time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestPoll_CheckErrorStops(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	_, err := waiter.Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPoll_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := waiter.Poll(ctx, 5*time.Millisecond, time.Hour, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJitter(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		d := waiter.Jitter(30*time.Millisecond, 60*time.Millisecond)
		assert.GreaterOrEqual(t, d, 30*time.Millisecond)
		assert.LessOrEqual(t, d, 60*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, waiter.Jitter(5*time.Millisecond, time.Millisecond))
}
