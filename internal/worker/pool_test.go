package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitBeforeStartFails(t *testing.T) {
	p := NewPool(2)
	_, err := p.Submit(func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrPoolNotStarted)
}

func TestSubmitAfterStopFails(t *testing.T) {
	p := NewPool(2)
	require.NoError(t, p.Start())
	p.Stop()
	_, err := p.Submit(func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestFutureResolvesResult(t *testing.T) {
	p := NewPool(2)
	require.NoError(t, p.Start())
	defer p.Stop()

	future, err := p.Submit(func() (interface{}, error) { return 42, nil })
	require.NoError(t, err)

	result, err := future.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestFutureDoneIsNonBlockingAndEventuallyTrue(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Start())
	defer p.Stop()

	release := make(chan struct{})
	future, err := p.Submit(func() (interface{}, error) {
		<-release
		return "done", nil
	})
	require.NoError(t, err)
	assert.False(t, future.Done())

	close(release)
	require.Eventually(t, future.Done, time.Second, time.Millisecond)

	result, err := future.Result()
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestFuturePropagatesTaskError(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Start())
	defer p.Stop()

	wantErr := errors.New("boom")
	future, err := p.Submit(func() (interface{}, error) { return nil, wantErr })
	require.NoError(t, err)

	_, err = future.Result()
	assert.ErrorIs(t, err, wantErr)
}

func TestPanicRecoveredAsPanicError(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Start())
	defer p.Stop()

	future, err := p.Submit(func() (interface{}, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	_, err = future.Result()
	require.Error(t, err)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Recovered)

	// A panicking task must not take the whole pool down.
	future2, err := p.Submit(func() (interface{}, error) { return "still alive", nil })
	require.NoError(t, err)
	result, err := future2.Result()
	require.NoError(t, err)
	assert.Equal(t, "still alive", result)
}

func TestStopIsIdempotent(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Start())
	p.Stop()
	assert.NotPanics(t, func() { p.Stop() })
}

func TestMaxWorkersClampsToAtLeastOne(t *testing.T) {
	p := NewPool(0)
	assert.Equal(t, 1, p.MaxWorkers())
}
