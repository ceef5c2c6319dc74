package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
		l.Wait()
	})
	return l, cancel
}

func TestPostRunsInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	require.NoError(t, l.Call(context.Background(), func() error { return nil }))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostFromTaskDoesNotBlock(t *testing.T) {
	l, _ := startLoop(t)

	var inner atomic.Bool
	err := l.Call(context.Background(), func() error {
		for i := 0; i < 1000; i++ {
			l.Post(func() {})
		}
		l.Post(func() { inner.Store(true) })
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, l.Call(context.Background(), func() error { return nil }))
	assert.True(t, inner.Load())
}

func TestCallReturnsError(t *testing.T) {
	l, _ := startLoop(t)
	want := errors.New("nope")
	assert.ErrorIs(t, l.Call(context.Background(), func() error { return want }), want)
}

func TestGoPostsContinuation(t *testing.T) {
	l, _ := startLoop(t)

	done := make(chan int, 1)
	l.Go(func() func() {
		v := 42
		return func() { done <- v }
	})

	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("continuation never ran")
	}
}

func TestAfterFuncStop(t *testing.T) {
	l, _ := startLoop(t)

	var fired atomic.Bool
	stop := l.AfterFunc(time.Hour, func() { fired.Store(true) })
	assert.True(t, stop())

	ch := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(ch) })
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	assert.False(t, fired.Load())
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l, _ := startLoop(t)
	l.Post(func() { panic("boom") })
	assert.NoError(t, l.Call(context.Background(), func() error { return nil }))
}

func TestCallAfterStop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	err := l.Call(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}
