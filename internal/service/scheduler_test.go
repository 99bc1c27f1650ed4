package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsImmediatePassAndStops(t *testing.T) {
	db := setupTestStore(t)

	r := NewReconciler(db, 1440, 360, testLogger())
	d := NewDispatcher(db, nil, testBreaker(), DispatcherOptions{}, testLogger())

	s, err := NewScheduler(r, d, 60, 60, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}

func TestSchedulerStopSignal(t *testing.T) {
	db := setupTestStore(t)

	r := NewReconciler(db, 1440, 360, testLogger())
	d := NewDispatcher(db, nil, testBreaker(), DispatcherOptions{}, testLogger())

	s, err := NewScheduler(r, d, 0, 0, testLogger())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	s.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after Stop")
	}
}
