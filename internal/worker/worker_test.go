package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"retail-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
	done  chan struct{}
}

func (s *countingSweeper) Sweep(context.Context, time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 3 {
		close(s.done)
	}
	return 1, s.err
}

func TestSweepWorkerRunsUntilCancelled(t *testing.T) {
	sweeper := &countingSweeper{done: make(chan struct{}), err: errors.New("database unavailable")}
	w := NewSweepWorker(sweeper, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	select {
	case <-sweeper.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper was not called three times")
	}
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestSweepWorkerDefaultsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		w := NewSweepWorker(&countingSweeper{done: make(chan struct{})}, interval)
		assert.Equal(t, defaultSweepInterval, w.interval)
	}
}

func TestSkipInvalidAcksValidationErrors(t *testing.T) {
	event := &models.PaymentResultEvent{ExternalReferenceID: ""}

	wrapped := skipInvalid(func(context.Context, *models.PaymentResultEvent) error {
		return models.NewValidationError("external_reference_id", "is required")
	})
	require.NoError(t, wrapped(context.Background(), event))

	boom := errors.New("database unavailable")
	wrapped = skipInvalid(func(context.Context, *models.PaymentResultEvent) error {
		return boom
	})
	assert.ErrorIs(t, wrapped(context.Background(), event), boom)
}
