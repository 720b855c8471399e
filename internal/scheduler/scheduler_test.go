package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cycleline/internal/domain"
	"cycleline/internal/metrics"
)

type fakeGenerator struct {
	calls  atomic.Int32
	actor  atomic.Value
	cycles []domain.Cycle
	err    error
	called chan struct{}
}

func (f *fakeGenerator) GenerateDueCycles(ctx context.Context, actorID string) ([]domain.Cycle, error) {
	f.calls.Add(1)
	f.actor.Store(actorID)
	if f.called != nil {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}
	return f.cycles, f.err
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	_, err := New(&fakeGenerator{}, "every tuesday", nil, nil)
	require.Error(t, err)

	s, err := New(&fakeGenerator{}, "@hourly", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, s.Logger)
}

func TestRunOnceRecordsOutcome(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	gen := &fakeGenerator{cycles: []domain.Cycle{{ID: "c1"}, {ID: "c2"}}}
	s, err := New(gen, "@hourly", m, nil)
	require.NoError(t, err)

	cycles, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, cycles, 2)
	assert.Equal(t, ActorID, gen.actor.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerRuns.WithLabelValues("true")))

	gen.err = errors.New("database is locked")
	_, err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerRuns.WithLabelValues("false")))
}

func TestStartRunsJobAndStopIsIdempotent(t *testing.T) {
	gen := &fakeGenerator{called: make(chan struct{}, 1)}
	s, err := New(gen, "@every 1s", nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	select {
	case <-gen.called:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for scheduled run")
	}
	s.Stop()
	s.Stop()
	assert.ErrorIs(t, s.Start(), ErrStopped)
}

func TestRunReturnsWhenContextDone(t *testing.T) {
	s, err := New(&fakeGenerator{}, "@daily", nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
}
