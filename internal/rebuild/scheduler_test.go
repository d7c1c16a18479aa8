package rebuild

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedRunner blocks every run until release is called and tracks overlap.
type gatedRunner struct {
	gate    chan struct{}
	started chan Trigger

	active  atomic.Int32
	maxSeen atomic.Int32

	mu   sync.Mutex
	runs []Trigger
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{gate: make(chan struct{}), started: make(chan Trigger, 16)}
}

func (g *gatedRunner) Run(ctx context.Context, t Trigger) (*Run, error) {
	n := g.active.Add(1)
	for {
		seen := g.maxSeen.Load()
		if n <= seen || g.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	g.mu.Lock()
	g.runs = append(g.runs, t)
	g.mu.Unlock()
	g.started <- t

	select {
	case <-g.gate:
	case <-ctx.Done():
	}
	g.active.Add(-1)
	return &Run{ID: t.ID, State: StateDone}, nil
}

func (g *gatedRunner) release() { g.gate <- struct{}{} }

func (g *gatedRunner) triggers() []Trigger {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Trigger(nil), g.runs...)
}

func waitStarted(t *testing.T, g *gatedRunner) Trigger {
	t.Helper()
	select {
	case tr := <-g.started:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("run did not start")
		return Trigger{}
	}
}

func TestSchedulerStartsQueuesAndCoalesces(t *testing.T) {
	runner := newGatedRunner()
	s := NewScheduler(context.Background(), runner)

	first := s.Trigger(context.Background(), SourceWebhook)
	assert.Equal(t, OutcomeStarted, first.Outcome)
	started := waitStarted(t, runner)
	assert.Equal(t, first.RunID, started.ID)
	assert.True(t, s.Busy())

	second := s.Trigger(context.Background(), SourceWebhook)
	third := s.Trigger(context.Background(), SourceKafka)
	assert.Equal(t, OutcomeQueued, second.Outcome)
	assert.Equal(t, OutcomeCoalesced, third.Outcome)
	assert.Equal(t, second.RunID, third.RunID)

	runner.release()
	follow := waitStarted(t, runner)
	assert.Equal(t, second.RunID, follow.ID)
	runner.release()
	s.Wait()

	assert.False(t, s.Busy())
	assert.Len(t, runner.triggers(), 2)
	assert.Equal(t, int32(1), runner.maxSeen.Load())
}

func TestSchedulerNeverOverlapsRuns(t *testing.T) {
	runner := newGatedRunner()
	s := NewScheduler(context.Background(), runner)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Trigger(context.Background(), SourceWebhook)
		}()
	}
	wg.Wait()

	waitStarted(t, runner)
	runner.release()
	waitStarted(t, runner)
	runner.release()
	s.Wait()

	assert.Len(t, runner.triggers(), 2)
	assert.Equal(t, int32(1), runner.maxSeen.Load())
}

func TestSchedulerStartsAgainAfterIdle(t *testing.T) {
	runner := newGatedRunner()
	s := NewScheduler(context.Background(), runner)

	s.Trigger(context.Background(), SourceCLI)
	waitStarted(t, runner)
	runner.release()
	s.Wait()

	ack := s.Trigger(context.Background(), SourceCLI)
	assert.Equal(t, OutcomeStarted, ack.Outcome)
	waitStarted(t, runner)
	runner.release()
	s.Wait()
	assert.Len(t, runner.triggers(), 2)
}

func TestSchedulerDropsQueuedRunOnShutdown(t *testing.T) {
	runner := newGatedRunner()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(ctx, runner)

	s.Trigger(context.Background(), SourceWebhook)
	waitStarted(t, runner)
	require.Equal(t, OutcomeQueued, s.Trigger(context.Background(), SourceWebhook).Outcome)

	cancel()
	s.Wait()

	assert.Len(t, runner.triggers(), 1)
	assert.False(t, s.Busy())
}
