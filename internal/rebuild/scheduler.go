package rebuild

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/brownbaglunch/webhook/pkg/logger"
)

// Outcome tells a trigger caller what happened to its request.
type Outcome string

const (
	// OutcomeStarted means a run began immediately.
	OutcomeStarted Outcome = "started"
	// OutcomeQueued means a run is in progress and a follow-up run was queued.
	OutcomeQueued Outcome = "queued"
	// OutcomeCoalesced means a follow-up run was already queued and will
	// serve this trigger too.
	OutcomeCoalesced Outcome = "coalesced"
)

// Ack is returned to trigger callers without waiting for the run.
type Ack struct {
	Outcome Outcome
	RunID   string
}

// Runner executes one run.
type Runner interface {
	Run(ctx context.Context, trigger Trigger) (*Run, error)
}

// Scheduler guarantees at most one run at a time per process. A trigger
// arriving during a run queues exactly one follow-up run; further triggers
// are folded into that queued run, so the latest upstream data is always
// picked up without piling up redundant runs.
type Scheduler struct {
	runner Runner
	ctx    context.Context
	newID  func() string
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	pending *Trigger
	wg      sync.WaitGroup
}

// NewScheduler returns a Scheduler whose runs use ctx, so cancelling ctx
// stops the current run and drops any queued one.
func NewScheduler(ctx context.Context, runner Runner) *Scheduler {
	return &Scheduler{
		runner: runner,
		ctx:    ctx,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "scheduler"),
	}
}

// Trigger requests a run and returns immediately.
func (s *Scheduler) Trigger(ctx context.Context, source string) Ack {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := logger.FromContext(ctx).With("component", "scheduler")

	if !s.running {
		t := Trigger{ID: s.newID(), Source: source}
		s.running = true
		s.wg.Add(1)
		go s.loop(t)
		log.Info("rebuild started", "run_id", t.ID, "trigger", source)
		return Ack{Outcome: OutcomeStarted, RunID: t.ID}
	}
	if s.pending == nil {
		s.pending = &Trigger{ID: s.newID(), Source: source}
		log.Info("rebuild in progress, follow-up run queued", "run_id", s.pending.ID, "trigger", source)
		return Ack{Outcome: OutcomeQueued, RunID: s.pending.ID}
	}
	log.Info("rebuild already queued, trigger coalesced", "run_id", s.pending.ID, "trigger", source)
	return Ack{Outcome: OutcomeCoalesced, RunID: s.pending.ID}
}

func (s *Scheduler) loop(t Trigger) {
	defer s.wg.Done()
	for {
		// Failures are logged and recorded by the runner.
		_, _ = s.runner.Run(s.ctx, t)

		s.mu.Lock()
		if s.pending == nil || s.ctx.Err() != nil {
			if s.pending != nil {
				s.logger.Info("shutting down, dropping queued run", "run_id", s.pending.ID)
			}
			s.pending = nil
			s.running = false
			s.mu.Unlock()
			return
		}
		t = *s.pending
		s.pending = nil
		s.mu.Unlock()
	}
}

// Busy reports whether a run is executing.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until the current and queued runs have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
