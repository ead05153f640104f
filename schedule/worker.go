package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/agentchain/logging"
)

// Greeter performs the outreach for one claimed record. Implementations
// typically start a conversation turn addressed to the record's user.
type Greeter interface {
	Greet(ctx context.Context, record *Record) error
}

// GreeterFunc adapts a function into a Greeter.
type GreeterFunc func(ctx context.Context, record *Record) error

// Greet implements Greeter.
func (f GreeterFunc) Greet(ctx context.Context, record *Record) error { return f(ctx, record) }

// WorkerOptions holds overrides passed to NewWorker.
type WorkerOptions struct {
	// Schedule is the cron expression for batch runs.
	Schedule string
	// MaxClaims bounds how many records one batch run may claim.
	MaxClaims int
	// StaleAfter is the lock age cleared by the startup sweep.
	StaleAfter time.Duration
	Logger     logging.Logger
}

// Worker runs the periodic claim loop: sweep stale locks at startup, then
// on every cron tick claim due records one at a time and greet each. A
// claimed record is always released, whether the greeting succeeded or
// not, so the ladder keeps moving even when outreach fails.
type Worker struct {
	service   *Service
	greeter   Greeter
	cron      *cron.Cron
	schedule  string
	maxClaims int
	stale     time.Duration
	logger    logging.Logger
}

// NewWorker constructs a Worker over a schedule service and a greeter.
func NewWorker(service *Service, greeter Greeter, optFns ...func(o *WorkerOptions)) (*Worker, error) {
	if service == nil || greeter == nil {
		return nil, errors.New("schedule: service and greeter are required")
	}
	opts := WorkerOptions{
		Schedule:   "@every 1h",
		MaxClaims:  50,
		StaleAfter: 30 * time.Minute,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Worker{
		service:   service,
		greeter:   greeter,
		cron:      cron.New(),
		schedule:  opts.Schedule,
		maxClaims: opts.MaxClaims,
		stale:     opts.StaleAfter,
		logger:    opts.Logger,
	}, nil
}

// Start sweeps stale locks once and begins the cron schedule. The context
// is carried into every batch run until Stop.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.service.SweepStaleLocks(ctx, w.stale); err != nil {
		return fmt.Errorf("sweep stale locks: %w", err)
	}
	if _, err := w.cron.AddFunc(w.schedule, func() {
		if err := w.RunBatch(ctx); err != nil {
			w.logger.Error("schedule batch failed", "error", err.Error())
		}
	}); err != nil {
		return fmt.Errorf("register schedule %q: %w", w.schedule, err)
	}
	w.cron.Start()
	return nil
}

// Stop halts the cron schedule and waits for a running batch to finish.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

// RunBatch claims and processes due records until none are left or the
// claim bound is reached. Exposed so transports can trigger a run outside
// the cron schedule.
func (w *Worker) RunBatch(ctx context.Context) error {
	for i := 0; i < w.maxClaims; i++ {
		record, err := w.service.ClaimNext(ctx)
		if errors.Is(err, ErrNoneDue) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim due record: %w", err)
		}

		if err := w.greeter.Greet(ctx, record); err != nil {
			w.logger.Error("schedule greeting failed",
				"conversation_id", record.ConvoID, "stage", string(record.Stage), "error", err.Error())
		} else {
			w.logger.Info("schedule greeting sent",
				"conversation_id", record.ConvoID, "stage", string(record.Stage))
		}

		if err := w.service.Release(ctx, record); err != nil {
			return fmt.Errorf("release record %s: %w", record.ConvoID, err)
		}
	}
	w.logger.Warn("schedule batch hit claim bound", "max_claims", w.maxClaims)
	return nil
}
