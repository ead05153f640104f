// Package schedule implements time-driven re-engagement of past
// conversations. Each enrolled conversation carries a schedule record that
// walks a fixed stage ladder; a periodic worker claims due records one at
// a time with an atomic find-and-lock so concurrent workers never touch
// the same record.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/agentchain/logging"
)

// Stage is a record's position on the re-engagement ladder. Active stages
// carry a due interval measured from enrollment; terminal stages have no
// due date.
type Stage string

const (
	StageNew    Stage = "new"
	StageFirst  Stage = "first_followup"
	StageSecond Stage = "second_followup"
	StageThird  Stage = "third_followup"
	// StageDone marks a ladder walked to the end without resolution.
	StageDone Stage = "done"
	// StageResolved marks the user reporting the concern resolved.
	StageResolved Stage = "resolved"
	// StageOptedOut marks an explicit unsubscribe.
	StageOptedOut Stage = "opted_out"
)

// stageIntervals is the due offset from enrollment per active stage.
var stageIntervals = map[Stage]time.Duration{
	StageNew:    24 * time.Hour,
	StageFirst:  3 * 24 * time.Hour,
	StageSecond: 7 * 24 * time.Hour,
	StageThird:  14 * 24 * time.Hour,
}

// Interval returns the stage's due offset from enrollment. Terminal stages
// return zero.
func (s Stage) Interval() time.Duration { return stageIntervals[s] }

// Terminal reports whether the stage ends the ladder.
func (s Stage) Terminal() bool {
	switch s {
	case StageDone, StageResolved, StageOptedOut:
		return true
	}
	return false
}

// Next returns the stage after one completed contact. Terminal stages
// return themselves.
func (s Stage) Next() Stage {
	switch s {
	case StageNew:
		return StageFirst
	case StageFirst:
		return StageSecond
	case StageSecond:
		return StageThird
	case StageThird:
		return StageDone
	}
	return s
}

var (
	// ErrNotFound is returned when no schedule record exists for a key.
	ErrNotFound = errors.New("schedule: record not found")
	// ErrNoneDue is returned by ClaimDue when no due, unlocked record
	// matches.
	ErrNoneDue = errors.New("schedule: no due record")
)

// OutcomeResolved is the contact outcome that retires the ladder early.
const OutcomeResolved = "all_better"

// Record is one conversation's schedule entry, keyed by conversation id.
// Locked with LockedAt set means a worker currently owns the record.
type Record struct {
	ConvoID     string     `bson:"conversation_id" json:"conversation_id"`
	UserID      string     `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Email       string     `bson:"email,omitempty" json:"email,omitempty"`
	Name        string     `bson:"name,omitempty" json:"name,omitempty"`
	Concern     string     `bson:"concern,omitempty" json:"concern,omitempty"`
	Stage       Stage      `bson:"stage" json:"stage"`
	NextDueAt   *time.Time `bson:"next_due_at,omitempty" json:"next_due_at,omitempty"`
	Locked      bool       `bson:"locked" json:"locked"`
	LockedAt    *time.Time `bson:"locked_at,omitempty" json:"locked_at,omitempty"`
	Initiated   bool       `bson:"initiated" json:"initiated"`
	LastOutcome string     `bson:"last_outcome,omitempty" json:"last_outcome,omitempty"`
	Created     time.Time  `bson:"created" json:"created"`
	Updated     time.Time  `bson:"updated" json:"updated"`
}

// Clone returns a copy safe for independent mutation.
func (r *Record) Clone() *Record {
	c := *r
	if r.NextDueAt != nil {
		due := *r.NextDueAt
		c.NextDueAt = &due
	}
	if r.LockedAt != nil {
		at := *r.LockedAt
		c.LockedAt = &at
	}
	return &c
}

// Store is the persistence contract for schedule records. ClaimDue must be
// atomic: the eligibility check and the lock set happen as one operation.
type Store interface {
	// Get returns the record for a conversation, or ErrNotFound.
	Get(ctx context.Context, convoID string) (*Record, error)
	// Save upserts a record whole.
	Save(ctx context.Context, record *Record) error
	// ClaimDue atomically locks and returns one record with a non-terminal
	// stage, NextDueAt <= now and Locked == false, or ErrNoneDue.
	ClaimDue(ctx context.Context, now time.Time) (*Record, error)
	// LatestByEmail returns the most recently updated record for an email
	// address, or ErrNotFound.
	LatestByEmail(ctx context.Context, email string) (*Record, error)
	// ReleaseStale unlocks every record locked before the cutoff and
	// returns how many it cleared.
	ReleaseStale(ctx context.Context, lockedBefore time.Time) (int64, error)
}

// Service drives schedule records through the stage ladder.
type Service struct {
	store  Store
	logger logging.Logger
	// now is swappable for tests.
	now func() time.Time
}

// ServiceOptions holds overrides passed to NewService.
type ServiceOptions struct {
	Logger logging.Logger
	Now    func() time.Time
}

// NewService constructs a Service over a store.
func NewService(store Store, optFns ...func(o *ServiceOptions)) *Service {
	opts := ServiceOptions{
		Logger: logging.NoOpLogger{},
		Now:    func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{store: store, logger: opts.Logger, now: opts.Now}
}

// Enroll opens or refreshes a conversation's schedule record at the start
// of the ladder.
func (s *Service) Enroll(ctx context.Context, convoID, userID, email, name, concern string) (*Record, error) {
	now := s.now()
	due := now.Add(StageNew.Interval())
	record := &Record{
		ConvoID:   convoID,
		UserID:    userID,
		Email:     email,
		Name:      name,
		Concern:   concern,
		Stage:     StageNew,
		NextDueAt: &due,
		Created:   now,
		Updated:   now,
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ClaimNext atomically claims one due record, or returns ErrNoneDue.
func (s *Service) ClaimNext(ctx context.Context) (*Record, error) {
	return s.store.ClaimDue(ctx, s.now())
}

// Release advances a claimed record one stage and unlocks it. The next due
// date is the enrollment time plus the new stage's interval; walking onto
// a terminal stage clears the due date for good.
func (s *Service) Release(ctx context.Context, record *Record) error {
	record.Stage = record.Stage.Next()
	if record.Stage.Terminal() {
		record.NextDueAt = nil
	} else {
		due := record.Created.Add(record.Stage.Interval())
		record.NextDueAt = &due
	}
	record.Locked = false
	record.LockedAt = nil
	record.Updated = s.now()
	return s.store.Save(ctx, record)
}

// RecordOutcome stores the result of a contact. The resolved outcome
// retires the ladder immediately.
func (s *Service) RecordOutcome(ctx context.Context, convoID, outcome string) error {
	record, err := s.store.Get(ctx, convoID)
	if err != nil {
		return err
	}
	record.LastOutcome = outcome
	if outcome == OutcomeResolved {
		record.Stage = StageResolved
		record.NextDueAt = nil
	}
	record.Updated = s.now()
	return s.store.Save(ctx, record)
}

// OptOut retires a record on explicit unsubscribe.
func (s *Service) OptOut(ctx context.Context, convoID string) error {
	record, err := s.store.Get(ctx, convoID)
	if err != nil {
		return err
	}
	record.Stage = StageOptedOut
	record.NextDueAt = nil
	record.Updated = s.now()
	return s.store.Save(ctx, record)
}

// MarkInitiated records that the scheduled contact actually reached the
// user. Callers flip this only after their outreach succeeded.
func (s *Service) MarkInitiated(ctx context.Context, convoID string) error {
	record, err := s.store.Get(ctx, convoID)
	if err != nil {
		return err
	}
	record.Initiated = true
	record.Updated = s.now()
	return s.store.Save(ctx, record)
}

// ResumeEligible returns the active schedule record for a returning user,
// identified by email, or (nil, false) when there is nothing to resume.
func (s *Service) ResumeEligible(ctx context.Context, email string) (*Record, bool, error) {
	if email == "" {
		return nil, false, nil
	}
	record, err := s.store.LatestByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if record.Stage.Terminal() {
		return nil, false, nil
	}
	return record, true, nil
}

// SweepStaleLocks force-clears locks older than staleAfter. Run at worker
// startup to recover records orphaned by a crashed worker.
func (s *Service) SweepStaleLocks(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cleared, err := s.store.ReleaseStale(ctx, s.now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		s.logger.Warn("cleared stale schedule locks", "count", cleared)
	}
	return cleared, nil
}
