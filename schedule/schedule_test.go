package schedule_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentchain/schedule"
)

func frozenClock(at time.Time) func(o *schedule.ServiceOptions) {
	return func(o *schedule.ServiceOptions) {
		o.Now = func() time.Time { return at }
	}
}

func TestStage_Ladder(t *testing.T) {
	assert.Equal(t, schedule.StageFirst, schedule.StageNew.Next())
	assert.Equal(t, schedule.StageSecond, schedule.StageFirst.Next())
	assert.Equal(t, schedule.StageThird, schedule.StageSecond.Next())
	assert.Equal(t, schedule.StageDone, schedule.StageThird.Next())
	assert.Equal(t, schedule.StageDone, schedule.StageDone.Next())
	assert.Equal(t, schedule.StageResolved, schedule.StageResolved.Next())

	assert.Equal(t, 24*time.Hour, schedule.StageNew.Interval())
	assert.Equal(t, 3*24*time.Hour, schedule.StageFirst.Interval())
	assert.Equal(t, 7*24*time.Hour, schedule.StageSecond.Interval())
	assert.Equal(t, 14*24*time.Hour, schedule.StageThird.Interval())
	assert.Zero(t, schedule.StageDone.Interval())

	assert.False(t, schedule.StageNew.Terminal())
	assert.True(t, schedule.StageDone.Terminal())
	assert.True(t, schedule.StageResolved.Terminal())
	assert.True(t, schedule.StageOptedOut.Terminal())
}

func TestService_EnrollSetsFirstDueDate(t *testing.T) {
	enrolledAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := schedule.NewService(schedule.NewInMemoryStore(), frozenClock(enrolledAt))

	record, err := svc.Enroll(context.Background(), "c1", "u1", "a@b.c", "Dana", "back pain")
	require.NoError(t, err)
	assert.Equal(t, schedule.StageNew, record.Stage)
	require.NotNil(t, record.NextDueAt)
	assert.Equal(t, enrolledAt.Add(24*time.Hour), *record.NextDueAt)
	assert.False(t, record.Locked)
}

func TestService_ClaimAndReleaseWalksLadder(t *testing.T) {
	enrolledAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := schedule.NewInMemoryStore()
	svc := schedule.NewService(store, frozenClock(enrolledAt.Add(25*time.Hour)))

	enroll := schedule.NewService(store, frozenClock(enrolledAt))
	_, err := enroll.Enroll(context.Background(), "c1", "u1", "a@b.c", "Dana", "back pain")
	require.NoError(t, err)

	record, err := svc.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.True(t, record.Locked)
	require.NotNil(t, record.LockedAt)

	// Locked records are invisible to further claims.
	_, err = svc.ClaimNext(context.Background())
	assert.ErrorIs(t, err, schedule.ErrNoneDue)

	require.NoError(t, svc.Release(context.Background(), record))
	released, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StageFirst, released.Stage)
	assert.False(t, released.Locked)
	assert.Nil(t, released.LockedAt)
	require.NotNil(t, released.NextDueAt)
	// Due dates are offsets from enrollment, not from the contact.
	assert.Equal(t, enrolledAt.Add(3*24*time.Hour), *released.NextDueAt)
}

func TestService_ReleaseOntoTerminalStageClearsDueDate(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	store := schedule.NewInMemoryStore()
	svc := schedule.NewService(store, frozenClock(now))

	record, err := svc.Enroll(context.Background(), "c1", "u1", "a@b.c", "Dana", "rash")
	require.NoError(t, err)
	record.Stage = schedule.StageThird

	require.NoError(t, svc.Release(context.Background(), record))
	got, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StageDone, got.Stage)
	assert.Nil(t, got.NextDueAt)
}

func TestService_ResolvedOutcomeRetiresLadder(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	store := schedule.NewInMemoryStore()
	svc := schedule.NewService(store, frozenClock(now))

	_, err := svc.Enroll(context.Background(), "c1", "u1", "a@b.c", "Dana", "rash")
	require.NoError(t, err)

	require.NoError(t, svc.RecordOutcome(context.Background(), "c1", schedule.OutcomeResolved))
	got, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StageResolved, got.Stage)
	assert.Nil(t, got.NextDueAt)
	assert.Equal(t, schedule.OutcomeResolved, got.LastOutcome)

	// A resolved record never comes due again.
	later := schedule.NewService(store, frozenClock(now.Add(90*24*time.Hour)))
	_, err = later.ClaimNext(context.Background())
	assert.ErrorIs(t, err, schedule.ErrNoneDue)
}

func TestService_NonResolvedOutcomeKeepsLadder(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	store := schedule.NewInMemoryStore()
	svc := schedule.NewService(store, frozenClock(now))

	_, err := svc.Enroll(context.Background(), "c1", "u1", "a@b.c", "Dana", "rash")
	require.NoError(t, err)

	require.NoError(t, svc.RecordOutcome(context.Background(), "c1", "still_hurting"))
	got, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StageNew, got.Stage)
	assert.NotNil(t, got.NextDueAt)
}

func TestService_OptOut(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	store := schedule.NewInMemoryStore()
	svc := schedule.NewService(store, frozenClock(now))

	_, err := svc.Enroll(context.Background(), "c1", "u1", "a@b.c", "Dana", "rash")
	require.NoError(t, err)
	require.NoError(t, svc.OptOut(context.Background(), "c1"))

	got, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StageOptedOut, got.Stage)
	assert.Nil(t, got.NextDueAt)
}

func TestService_ResumeEligible(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	store := schedule.NewInMemoryStore()
	svc := schedule.NewService(store, frozenClock(now))

	_, eligible, err := svc.ResumeEligible(context.Background(), "a@b.c")
	require.NoError(t, err)
	assert.False(t, eligible)

	_, err = svc.Enroll(context.Background(), "c1", "u1", "a@b.c", "Dana", "rash")
	require.NoError(t, err)

	record, eligible, err := svc.ResumeEligible(context.Background(), "a@b.c")
	require.NoError(t, err)
	require.True(t, eligible)
	assert.Equal(t, "c1", record.ConvoID)

	require.NoError(t, svc.OptOut(context.Background(), "c1"))
	_, eligible, err = svc.ResumeEligible(context.Background(), "a@b.c")
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestService_SweepStaleLocks(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	store := schedule.NewInMemoryStore()

	lockedAt := now.Add(-2 * time.Hour)
	due := now.Add(-time.Hour)
	require.NoError(t, store.Save(context.Background(), &schedule.Record{
		ConvoID: "stuck", Stage: schedule.StageNew, NextDueAt: &due,
		Locked: true, LockedAt: &lockedAt, Created: now.Add(-48 * time.Hour),
	}))

	svc := schedule.NewService(store, frozenClock(now))
	cleared, err := svc.SweepStaleLocks(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	record, err := svc.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stuck", record.ConvoID)
}

func TestInMemoryStore_ConcurrentClaimIsExclusive(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	store := schedule.NewInMemoryStore()
	due := now.Add(-time.Minute)
	require.NoError(t, store.Save(context.Background(), &schedule.Record{
		ConvoID: "c1", Stage: schedule.StageNew, NextDueAt: &due, Created: now.Add(-24 * time.Hour),
	}))

	const workers = 16
	var wg sync.WaitGroup
	claims := make(chan *schedule.Record, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := store.ClaimDue(context.Background(), now)
			if err == nil {
				claims <- record
			}
		}()
	}
	wg.Wait()
	close(claims)

	var won int
	for range claims {
		won++
	}
	assert.Equal(t, 1, won, "exactly one worker claims the record")
}

func TestInMemoryStore_ClaimPrefersEarliestDue(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	store := schedule.NewInMemoryStore()
	early := now.Add(-3 * time.Hour)
	late := now.Add(-time.Hour)
	require.NoError(t, store.Save(context.Background(), &schedule.Record{
		ConvoID: "late", Stage: schedule.StageNew, NextDueAt: &late, Created: now,
	}))
	require.NoError(t, store.Save(context.Background(), &schedule.Record{
		ConvoID: "early", Stage: schedule.StageFirst, NextDueAt: &early, Created: now,
	}))

	record, err := store.ClaimDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, "early", record.ConvoID)
}
