package offer_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentchain/eventlog"
	"github.com/hupe1980/agentchain/offer"
)

func newService() *offer.Service {
	return offer.NewService(eventlog.New(eventlog.NewInMemoryStore()))
}

func TestNewOfferID_Shape(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{50}$`)
	a, b := offer.NewOfferID(), offer.NewOfferID()
	assert.Regexp(t, pattern, a)
	assert.Regexp(t, pattern, b)
	assert.NotEqual(t, a, b)
}

func TestService_FullFlow(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	offerID, err := svc.Begin(ctx, "c1", "u1", map[string]any{"primary_concern": "back pain"})
	require.NoError(t, err)
	require.NotEmpty(t, offerID)

	q := offer.IntakeQuestionnaire()
	require.NoError(t, svc.BeginQuestionnaire(ctx, offerID, q))

	done, err := svc.RecordAnswer(ctx, offerID, q, "primary_concern", "back pain")
	require.NoError(t, err)
	assert.False(t, done)
	done, err = svc.RecordAnswer(ctx, offerID, q, "duration", "two weeks")
	require.NoError(t, err)
	assert.False(t, done)
	done, err = svc.RecordAnswer(ctx, offerID, q, "severity", 6)
	require.NoError(t, err)
	assert.True(t, done, "all required questions answered")

	require.NoError(t, svc.Initiate(ctx, offerID, 4900, "USD"))
	require.NoError(t, svc.Accept(ctx, offerID))
	require.NoError(t, svc.RecordPayment(ctx, offerID, "pay_123"))
	require.NoError(t, svc.RequestVerification(ctx, offerID))
	require.NoError(t, svc.ResolveVerification(ctx, offerID, true, ""))

	stage, err := svc.Stage(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, offer.EventUserVerified, stage)

	status, err := svc.PaymentVerificationStatus(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusVerified, status)
}

func TestService_RejectsOutOfOrderStage(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	offerID, err := svc.Begin(ctx, "c1", "u1", nil)
	require.NoError(t, err)

	// Payment cannot be recorded before an offer exists and is accepted.
	err = svc.RecordPayment(ctx, offerID, "pay_123")
	assert.ErrorIs(t, err, offer.ErrInvalidTransition)

	stage, err := svc.Stage(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, offer.EventStateCapture, stage)
}

func TestService_LateAnswerRejectedAfterStageMove(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	q := offer.IntakeQuestionnaire()

	offerID, err := svc.Begin(ctx, "c1", "u1", nil)
	require.NoError(t, err)
	require.NoError(t, svc.BeginQuestionnaire(ctx, offerID, q))
	_, err = svc.RecordAnswer(ctx, offerID, q, "primary_concern", "back pain")
	require.NoError(t, err)
	_, err = svc.RecordAnswer(ctx, offerID, q, "duration", "a month")
	require.NoError(t, err)
	_, err = svc.RecordAnswer(ctx, offerID, q, "severity", 4)
	require.NoError(t, err)
	require.NoError(t, svc.Initiate(ctx, offerID, 4900, "USD"))

	_, err = svc.RecordAnswer(ctx, offerID, q, "medications", "none")
	assert.ErrorIs(t, err, eventlog.ErrStaleEvent)
}

func TestService_AnswerValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	q := offer.IntakeQuestionnaire()

	offerID, err := svc.Begin(ctx, "c1", "u1", nil)
	require.NoError(t, err)
	require.NoError(t, svc.BeginQuestionnaire(ctx, offerID, q))

	_, err = svc.RecordAnswer(ctx, offerID, q, "favorite_color", "blue")
	assert.ErrorIs(t, err, offer.ErrUnknownQuestion)

	_, err = svc.RecordAnswer(ctx, offerID, q, "severity", 14)
	assert.Error(t, err)

	_, err = svc.RecordAnswer(ctx, offerID, q, "severity", "six")
	assert.Error(t, err)
}

func TestService_VerificationFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	q := offer.IntakeQuestionnaire()

	offerID, err := svc.Begin(ctx, "c1", "u1", nil)
	require.NoError(t, err)
	require.NoError(t, svc.BeginQuestionnaire(ctx, offerID, q))
	_, err = svc.RecordAnswer(ctx, offerID, q, "primary_concern", "rash")
	require.NoError(t, err)
	_, err = svc.RecordAnswer(ctx, offerID, q, "duration", "days")
	require.NoError(t, err)
	_, err = svc.RecordAnswer(ctx, offerID, q, "severity", 2)
	require.NoError(t, err)
	require.NoError(t, svc.Initiate(ctx, offerID, 4900, "USD"))
	require.NoError(t, svc.Accept(ctx, offerID))
	require.NoError(t, svc.RecordPayment(ctx, offerID, "pay_9"))
	require.NoError(t, svc.RequestVerification(ctx, offerID))
	require.NoError(t, svc.ResolveVerification(ctx, offerID, false, "id document unreadable"))

	status, err := svc.PaymentVerificationStatus(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusVerificationFailed, status)

	require.NoError(t, svc.RequestVerification(ctx, offerID))
	require.NoError(t, svc.ResolveVerification(ctx, offerID, true, ""))

	status, err = svc.PaymentVerificationStatus(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusVerified, status)
}

func TestService_CurrentForConvo(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	id, err := svc.CurrentForConvo(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, id)

	offerID, err := svc.Begin(ctx, "c1", "u1", nil)
	require.NoError(t, err)

	id, err = svc.CurrentForConvo(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, offerID, id)
}
