// Package offer implements a multi-step paid-consult flow as an
// event-sourced process: each stage of the flow is one event type, the
// event log's current event is the stage the offer sits in, and partial
// questionnaire answers merge into the current event until the stage is
// complete.
package offer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/hupe1980/agentchain/eventlog"
)

// Stage event types, in flow order. Verification branches: a verify
// request resolves to verified or failed, and a failed verification may be
// retried.
const (
	EventStateCapture         eventlog.EventType = "state_capture"
	EventQuestionnaireCapture eventlog.EventType = "questionnaire_capture"
	EventOfferInitiated       eventlog.EventType = "offer_initiated"
	EventOfferAccepted        eventlog.EventType = "offer_accepted"
	EventPaymentDone          eventlog.EventType = "payment_done"
	EventVerifyUser           eventlog.EventType = "verify_user"
	EventUserVerified         eventlog.EventType = "user_verified"
	EventVerificationFailed   eventlog.EventType = "verification_failed"
	EventPolicyConsent        eventlog.EventType = "policy_consent"
	EventOnboardingCapture    eventlog.EventType = "onboarding_capture"
	EventProviderMatched      eventlog.EventType = "provider_matched"
	EventPlanReady            eventlog.EventType = "plan_ready"
	EventPlanAcknowledged     eventlog.EventType = "plan_acknowledged"
)

// ErrInvalidTransition is returned when a stage capture does not follow
// the flow's transition table from the offer's current stage.
var ErrInvalidTransition = errors.New("offer: invalid stage transition")

// transitions is the allowed successor set per stage.
var transitions = map[eventlog.EventType][]eventlog.EventType{
	EventStateCapture:         {EventQuestionnaireCapture},
	EventQuestionnaireCapture: {EventOfferInitiated},
	EventOfferInitiated:       {EventOfferAccepted},
	EventOfferAccepted:        {EventPaymentDone},
	EventPaymentDone:          {EventVerifyUser},
	EventVerifyUser:           {EventUserVerified, EventVerificationFailed},
	EventVerificationFailed:   {EventVerifyUser},
	EventUserVerified:         {EventPolicyConsent},
	EventPolicyConsent:        {EventOnboardingCapture},
	EventOnboardingCapture:    {EventProviderMatched},
	EventProviderMatched:      {EventPlanReady},
	EventPlanReady:            {EventPlanAcknowledged},
}

// VerificationStatus is the payment/verification projection of an offer.
type VerificationStatus string

const (
	StatusAwaitingPayment      VerificationStatus = "awaiting_payment"
	StatusAwaitingVerification VerificationStatus = "awaiting_verification"
	StatusVerified             VerificationStatus = "verified"
	StatusVerificationFailed   VerificationStatus = "verification_failed"
)

const (
	offerIDLength  = 50
	offerIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewOfferID returns a random 50-character uppercase alphanumeric offer
// id. The length and alphabet match what downstream billing systems
// accept as an external reference.
func NewOfferID() string {
	buf := make([]byte, offerIDLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("offer: id entropy unavailable: %v", err))
	}
	for i, b := range buf {
		buf[i] = offerIDCharset[int(b)%len(offerIDCharset)]
	}
	return string(buf)
}

// Service drives offers through the stage flow on top of an event log.
type Service struct {
	log *eventlog.Log
}

// NewService constructs a Service over an event log.
func NewService(log *eventlog.Log) *Service {
	return &Service{log: log}
}

// Begin opens a new offer for a conversation, capturing a snapshot of the
// conversation facts known so far, and returns the generated offer id.
func (s *Service) Begin(ctx context.Context, convoID, userID string, snapshot map[string]any) (string, error) {
	offerID := NewOfferID()
	id := eventlog.Identity{ProcessID: offerID, ConvoID: convoID, UserID: userID}
	if _, err := s.log.Capture(ctx, id, EventStateCapture, snapshot); err != nil {
		return "", err
	}
	return offerID, nil
}

// Advance captures the next stage of an offer. The transition must follow
// the flow table from the current stage; anything else returns
// ErrInvalidTransition without appending.
func (s *Service) Advance(ctx context.Context, offerID string, next eventlog.EventType, fields map[string]any) (*eventlog.Event, error) {
	current, err := s.log.Current(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if !allowed(current.Type, next) {
		return nil, fmt.Errorf("%w: %q does not follow %q", ErrInvalidTransition, next, current.Type)
	}
	id := eventlog.Identity{ProcessID: offerID, ConvoID: current.ConvoID, UserID: current.UserID}
	return s.log.Capture(ctx, id, next, fields)
}

// BeginQuestionnaire moves the offer into the questionnaire stage. Answers
// accumulate on this event via RecordAnswer.
func (s *Service) BeginQuestionnaire(ctx context.Context, offerID string, q *Questionnaire) error {
	_, err := s.Advance(ctx, offerID, EventQuestionnaireCapture, map[string]any{"questionnaire": q.Name})
	return err
}

// RecordAnswer merges one questionnaire answer into the current
// questionnaire event. Answers arriving after the offer moved on are
// rejected through the event log's stale check. Reports whether every
// required question is now answered.
func (s *Service) RecordAnswer(ctx context.Context, offerID string, q *Questionnaire, key string, value any) (complete bool, err error) {
	if err := q.Check(key, value); err != nil {
		return false, err
	}
	event, err := s.log.UpdateCurrent(ctx, offerID, EventQuestionnaireCapture, map[string]any{key: value})
	if err != nil {
		return false, err
	}
	return q.Complete(event.Fields), nil
}

// Initiate moves a completed questionnaire to an initiated offer with its
// commercial terms.
func (s *Service) Initiate(ctx context.Context, offerID string, amount int64, currency string) error {
	_, err := s.Advance(ctx, offerID, EventOfferInitiated, map[string]any{
		"amount":   amount,
		"currency": currency,
	})
	return err
}

// Accept records the user accepting the offer terms.
func (s *Service) Accept(ctx context.Context, offerID string) error {
	_, err := s.Advance(ctx, offerID, EventOfferAccepted, nil)
	return err
}

// RecordPayment records a completed payment with its external reference.
func (s *Service) RecordPayment(ctx context.Context, offerID, paymentRef string) error {
	_, err := s.Advance(ctx, offerID, EventPaymentDone, map[string]any{"payment_ref": paymentRef})
	return err
}

// RequestVerification moves the offer into identity verification.
func (s *Service) RequestVerification(ctx context.Context, offerID string) error {
	_, err := s.Advance(ctx, offerID, EventVerifyUser, nil)
	return err
}

// ResolveVerification records the verification outcome. A failed outcome
// keeps the offer retryable via RequestVerification.
func (s *Service) ResolveVerification(ctx context.Context, offerID string, verified bool, reason string) error {
	next := EventUserVerified
	var fields map[string]any
	if !verified {
		next = EventVerificationFailed
		fields = map[string]any{"reason": reason}
	}
	_, err := s.Advance(ctx, offerID, next, fields)
	return err
}

// Stage returns the offer's current stage.
func (s *Service) Stage(ctx context.Context, offerID string) (eventlog.EventType, error) {
	current, err := s.log.Current(ctx, offerID)
	if err != nil {
		return "", err
	}
	return current.Type, nil
}

// CurrentForConvo returns the offer id a conversation is currently working
// on, or "" when it has none.
func (s *Service) CurrentForConvo(ctx context.Context, convoID string) (string, error) {
	event, err := s.log.CurrentByConvo(ctx, convoID)
	if errors.Is(err, eventlog.ErrNoEvent) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return event.ProcessID, nil
}

// PaymentVerificationStatus projects the offer's stage onto the
// payment/verification axis consumed by billing-side callers.
func (s *Service) PaymentVerificationStatus(ctx context.Context, offerID string) (VerificationStatus, error) {
	current, err := s.log.Current(ctx, offerID)
	if err != nil {
		return "", err
	}
	switch current.Type {
	case EventVerificationFailed:
		return StatusVerificationFailed, nil
	case EventPaymentDone, EventVerifyUser:
		return StatusAwaitingVerification, nil
	case EventStateCapture, EventQuestionnaireCapture, EventOfferInitiated, EventOfferAccepted:
		return StatusAwaitingPayment, nil
	default:
		// Every stage past verification implies a verified user.
		return StatusVerified, nil
	}
}

func allowed(from, to eventlog.EventType) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
