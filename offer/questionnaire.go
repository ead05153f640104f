package offer

import (
	"errors"
	"fmt"
)

// ErrUnknownQuestion is returned when an answer targets a key the
// questionnaire does not define.
var ErrUnknownQuestion = errors.New("offer: unknown questionnaire key")

// Question is one questionnaire item. Answers are stored under Key in the
// questionnaire event's payload.
type Question struct {
	Key      string
	Prompt   string
	Required bool
	// Check validates an answer value; nil accepts anything non-nil.
	Check func(value any) error
}

// Questionnaire is an ordered set of questions answered across
// conversation turns.
type Questionnaire struct {
	Name      string
	Questions []Question
}

// Find returns the question for a key.
func (q *Questionnaire) Find(key string) (Question, bool) {
	for _, question := range q.Questions {
		if question.Key == key {
			return question, true
		}
	}
	return Question{}, false
}

// Check validates one answer against its question definition.
func (q *Questionnaire) Check(key string, value any) error {
	question, ok := q.Find(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQuestion, key)
	}
	if value == nil {
		return fmt.Errorf("offer: answer for %q is empty", key)
	}
	if question.Check != nil {
		return question.Check(value)
	}
	return nil
}

// Unanswered returns the required questions not yet present in answers, in
// questionnaire order.
func (q *Questionnaire) Unanswered(answers map[string]any) []Question {
	var missing []Question
	for _, question := range q.Questions {
		if !question.Required {
			continue
		}
		if _, ok := answers[question.Key]; !ok {
			missing = append(missing, question)
		}
	}
	return missing
}

// Complete reports whether every required question is answered.
func (q *Questionnaire) Complete(answers map[string]any) bool {
	return len(q.Unanswered(answers)) == 0
}

// IntakeQuestionnaire returns the default pre-offer intake form.
func IntakeQuestionnaire() *Questionnaire {
	return &Questionnaire{
		Name: "intake",
		Questions: []Question{
			{Key: "primary_concern", Prompt: "What brings you in today?", Required: true},
			{Key: "duration", Prompt: "How long has this been going on?", Required: true},
			{Key: "severity", Prompt: "On a scale of 1-10, how severe is it?", Required: true, Check: severityInRange},
			{Key: "medications", Prompt: "Are you taking any medications?", Required: false},
		},
	}
}

// OnboardingQuestionnaire returns the post-verification onboarding form.
func OnboardingQuestionnaire() *Questionnaire {
	return &Questionnaire{
		Name: "onboarding",
		Questions: []Question{
			{Key: "full_name", Prompt: "What is your full legal name?", Required: true},
			{Key: "date_of_birth", Prompt: "What is your date of birth?", Required: true},
			{Key: "address", Prompt: "What is your current address?", Required: true},
			{Key: "preferred_time", Prompt: "When do you prefer appointments?", Required: false},
		},
	}
}

func severityInRange(value any) error {
	n, ok := value.(int)
	if !ok {
		return errors.New("offer: severity must be a number")
	}
	if n < 1 || n > 10 {
		return errors.New("offer: severity must be between 1 and 10")
	}
	return nil
}
