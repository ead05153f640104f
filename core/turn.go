package core

// Role identifies the author of a dialogue turn.
type Role string

const (
	// RoleUser marks input typed by the human.
	RoleUser Role = "user"
	// RoleAssistant marks output produced on behalf of the chain.
	RoleAssistant Role = "assistant"
	// RoleNote marks structural turns (routing markers, captured side
	// effects) that belong to an agent's working history but never to the
	// display transcript.
	RoleNote Role = "note"
)

// Turn is one entry in an agent's working history bucket.
type Turn struct {
	Role Role   `bson:"role" json:"role"`
	Text string `bson:"text" json:"text"`
	// Meta carries optional structured data attached by the owning agent.
	// Display rendering and model prompts ignore it.
	Meta map[string]any `bson:"meta,omitempty" json:"meta,omitempty"`
}

// UserTurn builds a human-authored turn.
func UserTurn(text string) Turn { return Turn{Role: RoleUser, Text: text} }

// AssistantTurn builds an assistant-authored turn.
func AssistantTurn(text string) Turn { return Turn{Role: RoleAssistant, Text: text} }

// NoteTurn builds a structural marker turn.
func NoteTurn(text string) Turn { return Turn{Role: RoleNote, Text: text} }

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	c := t
	if t.Meta != nil {
		c.Meta = make(map[string]any, len(t.Meta))
		for k, v := range t.Meta {
			c.Meta[k] = v
		}
	}
	return c
}

// CloneTurns deep-copies a turn slice.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}
