package core

// Entry is one line of the human-facing transcript.
type Entry struct {
	Role Role   `bson:"role" json:"role"`
	Text string `bson:"text" json:"text"`
}

// Transcript is the flattened display history of a conversation. It is a
// separate persisted record from the per-agent buckets because those carry
// structural turns that must never reach a screen. Every human input and
// every emitted assistant chunk is mirrored here in arrival order.
type Transcript struct {
	ConversationID string  `bson:"conversation_id" json:"conversation_id"`
	Entries        []Entry `bson:"entries" json:"entries"`
}

// NewTranscript returns an empty transcript for a conversation id.
func NewTranscript(conversationID string) *Transcript {
	return &Transcript{ConversationID: conversationID}
}

// AppendUser records a human input as its own entry.
func (t *Transcript) AppendUser(text string) {
	t.Entries = append(t.Entries, Entry{Role: RoleUser, Text: text})
}

// AppendChunk records an emitted assistant chunk. A chunk arriving after a
// user entry (or on an empty transcript) opens a new assistant entry;
// otherwise it extends the one in progress, so a token stream collapses into
// a single display line.
func (t *Transcript) AppendChunk(chunk string) {
	if n := len(t.Entries); n == 0 || t.Entries[n-1].Role != RoleAssistant {
		t.Entries = append(t.Entries, Entry{Role: RoleAssistant, Text: chunk})
		return
	}
	t.Entries[len(t.Entries)-1].Text += chunk
}

// Last returns the final entry and true, or a zero entry and false when the
// transcript is empty.
func (t *Transcript) Last() (Entry, bool) {
	if len(t.Entries) == 0 {
		return Entry{}, false
	}
	return t.Entries[len(t.Entries)-1], true
}

// Clone returns a deep copy of the transcript.
func (t *Transcript) Clone() *Transcript {
	c := &Transcript{ConversationID: t.ConversationID}
	c.Entries = append([]Entry(nil), t.Entries...)
	return c
}
