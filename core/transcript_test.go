package core

import "testing"

func TestTranscript_ChunkBoundaries(t *testing.T) {
	tr := NewTranscript("c1")

	tr.AppendChunk("open") // assistant entry on empty transcript
	tr.AppendChunk("ing")
	tr.AppendUser("hello")
	tr.AppendChunk("wor")
	tr.AppendChunk("ld")

	want := []Entry{
		{Role: RoleAssistant, Text: "opening"},
		{Role: RoleUser, Text: "hello"},
		{Role: RoleAssistant, Text: "world"},
	}
	if len(tr.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(tr.Entries), tr.Entries)
	}
	for i, w := range want {
		if tr.Entries[i] != w {
			t.Errorf("entry %d: got %+v want %+v", i, tr.Entries[i], w)
		}
	}
}

func TestTranscript_CloneIndependence(t *testing.T) {
	tr := NewTranscript("c1")
	tr.AppendUser("hi")

	c := tr.Clone()
	c.AppendChunk("reply")

	if len(tr.Entries) != 1 {
		t.Error("clone mutation leaked into original")
	}
}
