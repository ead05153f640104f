package core

import (
	"errors"
	"testing"
	"time"
)

func TestStream_OrderAndSentinel(t *testing.T) {
	s := NewStream()
	go func() {
		s.Send("a")
		s.Send("b")
		s.Send("c")
		s.Close()
	}()

	got := s.Drain()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected chunks: %v", got)
	}
	if _, ok := s.Recv(); ok {
		t.Error("Recv after close should report end-of-stream")
	}
	if s.Err() != nil {
		t.Errorf("unexpected terminal error: %v", s.Err())
	}
}

func TestStream_SendAfterCloseDropped(t *testing.T) {
	s := NewStream()
	s.Send("kept")
	s.Close()
	s.Send("dropped")
	if got := s.Drain(); len(got) != 1 || got[0] != "kept" {
		t.Fatalf("unexpected chunks: %v", got)
	}
}

func TestStream_CloseWithError(t *testing.T) {
	want := errors.New("persist failed")
	s := NewStream()
	s.CloseWithError(want)
	s.Close() // second close must not overwrite
	if got := s.Drain(); len(got) != 0 {
		t.Fatalf("unexpected chunks: %v", got)
	}
	if !errors.Is(s.Err(), want) {
		t.Errorf("terminal error lost: %v", s.Err())
	}
}

func TestStream_RecvBlocksUntilSend(t *testing.T) {
	s := NewStream()
	done := make(chan string, 1)
	go func() {
		chunk, _ := s.Recv()
		done <- chunk
	}()

	time.Sleep(10 * time.Millisecond)
	s.Send("late")

	select {
	case chunk := <-done:
		if chunk != "late" {
			t.Fatalf("unexpected chunk %q", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv never woke up")
	}
}

func TestSink_MirrorsTranscript(t *testing.T) {
	tr := NewTranscript("c1")
	st := NewStream()
	sink := NewSink(st, tr)

	tr.AppendUser("hello")
	sink.Write("hi ")
	sink.Write("there")
	st.Close()

	if got := st.Drain(); len(got) != 2 || got[0] != "hi " || got[1] != "there" {
		t.Fatalf("stream chunks wrong: %v", got)
	}
	last, ok := tr.Last()
	if !ok || last.Role != RoleAssistant || last.Text != "hi there" {
		t.Fatalf("transcript mirror wrong: %+v", last)
	}
}
