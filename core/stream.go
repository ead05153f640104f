package core

import "sync"

// Stream is an ordered, unbounded single-producer/single-consumer queue of
// text chunks with an explicit end-of-stream sentinel. It decouples the
// orchestrator goroutine producing tokens from the caller consuming them,
// typically while writing an HTTP response. Send never blocks the producer;
// conversations are short-lived so the buffered memory stays small.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks []string
	closed bool
	err    error
}

// NewStream returns an open stream.
func NewStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Send enqueues a chunk. Sends after Close are dropped.
func (s *Stream) Send(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks = append(s.chunks, chunk)
	s.cond.Signal()
}

// Recv blocks until a chunk is available or the stream is closed and
// drained. The second return value is false at end-of-stream.
func (s *Stream) Recv() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chunks) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.chunks) == 0 {
		return "", false
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, true
}

// Close marks end-of-stream, releasing the consumer once the queue drains.
// Close is idempotent.
func (s *Stream) Close() { s.CloseWithError(nil) }

// CloseWithError closes the stream and attaches a terminal error the
// consumer can inspect via Err after draining. Only the first close wins.
func (s *Stream) CloseWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	s.cond.Broadcast()
}

// Err reports the terminal error attached at close time, if any. It is
// meaningful once Recv has returned false.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Drain reads until end-of-stream and returns every chunk in order. For
// synchronous callers and tests.
func (s *Stream) Drain() []string {
	var out []string
	for {
		chunk, ok := s.Recv()
		if !ok {
			return out
		}
		out = append(out, chunk)
	}
}

// Sink fans one chunk out to the live stream and the display transcript in
// the same call, which is what keeps the two views consistent even though
// they are separate records. The orchestrator hands a Sink to every agent;
// emitting display text anywhere else is a bug.
type Sink struct {
	stream     *Stream
	transcript *Transcript
}

// NewSink binds a stream and a transcript.
func NewSink(stream *Stream, transcript *Transcript) *Sink {
	return &Sink{stream: stream, transcript: transcript}
}

// Write mirrors the chunk into the transcript and enqueues it on the stream,
// verbatim and in order.
func (s *Sink) Write(chunk string) {
	s.transcript.AppendChunk(chunk)
	s.stream.Send(chunk)
}
