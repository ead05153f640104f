// Package util holds small internal helpers shared across packages.
package util

import (
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// NewID generates a unique identifier for events and records.
func NewID() string { return uuid.NewString() }

// StackExcerpt captures up to limit trimmed lines of the calling goroutine's
// stack, skipping the capture frames themselves. Used to persist a bounded
// diagnostic trace next to a recovered failure.
func StackExcerpt(limit int) []string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	lines := strings.Split(strings.TrimSpace(string(buf[:n])), "\n")
	// First line is the goroutine header, the next four are the two frames
	// of StackExcerpt and its caller's recover plumbing.
	if len(lines) > 5 {
		lines = lines[5:]
	}
	out := make([]string, 0, limit)
	for _, line := range lines {
		out = append(out, strings.TrimSpace(line))
		if len(out) == limit {
			break
		}
	}
	return out
}

// ErrorKind extracts a coarse class tag from an error message: everything up
// to the first colon, or the whole message when there is none.
func ErrorKind(msg string) string {
	if i := strings.IndexByte(msg, ':'); i > 0 {
		return msg[:i]
	}
	return msg
}
