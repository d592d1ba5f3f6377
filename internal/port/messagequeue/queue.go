// Package messagequeue defines the message queue port (interface) used to
// publish run lifecycle events.
package messagequeue

import "context"

// Queue is the port interface for publishing run events.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close flushes pending messages and shuts down the connection.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects for run lifecycle events.
const (
	SubjectRunStarted  = "opsloop.runs.started"
	SubjectRunStep     = "opsloop.runs.step"
	SubjectRunFinished = "opsloop.runs.finished"
)

// Nop discards every message. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                   { return nil }
func (Nop) IsConnected() bool                              { return false }
