// Package nats implements the message queue port using NATS, optionally
// persisting run events in a JetStream stream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/opsloop/internal/logger"
	"github.com/Strob0t/opsloop/internal/port/messagequeue"
)

const (
	streamName = "OPSLOOP"

	headerRequestID = "X-Request-ID"
	headerRunID     = "X-Run-ID"
)

// Queue implements messagequeue.Queue on a NATS connection.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream // nil for core NATS publishing
}

// Connect establishes a connection to NATS. With useJetStream the OPSLOOP
// stream is created or updated to capture every opsloop.> subject.
func Connect(ctx context.Context, url string, useJetStream bool) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("opsloop"),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	q := &Queue{nc: nc}
	if !useJetStream {
		slog.Info("nats connected", "url", url)
		return q, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"opsloop.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	q.js = js
	return q, nil
}

// Publish validates data against the subject's payload schema and sends it.
// Run and request IDs found in ctx travel as message headers.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if id := logger.RunID(ctx); id != "" {
		msg.Header.Set(headerRunID, id)
	}

	var err error
	if q.js != nil {
		_, err = q.js.PublishMsg(ctx, msg)
	} else {
		err = q.nc.PublishMsg(msg)
	}
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

// Close flushes pending messages and shuts down the NATS connection.
func (q *Queue) Close() error {
	if err := q.nc.Drain(); err != nil {
		q.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

var _ messagequeue.Queue = (*Queue)(nil)
