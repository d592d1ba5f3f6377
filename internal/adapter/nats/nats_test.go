package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/opsloop/internal/logger"
	"github.com/Strob0t/opsloop/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T, useJetStream bool) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url, useJetStream)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

func subscribe(t *testing.T, subject string) *nats.Subscription {
	t.Helper()
	nc, err := nats.Connect(os.Getenv("NATS_URL"))
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	t.Cleanup(nc.Close)
	sub, err := nc.SubscribeSync(subject)
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return sub
}

func TestQueue_PublishStep(t *testing.T) {
	for _, js := range []bool{false, true} {
		name := "core"
		if js {
			name = "jetstream"
		}
		t.Run(name, func(t *testing.T) {
			q := testConnect(t, js)
			if !q.IsConnected() {
				t.Fatal("expected connected queue")
			}
			sub := subscribe(t, messagequeue.SubjectRunStep)

			status := 0
			data, err := json.Marshal(messagequeue.StepPayload{
				RunID: "run-" + name, Index: 1, Command: "df -h", Decision: "allow", ExitStatus: &status, Success: true,
			})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			ctx := logger.WithRunID(logger.WithRequestID(context.Background(), "req-1"), "run-"+name)
			if err := q.Publish(ctx, messagequeue.SubjectRunStep, data); err != nil {
				t.Fatalf("Publish: %v", err)
			}

			msg, err := sub.NextMsg(5 * time.Second)
			if err != nil {
				t.Fatalf("NextMsg: %v", err)
			}
			var got messagequeue.StepPayload
			if err := json.Unmarshal(msg.Data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.RunID != "run-"+name || got.Command != "df -h" {
				t.Errorf("unexpected payload %+v", got)
			}
			if h := msg.Header.Get(headerRunID); h != "run-"+name {
				t.Errorf("run id header = %q", h)
			}
			if h := msg.Header.Get(headerRequestID); h != "req-1" {
				t.Errorf("request id header = %q", h)
			}
		})
	}
}

func TestQueue_PublishRejectsInvalidPayload(t *testing.T) {
	q := testConnect(t, false)

	err := q.Publish(context.Background(), messagequeue.SubjectRunFinished, []byte(`{"status":"goal_reached"}`))
	if err == nil {
		t.Fatal("expected validation error for missing run_id")
	}
	err = q.Publish(context.Background(), messagequeue.SubjectRunStep, []byte(`not json`))
	if err == nil {
		t.Fatal("expected validation error for invalid JSON")
	}
}
