package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/opsloop/internal/adapter/litellm"
	"github.com/Strob0t/opsloop/internal/port/oracle"
	"github.com/Strob0t/opsloop/internal/resilience"
)

func completion(content string) map[string]any {
	return map[string]any{
		"id":    "gen-1",
		"model": "openai/gpt-4o-mini",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req litellm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "openai/gpt-4o-mini" || len(req.Messages) != 1 {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion("hello"))
	}))
	defer srv.Close()

	client := litellm.NewClient(litellm.Options{BaseURL: srv.URL + "/", APIKey: "test-key"})
	resp, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{
		Model:    "openai/gpt-4o-mini",
		Messages: []litellm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestChatCompletionStatusErrors(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusUnauthorized} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		client := litellm.NewClient(litellm.Options{BaseURL: srv.URL})
		_, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"})
		srv.Close()

		if !errors.Is(err, oracle.ErrUnavailable) {
			t.Fatalf("%d: expected ErrUnavailable, got %v", code, err)
		}
		var se *litellm.StatusError
		if !errors.As(err, &se) || se.Code != code {
			t.Fatalf("%d: expected StatusError, got %v", code, err)
		}
	}
}

func TestChatCompletionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := litellm.NewClient(litellm.Options{BaseURL: url, Timeout: time.Second})
	_, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"})
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestChatCompletionBadEnvelope(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `<html>gateway</html>`,
		"no choices": `{"id":"x","choices":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			client := litellm.NewClient(litellm.Options{BaseURL: srv.URL})
			_, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"})
			if !errors.Is(err, oracle.ErrProtocol) {
				t.Fatalf("expected ErrProtocol, got %v", err)
			}
		})
	}
}

func TestChatCompletionBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := litellm.NewClient(litellm.Options{BaseURL: srv.URL})
	client.SetBreaker(resilience.NewBreaker("oracle", 2, time.Minute))

	for range 4 {
		_, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"})
		if !errors.Is(err, oracle.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected the breaker to stop calls after 2 failures, got %d", n)
	}

	_, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen in chain, got %v", err)
	}
}

func TestChatCompletionRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(completion("ok"))
	}))
	defer srv.Close()

	client := litellm.NewClient(litellm.Options{BaseURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1})
	if _, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"}); err != nil {
		t.Fatalf("first call within burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.ChatCompletion(ctx, litellm.ChatRequest{Model: "m"})
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable when the limiter cannot admit, got %v", err)
	}
}
