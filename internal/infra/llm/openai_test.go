package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/verdesk/verai-go/internal/domain"
	"github.com/verdesk/verai-go/internal/infra/llm"
	"github.com/verdesk/verai-go/internal/infra/observability"
	"github.com/verdesk/verai-go/internal/infra/resilience"
)

func newClient(t *testing.T, handler http.HandlerFunc) *llm.Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return llm.NewClient(
		"test-key",
		ts.URL+"/v1",
		"gpt-4o-mini",
		resilience.NewCircuitBreaker("test-llm"),
		resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

func completionJSON(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestComplete_ReturnsContent(t *testing.T) {
	var gotReq struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionJSON("Posso ajudar com isso."))
	})

	reply, err := c.Complete(context.Background(), "persona", []domain.Message{
		{Role: domain.RoleUser, Content: "preciso de ajuda"},
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if reply != "Posso ajudar com isso." {
		t.Errorf("unexpected reply: %q", reply)
	}

	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("expected configured model, got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("expected system prompt prepended, got %+v", gotReq.Messages)
	}
}

func TestCompleteStructured_DecodesJSON(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json_object response format, got %+v", req.ResponseFormat)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionJSON(`{"query": "segunda via de boleto"}`))
	})

	var out struct {
		Query string `json:"query"`
	}
	err := c.CompleteStructured(context.Background(), "gere a query", nil, &out)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if out.Query != "segunda via de boleto" {
		t.Errorf("unexpected decoded query: %q", out.Query)
	}
}

func TestCompleteStructured_MalformedJSONIsWrapped(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionJSON("isso não é JSON"))
	})

	var out struct {
		Query string `json:"query"`
	}
	err := c.CompleteStructured(context.Background(), "gere a query", nil, &out)
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if ext.Service != "openai" {
		t.Errorf("expected service label openai, got %q", ext.Service)
	}
}

func TestComplete_RetriesOnServerError(t *testing.T) {
	requests := 0
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionJSON("ok"))
	})

	reply, err := c.Complete(context.Background(), "", []domain.Message{
		{Role: domain.RoleUser, Content: "oi"},
	})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if requests != 2 {
		t.Errorf("expected 2 requests, got %d", requests)
	}
	if reply != "ok" {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestComplete_FailureIsWrapped(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Complete(context.Background(), "", []domain.Message{
		{Role: domain.RoleUser, Content: "oi"},
	})
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}
