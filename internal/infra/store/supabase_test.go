package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/verdesk/verai-go/internal/domain"
	"github.com/verdesk/verai-go/internal/infra/resilience"
	"github.com/verdesk/verai-go/internal/infra/store"
)

func newSupabaseStore(t *testing.T, handler http.HandlerFunc) (*store.Supabase, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	s := store.NewSupabase(
		ts.Client(),
		ts.URL,
		"anon-key",
		"service-key",
		resilience.NewCircuitBreaker("test-store"),
		resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
		zap.NewNop(),
	)
	return s, ts
}

func TestSupabaseStore_Load(t *testing.T) {
	state := sampleState("conv-1")
	encoded, err := json.Marshal(state)
	if err != nil {
		t.Fatal(err)
	}

	s, _ := newSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if !strings.Contains(r.URL.RawQuery, "conversation_id=eq.conv-1") {
			t.Errorf("expected id filter, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("missing apikey header")
		}
		if r.Header.Get("Authorization") != "Bearer service-key" {
			t.Errorf("wrong authorization header: %q", r.Header.Get("Authorization"))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"conversation_id": "conv-1", "state": json.RawMessage(encoded)},
		})
	})

	got, err := s.Load(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if got.Step != domain.StepAskingEmail {
		t.Errorf("expected asking_email, got %q", got.Step)
	}
	if got.UserInfo.Name != "Maria Silva" {
		t.Errorf("expected decoded user info, got %+v", got.UserInfo)
	}
}

// Ausência de linha é ErrNotFound — e chega em UMA requisição, sem
// queimar retries numa conversa que simplesmente ainda não existe.
func TestSupabaseStore_LoadMissing_NotFoundWithoutRetries(t *testing.T) {
	requests := 0
	s, _ := newSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	})

	_, err := s.Load(context.Background(), "unknown")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if requests != 1 {
		t.Errorf("absence must not be retried: %d requests", requests)
	}
}

func TestSupabaseStore_Save_UpsertsRow(t *testing.T) {
	var gotRow struct {
		ConversationID string          `json:"conversation_id"`
		State          json.RawMessage `json:"state"`
	}
	s, _ := newSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.Contains(r.URL.RawQuery, "on_conflict=conversation_id") {
			t.Errorf("expected upsert conflict target, got %q", r.URL.RawQuery)
		}
		if !strings.Contains(r.Header.Get("Prefer"), "merge-duplicates") {
			t.Errorf("expected upsert Prefer header, got %q", r.Header.Get("Prefer"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRow); err != nil {
			t.Errorf("decode row: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	if err := s.Save(context.Background(), "conv-1", sampleState("conv-1")); err != nil {
		t.Fatalf("expected save to succeed, got %v", err)
	}
	if gotRow.ConversationID != "conv-1" {
		t.Errorf("expected conversation_id in row, got %q", gotRow.ConversationID)
	}

	var decoded domain.ConversationState
	if err := json.Unmarshal(gotRow.State, &decoded); err != nil {
		t.Fatalf("state column must hold the serialized state: %v", err)
	}
	if decoded.UserInfo.Name != "Maria Silva" {
		t.Errorf("round-tripped state diverged: %+v", decoded.UserInfo)
	}
}

func TestSupabaseStore_Save_RetriesOnServerError(t *testing.T) {
	requests := 0
	s, _ := newSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	if err := s.Save(context.Background(), "conv-1", sampleState("conv-1")); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if requests != 2 {
		t.Errorf("expected 2 requests (1 failure + 1 retry), got %d", requests)
	}
}

func TestSupabaseStore_Delete(t *testing.T) {
	deleted := false
	s, _ := newSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && strings.Contains(r.URL.RawQuery, "conversation_id=eq.conv-1") {
			deleted = true
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := s.Delete(context.Background(), "conv-1"); err != nil {
		t.Fatalf("expected delete to succeed, got %v", err)
	}
	if !deleted {
		t.Error("expected DELETE with id filter")
	}
}

func TestSupabaseStore_ErrorsAreWrapped(t *testing.T) {
	s, _ := newSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := s.Save(context.Background(), "conv-1", sampleState("conv-1"))
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if ext.Service != "supabase/store" {
		t.Errorf("expected service label supabase/store, got %q", ext.Service)
	}
}
