package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/verdesk/verai-go/internal/domain"
	"github.com/verdesk/verai-go/internal/infra/resilience"
)

var tracer = otel.Tracer("infra/store")

// Supabase persiste os estados na tabela conversation_states via
// PostgREST:
//
//	conversation_id  text primary key
//	state            jsonb   — ConversationState serializado
//	updated_at       timestamptz
//
// Upsert por on_conflict=conversation_id garante last-write-wins.
type Supabase struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	serviceKey string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewSupabase cria o store.
func NewSupabase(httpClient *http.Client, baseURL, apiKey, serviceKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Supabase {
	return &Supabase{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		serviceKey: serviceKey,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// conversationRow mapeia as colunas da tabela.
type conversationRow struct {
	ConversationID string          `json:"conversation_id"`
	State          json.RawMessage `json:"state"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
}

// doRequest executa uma chamada autenticada ao PostgREST.
func (s *Supabase) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", s.baseURL, path)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.serviceKey))
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		// Upsert: resolve conflito de chave mesclando a linha nova.
		req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("supabase store: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("supabase store: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		return nil, resp.StatusCode, fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, resp.StatusCode, nil
}

// Load busca o estado persistido da conversa.
func (s *Supabase) Load(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	ctx, span := tracer.Start(ctx, "SupabaseStore.Load")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	var state *domain.ConversationState

	_, err := s.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, s.cfg, func() error {
			path := fmt.Sprintf("conversation_states?conversation_id=eq.%s&limit=1", conversationID)
			body, _, err := s.doRequest(ctx, http.MethodGet, path, nil)
			if err != nil {
				return err
			}

			// Ausência não é falha: devolve sucesso com state nil para
			// não queimar retries numa conversa que ainda não existe.
			if body == nil || string(body) == "[]" {
				return nil
			}

			var rows []conversationRow
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("decode conversation row: %w", err)
			}
			if len(rows) == 0 {
				return nil
			}

			var decoded domain.ConversationState
			if err := json.Unmarshal(rows[0].State, &decoded); err != nil {
				return fmt.Errorf("decode conversation state: %w", err)
			}
			state = &decoded
			return nil
		})
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/store", Err: err}
	}
	if state == nil {
		return nil, &domain.ErrNotFound{Resource: "conversation", ID: conversationID}
	}
	return state, nil
}

// Save grava o estado por upsert (last-write-wins).
func (s *Supabase) Save(ctx context.Context, conversationID string, state *domain.ConversationState) error {
	ctx, span := tracer.Start(ctx, "SupabaseStore.Save")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation state: %w", err)
	}
	row, err := json.Marshal(conversationRow{
		ConversationID: conversationID,
		State:          encoded,
		UpdatedAt:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode conversation row: %w", err)
	}

	_, err = s.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, s.cfg, func() error {
			path := "conversation_states?on_conflict=conversation_id"
			_, _, err := s.doRequest(ctx, http.MethodPost, path, row)
			return err
		})
	})

	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/store", Err: err}
	}
	return nil
}

// Delete remove o estado da conversa.
func (s *Supabase) Delete(ctx context.Context, conversationID string) error {
	ctx, span := tracer.Start(ctx, "SupabaseStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	_, err := s.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, s.cfg, func() error {
			path := fmt.Sprintf("conversation_states?conversation_id=eq.%s", conversationID)
			_, _, err := s.doRequest(ctx, http.MethodDelete, path, nil)
			return err
		})
	})

	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/store", Err: err}
	}
	return nil
}
