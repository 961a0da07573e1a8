// Package retriever implementa o port.Retriever sobre a função RPC de
// busca vetorial do Supabase (PostgREST).
//
// A base de conhecimento fica numa tabela com embeddings; a função
// match_documents recebe a query em texto e devolve os trechos mais
// relevantes, já ranqueados. Para este serviço o retriever é um
// collaborator opaco: query em texto entra, lista finita de trechos
// sai, idempotente por query.
package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/verdesk/verai-go/internal/domain"
	"github.com/verdesk/verai-go/internal/infra/resilience"
)

var tracer = otel.Tracer("infra/retriever")

// Supabase chama a RPC match_documents do PostgREST.
type Supabase struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	serviceKey string
	matchCount int
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewSupabase cria o retriever. matchCount é o número de trechos
// pedidos por query.
func NewSupabase(httpClient *http.Client, baseURL, apiKey, serviceKey string, matchCount int, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Supabase {
	return &Supabase{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		serviceKey: serviceKey,
		matchCount: matchCount,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// matchRequest é o payload da RPC match_documents.
type matchRequest struct {
	QueryText  string `json:"query_text"`
	MatchCount int    `json:"match_count"`
}

// matchRow é uma linha retornada pela RPC.
type matchRow struct {
	Content string `json:"content"`
}

// Retrieve busca os trechos mais relevantes para a query.
func (r *Supabase) Retrieve(ctx context.Context, query string) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retriever.match_count", r.matchCount))

	var docs []domain.Document

	_, err := r.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, r.cfg, func() error {
			body, err := json.Marshal(matchRequest{QueryText: query, MatchCount: r.matchCount})
			if err != nil {
				return fmt.Errorf("marshal match request: %w", err)
			}

			url := fmt.Sprintf("%s/rest/v1/rpc/match_documents", r.baseURL)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("create http request: %w", err)
			}
			req.Header.Set("apikey", r.apiKey)
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", r.serviceKey))
			req.Header.Set("Content-Type", "application/json")

			resp, err := r.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("http call to supabase rpc: %w", err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read rpc response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				r.logger.Warn("supabase rpc: non-2xx response",
					zap.Int("status", resp.StatusCode),
					zap.String("body", string(respBody)),
				)
				return fmt.Errorf("supabase rpc returned status %d", resp.StatusCode)
			}

			var rows []matchRow
			if err := json.Unmarshal(respBody, &rows); err != nil {
				return fmt.Errorf("decode rpc response: %w", err)
			}

			docs = make([]domain.Document, 0, len(rows))
			for _, row := range rows {
				docs = append(docs, domain.Document{Content: row.Content})
			}
			return nil
		})
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/retriever", Err: err}
	}
	return docs, nil
}
