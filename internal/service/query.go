// query.go — geração de query de busca e recuperação de contexto.
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/verdesk/verai-go/internal/domain"
)

// searchQuery é o schema estruturado pedido ao modelo na refinação.
type searchQuery struct {
	Query string `json:"query"`
}

// maxQueryHistory limita quantas queries anteriores entram no prompt
// de refinação.
const maxQueryHistory = 5

// generateQuery produz a query de busca do turno.
//
// Cold start (nenhuma query anterior): a própria mensagem do usuário,
// verbatim. Caso contrário, pede ao modelo uma query refinada dado o
// histórico recente — saída estruturada {"query": "..."}.
func (s *TurnService) generateQuery(ctx context.Context, state *domain.ConversationState) (string, error) {
	if len(state.Queries) == 0 {
		return state.LastUserMessage(), nil
	}

	recent := state.Queries
	if len(recent) > maxQueryHistory {
		recent = recent[len(recent)-maxQueryHistory:]
	}

	system := fmt.Sprintf(
		"Você gera queries de busca para uma base de conhecimento de suporte. "+
			"Queries já usadas nesta conversa:\n- %s\n\n"+
			"Com base na última mensagem do usuário, produza UMA query refinada que "+
			"recupere o conteúdo mais relevante. Responda apenas com um objeto JSON "+
			"no formato {\"query\": \"...\"}.",
		strings.Join(recent, "\n- "),
	)

	var out searchQuery
	if err := s.llm.CompleteStructured(ctx, system, state.Messages, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Query) == "" {
		// Modelo devolveu JSON válido mas vazio: usa a mensagem crua.
		return state.LastUserMessage(), nil
	}
	return out.Query, nil
}

// retrieveContext busca documentos de apoio para a query e concatena
// os trechos num único bloco de contexto. Falha de retrieval degrada
// para contexto vazio — a qualidade cai, o turno não.
func (s *TurnService) retrieveContext(ctx context.Context, query string) string {
	if s.retriever == nil {
		return ""
	}

	// Retrieval é idempotente por query — cache direto.
	if cached, ok := s.contextCache.Get(query); ok {
		s.metrics.IncrCacheHit("retrieval")
		return cached
	}
	s.metrics.IncrCacheMiss("retrieval")

	docs, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		s.logger.Warn("retrieval failed, proceeding without context",
			zap.String("query", query),
			zap.Error(err),
		)
		s.metrics.IncrExternalError("retriever")
		return ""
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Content != "" {
			parts = append(parts, d.Content)
		}
	}
	contextStr := strings.Join(parts, "\n---\n")

	s.contextCache.Set(query, contextStr)
	return contextStr
}
