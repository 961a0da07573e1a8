// Package store implementa o port.ConversationStore.
//
// Dois backends, escolhidos na inicialização (mesmo padrão dual do
// resto do serviço): InMemory para dev/testes e Supabase para
// produção. Ambos são last-write-wins por conversation_id.
package store

import (
	"context"
	"sync"

	"github.com/verdesk/verai-go/internal/domain"
)

// InMemory guarda os estados num mapa protegido por RWMutex.
// Sem expiração — retenção é responsabilidade de quem opera o
// deployment (em produção usa-se o backend Supabase).
type InMemory struct {
	mu     sync.RWMutex
	states map[string]*domain.ConversationState
}

// NewInMemory cria o store vazio.
func NewInMemory() *InMemory {
	return &InMemory{
		states: make(map[string]*domain.ConversationState),
	}
}

// Load retorna uma cópia profunda do estado. Cópia, e não referência:
// o chamador muta o que recebeu sem afetar o que está guardado até o
// Save (replace-on-success).
func (s *InMemory) Load(_ context.Context, conversationID string) (*domain.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[conversationID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "conversation", ID: conversationID}
	}
	return state.Clone(), nil
}

// Save substitui o estado da conversa (last-write-wins).
func (s *InMemory) Save(_ context.Context, conversationID string, state *domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[conversationID] = state.Clone()
	return nil
}

// Delete remove o estado da conversa.
func (s *InMemory) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, conversationID)
	return nil
}
