// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/verdesk/verai-go/internal/domain"
)

// LanguageModel is the single-turn completion collaborator. Two call
// shapes: free text, and a completion decoded into a declared schema
// (used for search-query generation and department classification).
type LanguageModel interface {
	// Complete returns a free-text completion for the message history,
	// optionally prefixed by a system prompt ("" means none).
	Complete(ctx context.Context, system string, messages []domain.Message) (string, error)

	// CompleteStructured asks for a JSON object conforming to the shape
	// of out and unmarshals the completion into it.
	CompleteStructured(ctx context.Context, system string, messages []domain.Message, out any) error
}

// Retriever returns reference snippets relevant to a query.
// Must be idempotent per query (restartable).
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.Document, error)
}

// ConversationStore persists conversation state, last-write-wins per id.
type ConversationStore interface {
	// Load returns the state for the id, or *domain.ErrNotFound when absent.
	Load(ctx context.Context, conversationID string) (*domain.ConversationState, error)

	// Save replaces the state for the id atomically.
	Save(ctx context.Context, conversationID string, state *domain.ConversationState) error

	// Delete removes the state for the id (operator reset).
	Delete(ctx context.Context, conversationID string) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
