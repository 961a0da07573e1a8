// Package domain — conversation.go define o estado conversacional da VerAI.
//
// ============================================================
// MODELO — ConversationState
// ============================================================
//
// Cada conversa tem um estado próprio, endereçado pelo conversation_id:
//
//	messages   → transcript append-only (user/assistant/system)
//	userInfo   → nome + email coletados no onboarding
//	step       → etapa atual da conversa (máquina de estados)
//	queries    → histórico de queries de busca já geradas
//	department → time responsável indicado pelo classificador
//
// O estado é carregado, mutado e persistido como uma unidade lógica
// por turno. O TurnService trabalha sempre sobre uma cópia (Clone) e
// só persiste no final do turno — falha no meio não corrompe nada.
package domain

import "time"

// Role identifica o autor de uma mensagem do transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Step é a etapa atual da conversa. É a fonte de verdade para o
// dispatch da máquina de estados de onboarding — o conteúdo das
// mensagens serve apenas como log legível, nunca como decisão.
type Step string

const (
	// StepInitialization — conversa recém-criada, nenhuma pergunta feita.
	StepInitialization Step = "initialization"

	// StepAskingName — aguardando o usuário informar o nome completo.
	StepAskingName Step = "asking_name"

	// StepAskingEmail — aguardando o usuário informar o e-mail.
	StepAskingEmail Step = "asking_email"

	// StepMainConversation — onboarding concluído; atendimento liberado.
	// Estado terminal (self-loop).
	StepMainConversation Step = "main_conversation"
)

// Message é uma entrada do transcript.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// UserInfo guarda os dados coletados no onboarding.
type UserInfo struct {
	Name                string `json:"name,omitempty"`
	Email               string `json:"email,omitempty"`
	OnboardingCompleted bool   `json:"onboarding_completed"`
}

// Complete valida a invariante do onboarding: o flag só vale se nome e
// email estiverem de fato preenchidos. Nunca confie no flag isolado —
// ele pode vir de um estado externo/legado inconsistente.
func (u UserInfo) Complete() bool {
	return u.OnboardingCompleted && u.Name != "" && u.Email != ""
}

// Department é o time responsável indicado para o escalonamento.
type Department struct {
	Name        string `json:"name"`
	Contact     string `json:"contact"`
	Description string `json:"description"`
}

// Document é um trecho de texto retornado pelo retriever.
type Document struct {
	Content string `json:"content"`
}

// ConversationState é o estado completo de uma conversa.
type ConversationState struct {
	ConversationID string      `json:"conversation_id"`
	Messages       []Message   `json:"messages"`
	UserInfo       UserInfo    `json:"user_info"`
	Step           Step        `json:"conversation_step"`
	Queries        []string    `json:"queries,omitempty"`
	Department     *Department `json:"responsible_department,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// NewConversationState cria o estado inicial de uma conversa.
func NewConversationState(conversationID string) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		Messages:       []Message{},
		Step:           StepInitialization,
	}
}

// Clone devolve uma cópia profunda do estado. O TurnService muta a
// cópia durante o turno e só grava no store se tudo der certo
// (replace-on-success, nunca mutação incremental visível).
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Queries = append([]string(nil), s.Queries...)
	if s.Department != nil {
		dep := *s.Department
		out.Department = &dep
	}
	return &out
}

// Append adiciona uma mensagem ao transcript, deduplicando por
// identidade: mesmo ID, ou mesma (role, content) quando não há ID.
func (s *ConversationState) Append(msg Message) {
	for _, m := range s.Messages {
		if msg.ID != "" && m.ID == msg.ID {
			return
		}
		if msg.ID == "" && m.Role == msg.Role && m.Content == msg.Content {
			return
		}
	}
	s.Messages = append(s.Messages, msg)
}

// LastUserMessage retorna o conteúdo da mensagem mais recente do usuário.
func (s *ConversationState) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// LastAssistantMessage retorna o conteúdo da mensagem mais recente da
// assistente. Usado apenas como validador de fallback quando o step
// marker está ausente (estados legados).
func (s *ConversationState) LastAssistantMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Merge aplica o resultado de um turno sobre o estado anterior, campo a
// campo, com fallback explícito para o valor anterior quando o novo
// turno não produziu aquele campo. Substitui o "spread" dinâmico de
// objetos por um contrato verificável:
//
//   - UserInfo/Step: sempre vêm do turno (a máquina de estados decide)
//   - Queries: mantém as anteriores se o turno não gerou query nova
//   - Department: mantém o anterior se o turno não reclassificou
func Merge(prev, next *ConversationState) *ConversationState {
	if prev == nil {
		return next.Clone()
	}
	out := next.Clone()
	if len(out.Queries) == 0 {
		out.Queries = append([]string(nil), prev.Queries...)
	}
	if out.Department == nil && prev.Department != nil {
		dep := *prev.Department
		out.Department = &dep
	}
	if out.ConversationID == "" {
		out.ConversationID = prev.ConversationID
	}
	return out
}
