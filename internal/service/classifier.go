// classifier.go — classificação do time responsável pelo chamado.
package service

import (
	"context"
	"strings"

	"github.com/verdesk/verai-go/internal/domain"
)

// classifierInstruction pede ao modelo o time de escalonamento no
// formato estruturado {name, contact, description}.
const classifierInstruction = "Você é o roteador de chamados de uma central de suporte. " +
	"Analise o histórico da conversa e identifique o time mais adequado para " +
	"assumir o atendimento (ex: Financeiro, Suporte Técnico, Comercial). " +
	"Responda apenas com um objeto JSON no formato " +
	"{\"name\": \"...\", \"contact\": \"...\", \"description\": \"...\"} onde " +
	"description explica em uma frase por que esse time é o indicado."

// departmentPick é o schema estruturado da classificação.
type departmentPick struct {
	Name        string `json:"name"`
	Contact     string `json:"contact"`
	Description string `json:"description"`
}

// classifyDepartment pede ao modelo o time responsável, uma vez por
// conversa. Função pura do histórico — sem retry próprio além do que o
// client de LLM já faz.
func (s *TurnService) classifyDepartment(ctx context.Context, state *domain.ConversationState) (*domain.Department, error) {
	var pick departmentPick
	if err := s.llm.CompleteStructured(ctx, classifierInstruction, state.Messages, &pick); err != nil {
		return nil, err
	}
	if strings.TrimSpace(pick.Name) == "" {
		// Sem nome de time não há recomendação útil; o composer emite
		// a nota de "nenhum time identificado".
		return nil, nil
	}
	return &domain.Department{
		Name:        pick.Name,
		Contact:     pick.Contact,
		Description: pick.Description,
	}, nil
}
