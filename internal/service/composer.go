// composer.go — montagem do system prompt da resposta final.
package service

import (
	"strings"

	"github.com/verdesk/verai-go/internal/domain"
)

// personaTemplate é o template fixo de persona/estilo da assistente.
const personaTemplate = "Você é a Ver, assistente virtual de uma central de suporte. " +
	"Seja cordial, objetiva e responda em português. Use o contexto de apoio " +
	"quando ele for relevante; se não souber, diga que vai encaminhar para a " +
	"equipe responsável em vez de inventar."

// noDepartmentNote entra no prompt quando a classificação falhou ou
// não indicou time algum.
const noDepartmentNote = "Nenhum time específico foi identificado para este chamado até o momento."

// buildSystemPrompt combina persona + contexto recuperado + time
// responsável num único prompt de sistema.
func buildSystemPrompt(retrievedContext string, department *domain.Department) string {
	var b strings.Builder
	b.WriteString(personaTemplate)

	if retrievedContext != "" {
		b.WriteString("\n\nContexto de apoio (base de conhecimento):\n")
		b.WriteString(retrievedContext)
	}

	b.WriteString("\n\n")
	if department != nil {
		b.WriteString("Time responsável pelo chamado: ")
		b.WriteString(department.Name)
		if department.Contact != "" {
			b.WriteString(" (contato: " + department.Contact + ")")
		}
		if department.Description != "" {
			b.WriteString(". Motivo: " + department.Description)
		}
		b.WriteString("\nInforme ao usuário que esse time dará sequência ao atendimento.")
	} else {
		b.WriteString(noDepartmentNote)
	}

	return b.String()
}
