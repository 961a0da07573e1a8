// Package onboarding implementa a máquina de estados que condiciona o
// atendimento à coleta de nome e e-mail.
//
// ============================================================
// JORNADA DE ONBOARDING — 4 Estados
// ============================================================
//
//	initialization → asking_name → asking_email → main_conversation
//
// O atendimento de verdade (busca, classificação de time, resposta)
// só acontece em main_conversation. Até lá, cada turno devolve a
// próxima pergunta do cadastro.
//
// IMPORTANTE: o dispatch usa o conversationStep persistido como fonte
// de verdade. O conteúdo da última mensagem da assistente é usado
// apenas como validador de fallback para estados legados que não
// carregam o step marker — detectar "o que foi perguntado" por
// substring é inerentemente lossy e já causou bugs (um nome contendo
// "@" era classificado como resposta de e-mail).
package onboarding

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/verdesk/verai-go/internal/domain"
)

// Result é a saída de uma transição: zero-ou-uma mensagem da
// assistente, o userInfo atualizado e o próximo step.
type Result struct {
	// Reply é o prompt a anexar ao transcript. Vazio significa que o
	// onboarding não tem nada a dizer e o turno segue para o
	// atendimento principal.
	Reply    string
	UserInfo domain.UserInfo
	Step     domain.Step
}

// Machine decide, turno a turno, se o usuário ainda precisa responder
// o cadastro antes de ser atendido.
type Machine struct {
	// refusals é a lista de padrões de recusa (política de conteúdo,
	// configurável — a default é pt-BR). Match case-insensitive por
	// substring.
	refusals []string

	logger *zap.Logger
}

// NewMachine cria a máquina com a lista de recusas injetada.
func NewMachine(refusals []string, logger *zap.Logger) *Machine {
	return &Machine{
		refusals: refusals,
		logger:   logger,
	}
}

// Prompts do cadastro. A voz é a da "Ver", persona da assistente.
const (
	promptAskName = "Olá! Eu sou a Ver, assistente virtual de atendimento. " +
		"Antes de começarmos, preciso de alguns dados para registrar o seu chamado. " +
		"Qual é o seu nome completo?"

	promptNameRefused = "Entendo! Mas o seu nome é importante para personalizar o atendimento " +
		"e encaminhar o chamado para a equipe certa. Pode me dizer o seu nome completo?"

	promptEmailRefused = "Sem o e-mail não consigo concluir o cadastro: é por ele que a equipe " +
		"responsável envia o retorno do seu chamado. Pode me informar um e-mail para contato?"
)

func promptAskEmail(name string) string {
	return fmt.Sprintf("Obrigada, %s! Agora, qual é o seu e-mail para contato?", name)
}

func promptCompleted(name string) string {
	return fmt.Sprintf("Perfeito, %s! Cadastro concluído. Como posso te ajudar hoje?", name)
}

// Next executa uma transição dado o estado atual da conversa.
// A última mensagem do transcript deve ser a mensagem do usuário que
// disparou o turno (o orquestrador anexa antes de chamar).
//
// Ordem das regras (a ordem importa):
//  1. Guarda de idempotência — cadastro completo vai/fica em
//     main_conversation sem reexecutar nenhuma heurística de texto.
//  2. Primeira mensagem da conversa — pede o nome e zera o userInfo.
//  3. Dispatch pelo step persistido (asking_name / asking_email),
//     com tratamento de recusa em cada um.
//  4. Step ausente ou ambíguo — heurística de fallback sobre a última
//     mensagem da assistente; se ainda assim não der, reinicia a
//     coleta (recuperação defensiva, nunca erro para o chamador).
func (m *Machine) Next(state *domain.ConversationState) Result {
	info := state.UserInfo

	// Regra 1: idempotência. Checada antes de qualquer heurística para
	// não reabrir o cadastro de quem já completou.
	if info.Complete() {
		return Result{UserInfo: info, Step: domain.StepMainConversation}
	}

	// Regra 2: primeira mensagem da conversa.
	if len(state.Messages) == 1 {
		return m.restart()
	}

	step := state.Step
	if step != domain.StepAskingName && step != domain.StepAskingEmail {
		step = m.inferPendingStep(state)
	}

	userText := strings.TrimSpace(state.LastUserMessage())

	switch step {
	case domain.StepAskingEmail:
		if m.isRefusal(userText) {
			// Recusa: reexplica por que o e-mail é necessário e espera.
			return Result{Reply: promptEmailRefused, UserInfo: info, Step: domain.StepAskingEmail}
		}
		if info.Name == "" {
			// E-mail sem nome viola a invariante de conclusão — estado
			// parcialmente populado (regra 4). Reinicia a coleta.
			m.logger.Warn("onboarding: email stage reached without a name, restarting collection",
				zap.String("conversation_id", state.ConversationID),
			)
			return m.restart()
		}
		info.Email = userText
		info.OnboardingCompleted = true
		return Result{Reply: promptCompleted(info.Name), UserInfo: info, Step: domain.StepMainConversation}

	case domain.StepAskingName:
		if m.isRefusal(userText) {
			return Result{Reply: promptNameRefused, UserInfo: info, Step: domain.StepAskingName}
		}
		info.Name = userText
		return Result{Reply: promptAskEmail(info.Name), UserInfo: info, Step: domain.StepAskingEmail}

	default:
		// Regra 4: não dá para saber o que foi perguntado. Reiniciar a
		// coleta evita deadlock; é recuperação local, não erro.
		m.logger.Warn("onboarding: ambiguous conversation step, restarting collection",
			zap.String("conversation_id", state.ConversationID),
			zap.String("step", string(state.Step)),
		)
		return m.restart()
	}
}

// restart emite o pedido de nome e zera o cadastro (comportamento da
// primeira mensagem).
func (m *Machine) restart() Result {
	return Result{
		Reply:    promptAskName,
		UserInfo: domain.UserInfo{},
		Step:     domain.StepAskingName,
	}
}

// isRefusal verifica se o texto casa com algum padrão de recusa.
func (m *Machine) isRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range m.refusals {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// inferPendingStep é o validador de fallback para estados sem step
// marker confiável: olha a última mensagem da assistente e tenta
// deduzir o que foi perguntado. Retorna "" quando não reconhece.
func (m *Machine) inferPendingStep(state *domain.ConversationState) domain.Step {
	last := strings.ToLower(state.LastAssistantMessage())
	switch {
	case strings.Contains(last, "e-mail") || strings.Contains(last, "email"):
		return domain.StepAskingEmail
	case strings.Contains(last, "nome"):
		return domain.StepAskingName
	default:
		return ""
	}
}
