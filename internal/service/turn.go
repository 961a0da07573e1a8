// Package service — turn.go implementa o TurnService, o orquestrador
// de um turno conversacional.
//
// ============================================================
// FLUXO DE UM TURNO
// ============================================================
//
//  1. Valida a mensagem (vazia → erro antes de tocar em qualquer estado)
//  2. Carrega o estado da conversa (ou cria um novo, com id gerado)
//  3. Anexa a mensagem do usuário ao transcript
//  4. Roda a máquina de onboarding
//  5. Se o onboarding emitiu um prompt → o turno termina aqui
//  6. Senão: gera query de busca → recupera contexto ∥ classifica o
//     time responsável → compõe a resposta final
//  7. Persiste o estado mesclado — ÚLTIMO passo do turno
//
// A persistência é o único efeito colateral observável. Ela acontece
// por último de propósito: se qualquer collaborator falhar no meio do
// turno, o estado anterior continua sendo o ponto de rollback e o
// chamador pode repetir o turno com segurança (at-least-once).
//
// Turnos da MESMA conversa são serializados por um mutex por chave;
// conversas diferentes rodam em paralelo sem coordenação.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verdesk/verai-go/internal/domain"
	"github.com/verdesk/verai-go/internal/infra/observability"
	"github.com/verdesk/verai-go/internal/infra/resilience"
	"github.com/verdesk/verai-go/internal/onboarding"
	"github.com/verdesk/verai-go/internal/port"
)

var tracer = otel.Tracer("service/turn")

// TurnResult é o que um turno devolve ao chamador.
type TurnResult struct {
	ConversationID string                    `json:"conversationId"`
	Reply          string                    `json:"reply"`
	State          *domain.ConversationState `json:"state"`
}

// TurnService orquestra um turno de ponta a ponta.
type TurnService struct {
	store        port.ConversationStore
	llm          port.LanguageModel
	retriever    port.Retriever
	machine      *onboarding.Machine
	contextCache port.Cache[string]
	locks        *resilience.KeyedMutex
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewTurnService cria o serviço com as dependências injetadas.
// retriever pode ser nil — a recuperação degrada para contexto vazio.
func NewTurnService(
	store port.ConversationStore,
	llm port.LanguageModel,
	retriever port.Retriever,
	machine *onboarding.Machine,
	contextCache port.Cache[string],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *TurnService {
	return &TurnService{
		store:        store,
		llm:          llm,
		retriever:    retriever,
		machine:      machine,
		contextCache: contextCache,
		locks:        resilience.NewKeyedMutex(),
		metrics:      metrics,
		logger:       logger,
	}
}

// ProcessTurn processa uma mensagem inbound e devolve a resposta do
// turno. conversationID vazio significa conversa nova (id gerado).
func (s *TurnService) ProcessTurn(ctx context.Context, conversationID, message string) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "TurnService.ProcessTurn")
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.RecordTurnDuration("turn", time.Since(start))
	}()

	// Validação antes de qualquer mutação de estado.
	if strings.TrimSpace(message) == "" {
		return nil, &domain.ErrValidation{Field: "message", Message: "message must not be empty"}
	}

	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	// Serializa turnos concorrentes da mesma conversa (single writer
	// por chave). Conversas diferentes não se bloqueiam.
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	prev, err := s.loadOrInit(ctx, conversationID)
	if err != nil {
		s.metrics.IncrTurn("error")
		return nil, err
	}

	// Todo o turno muta uma cópia; prev permanece o ponto de rollback.
	work := prev.Clone()
	work.Append(domain.Message{
		ID:        uuid.New().String(),
		Role:      domain.RoleUser,
		Content:   message,
		CreatedAt: time.Now().UTC(),
	})

	res := s.machine.Next(work)
	work.UserInfo = res.UserInfo
	work.Step = res.Step
	s.metrics.IncrOnboardingStep(string(res.Step))

	// Onboarding ainda em curso: o prompt da máquina é a resposta do
	// turno. Nada de retrieval/classificação/composição.
	if res.Reply != "" {
		work.Append(domain.Message{
			ID:        uuid.New().String(),
			Role:      domain.RoleAssistant,
			Content:   res.Reply,
			CreatedAt: time.Now().UTC(),
		})
		merged, err := s.persist(ctx, prev, work)
		if err != nil {
			s.metrics.IncrTurn("error")
			return nil, err
		}
		s.metrics.IncrTurn("success")
		return &TurnResult{ConversationID: conversationID, Reply: res.Reply, State: merged}, nil
	}

	// Onboarding completo: pipeline principal.
	reply, err := s.respond(ctx, work)
	if err != nil {
		s.metrics.IncrTurn("error")
		return nil, err
	}

	work.Append(domain.Message{
		ID:        uuid.New().String(),
		Role:      domain.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	})

	merged, err := s.persist(ctx, prev, work)
	if err != nil {
		s.metrics.IncrTurn("error")
		return nil, err
	}
	s.metrics.IncrTurn("success")
	return &TurnResult{ConversationID: conversationID, Reply: reply, State: merged}, nil
}

// respond roda o pipeline pós-onboarding: query → (retrieval ∥
// classificação) → composição. Falha de LLM aqui é fatal para o turno;
// falha de retrieval e de classificação degradam.
func (s *TurnService) respond(ctx context.Context, work *domain.ConversationState) (string, error) {
	ctx, span := tracer.Start(ctx, "TurnService.respond")
	defer span.End()

	query, err := s.generateQuery(ctx, work)
	if err != nil {
		s.logger.Error("query generation failed",
			zap.String("conversation_id", work.ConversationID),
			zap.Error(err),
		)
		s.metrics.IncrExternalError("llm")
		return "", err
	}
	work.Queries = append(work.Queries, query)

	// Retrieval e classificação são independentes entre si — rodam em
	// paralelo. Ambos degradam em vez de falhar o turno.
	var (
		contextStr string
		department = work.Department
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		contextStr = s.retrieveContext(gCtx, query)
		return nil
	})

	if department == nil {
		g.Go(func() error {
			dep, err := s.classifyDepartment(gCtx, work)
			if err != nil {
				// Não bloqueia a composição: a resposta sai com a nota
				// de "nenhum time identificado".
				s.logger.Warn("department classification failed",
					zap.String("conversation_id", work.ConversationID),
					zap.Error(err),
				)
				s.metrics.IncrExternalError("llm")
				return nil
			}
			department = dep
			return nil
		})
	}

	// Os closures acima nunca retornam erro; o errgroup serve pela
	// sincronização e pelo gCtx compartilhado.
	_ = g.Wait()

	work.Department = department

	reply, err := s.llm.Complete(ctx, buildSystemPrompt(contextStr, department), work.Messages)
	if err != nil {
		s.logger.Error("response composition failed",
			zap.String("conversation_id", work.ConversationID),
			zap.Error(err),
		)
		s.metrics.IncrExternalError("llm")
		return "", err
	}
	return reply, nil
}

// loadOrInit carrega o estado da conversa ou cria um novo quando o id
// ainda não existe no store.
func (s *TurnService) loadOrInit(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	state, err := s.store.Load(ctx, conversationID)
	if err != nil {
		if _, ok := err.(*domain.ErrNotFound); ok {
			return domain.NewConversationState(conversationID), nil
		}
		return nil, err
	}
	return state, nil
}

// persist mescla o resultado do turno sobre o estado anterior e grava.
// É o último passo do turno — replace-on-success.
func (s *TurnService) persist(ctx context.Context, prev, work *domain.ConversationState) (*domain.ConversationState, error) {
	work.UpdatedAt = time.Now().UTC()
	merged := domain.Merge(prev, work)
	if err := s.store.Save(ctx, merged.ConversationID, merged); err != nil {
		s.logger.Error("failed to persist conversation state",
			zap.String("conversation_id", merged.ConversationID),
			zap.Error(err),
		)
		return nil, err
	}
	return merged, nil
}

// GetConversation retorna o estado persistido de uma conversa.
// Usado pelas rotas de operador.
func (s *TurnService) GetConversation(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	ctx, span := tracer.Start(ctx, "TurnService.GetConversation")
	defer span.End()

	return s.store.Load(ctx, conversationID)
}

// ResetConversation descarta o estado de uma conversa (operador).
func (s *TurnService) ResetConversation(ctx context.Context, conversationID string) error {
	ctx, span := tracer.Start(ctx, "TurnService.ResetConversation")
	defer span.End()

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	return s.store.Delete(ctx, conversationID)
}
