// Package handler — router.go monta o roteador HTTP do serviço.
//
// ============================================================
// ROTAS
// ============================================================
//
//	POST   /v1/conversations/turn          → um turno de conversa
//	GET    /v1/conversations/{id}          → inspeção (operador, JWT)
//	DELETE /v1/conversations/{id}          → reset (operador, JWT)
//	GET    /v1/metrics/assistant           → snapshot agregado
//	GET    /healthz /readyz /ping /metrics → operacional
//
// Usamos POST para o turno porque proxies reversos removem o body de
// requisições GET. O handler é fino: valida, delega pro TurnService e
// mapeia erros de domínio para status HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/verdesk/verai-go/internal/domain"
	"github.com/verdesk/verai-go/internal/infra/observability"
	"github.com/verdesk/verai-go/internal/service"
)

var tracer = otel.Tracer("handler")

// TurnRequest é o body do POST /v1/conversations/turn.
type TurnRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(turnSvc *service.TurnService, metrics *observability.Metrics, logger *zap.Logger, jwtSecret string, rateLimitPerMinute int) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 💬 Turno de conversa
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(rateLimitPerMinute, time.Minute))
			r.Post("/conversations/turn", turnHandler(turnSvc, logger))
		})

		// =============================================
		// 📊 Métricas agregadas
		// =============================================
		r.Get("/metrics/assistant", assistantMetricsHandler(metrics))

		// =============================================
		// 🔐 Operador (inspeção/reset de conversas)
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(jwtSecret, logger))
			r.Get("/conversations/{conversationId}", getConversationHandler(turnSvc, logger))
			r.Delete("/conversations/{conversationId}", resetConversationHandler(turnSvc, logger))
		})
	})

	return r
}

// ============================================================
// Turno — POST /v1/conversations/turn
// ============================================================

func turnHandler(turnSvc *service.TurnService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/conversations/turn")
		defer span.End()

		var req TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: expected {\"message\": \"...\", \"conversationId\": \"...\"}")
			return
		}
		if req.ConversationID != "" {
			span.SetAttributes(attribute.String("conversation.id", req.ConversationID))
		}

		// Validação de conteúdo (mensagem vazia) fica no service, que
		// rejeita antes de qualquer mutação de estado.
		result, err := turnSvc.ProcessTurn(ctx, req.ConversationID, req.Message)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// ============================================================
// Operador — GET/DELETE /v1/conversations/{conversationId}
// ============================================================

func getConversationHandler(turnSvc *service.TurnService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/conversations/{conversationId}")
		defer span.End()

		conversationID := chi.URLParam(r, "conversationId")
		span.SetAttributes(attribute.String("conversation.id", conversationID))

		state, err := turnSvc.GetConversation(ctx, conversationID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func resetConversationHandler(turnSvc *service.TurnService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/conversations/{conversationId}")
		defer span.End()

		conversationID := chi.URLParam(r, "conversationId")
		span.SetAttributes(attribute.String("conversation.id", conversationID))

		if err := turnSvc.ResetConversation(ctx, conversationID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

// ============================================================
// Métricas — GET /v1/metrics/assistant
// ============================================================

func assistantMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetAssistantSnapshot())
	}
}

// ============================================================
// Operacional
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// ============================================================
// Helpers
// ============================================================

// writeJSON serializa data como JSON e escreve na response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError escreve uma resposta de erro padronizada.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleServiceError mapeia erros de domínio para HTTP status codes.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	switch e := err.(type) {
	case *domain.ErrValidation:
		writeError(w, http.StatusUnprocessableEntity, e.Error())
	case *domain.ErrNotFound:
		writeError(w, http.StatusNotFound, e.Error())
	case *domain.ErrExternalService:
		logger.Error("external service error", zap.String("service", e.Service), zap.Error(e.Err))
		writeError(w, http.StatusBadGateway, "external service unavailable: "+e.Service)
	case *domain.ErrUnauthorized:
		writeError(w, http.StatusUnauthorized, e.Error())
	default:
		logger.Error("unexpected error in handler", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
