// Package llm implementa o port.LanguageModel sobre a API de chat
// completions da OpenAI (ou qualquer endpoint compatível).
//
// Duas formas de chamada:
//
//	Complete           → texto livre (composição da resposta final)
//	CompleteStructured → JSON object mode, decodificado num schema
//	                     declarado (query de busca, classificação)
//
// Todas as chamadas passam por circuit breaker + retry com backoff,
// como qualquer outro collaborator externo.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/verdesk/verai-go/internal/domain"
	"github.com/verdesk/verai-go/internal/infra/observability"
	"github.com/verdesk/verai-go/internal/infra/resilience"
)

var tracer = otel.Tracer("infra/llm")

// Client é o adapter OpenAI do port.LanguageModel.
type Client struct {
	api     *openai.Client
	model   string
	cb      *gobreaker.CircuitBreaker
	cfg     resilience.Config
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewClient cria o client. baseURL vazio usa a API pública da OpenAI;
// um valor custom aponta para gateways self-hosted (e para os mocks
// httptest dos testes de integração).
func NewClient(apiKey, baseURL, model string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	apiCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		apiCfg.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   model,
		cb:      cb,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Complete retorna uma completion de texto livre para o histórico.
func (c *Client) Complete(ctx context.Context, system string, messages []domain.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "LLM.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	resp, err := c.createCompletion(ctx, system, messages, nil)
	if err != nil {
		return "", err
	}
	return resp, nil
}

// CompleteStructured pede uma completion em JSON object mode e
// decodifica no schema apontado por out.
func (c *Client) CompleteStructured(ctx context.Context, system string, messages []domain.Message, out any) error {
	ctx, span := tracer.Start(ctx, "LLM.CompleteStructured")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
	raw, err := c.createCompletion(ctx, system, messages, format)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), out); err != nil {
		return &domain.ErrExternalService{
			Service: "openai",
			Err:     fmt.Errorf("decode structured completion: %w", err),
		}
	}
	return nil
}

// createCompletion faz a chamada com breaker + retry e registra tokens.
func (c *Client) createCompletion(ctx context.Context, system string, messages []domain.Message, format *openai.ChatCompletionResponseFormat) (string, error) {
	chatMsgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	var content string

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:          c.model,
				Messages:       chatMsgs,
				ResponseFormat: format,
			})
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			c.metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			content = resp.Choices[0].Message.Content
			return nil
		})
	})

	if err != nil {
		c.logger.Error("llm call failed",
			zap.String("model", c.model),
			zap.Error(err),
		)
		return "", &domain.ErrExternalService{Service: "openai", Err: err}
	}
	return content, nil
}
