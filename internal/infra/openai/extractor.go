// Package openai turns a free-text order message into a structured
// extraction using a chat-completion model in JSON mode.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("openai")

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

const jsonFormat = `{
  "items": [{"name": "string", "qty": "number", "unit_price": "number|null"}],
  "customer_phone": "string|null",
  "customer_name": "string|null",
  "notes": ["string"],
  "time_preference": "string|null"
}`

const systemPrompt = `Eres "Agente Fenix", un asistente de IA experto que interpreta pedidos para una tienda. Tu tarea es extraer información de un texto en español de Bolivia y devolverla en formato JSON. Eres muy bueno para encontrar el precio unitario y el horario.

Reglas CRÍTICAS:
1.  **Extrae Productos**: Identifica cada producto, su cantidad ('qty') y su precio unitario ('unit_price').
2.  **Calcula Precio Unitario**: Si el texto dice "2 poleras a 100bs", el 'unit_price' es 50. Si dice "1 masajeador a 175", el 'unit_price' es 175. Si no se menciona precio para un producto, 'unit_price' debe ser 'null'.
3.  **Extrae Cliente**: Busca un nombre de persona ('customer_name') y un número de teléfono ('customer_phone').
4.  **Extrae Horario**: Busca cualquier preferencia de horario como "entrega 2:30 a 3:30 pm" o "por la tarde" y ponlo en 'time_preference'.
5.  **Extrae Notas**: Cualquier instrucción adicional como "llamar antes", "empaque para regalo" va en el array 'notes'.
6.  **No Inventes**: Si un dato no está presente, su valor debe ser 'null'.
7.  **Respuesta Única**: Tu única respuesta debe ser el objeto JSON.

Formato JSON esperado:
` + jsonFormat

// TokenRecorder receives token usage per completion.
type TokenRecorder interface {
	RecordTokens(prompt, completion int)
}

// Config configures the extractor.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Extractor implements port.Extractor.
type Extractor struct {
	client *goopenai.Client
	model  string
	cb     *gobreaker.CircuitBreaker
	retry  resilience.Config
	tokens TokenRecorder
	logger *zap.Logger
}

// New creates an Extractor. tokens may be nil.
func New(cfg Config, cb *gobreaker.CircuitBreaker, retry resilience.Config, tokens TokenRecorder, logger *zap.Logger) *Extractor {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Extractor{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  model,
		cb:     cb,
		retry:  retry,
		tokens: tokens,
		logger: logger,
	}
}

type rawItem struct {
	Name      string           `json:"name"`
	Qty       *decimal.Decimal `json:"qty"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type rawExtraction struct {
	Items          []rawItem `json:"items"`
	CustomerPhone  *string   `json:"customer_phone"`
	CustomerName   *string   `json:"customer_name"`
	Notes          []string  `json:"notes"`
	TimePreference *string   `json:"time_preference"`
}

// Extract asks the model for the order fields contained in text.
func (e *Extractor) Extract(ctx context.Context, text string) (*domain.Extraction, error) {
	ctx, span := tracer.Start(ctx, "Extractor.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", e.model))

	req := goopenai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := resilience.Call(ctx, e.cb, e.retry, func() (goopenai.ChatCompletionResponse, error) {
		r, err := e.client.CreateChatCompletion(ctx, req)
		if err != nil && !retryable(err) {
			return r, resilience.Permanent(err)
		}
		return r, err
	})
	if err != nil {
		e.logger.Warn("extraction request failed", zap.Error(err))
		return nil, &domain.ErrExternalService{Service: "openai", Err: err}
	}

	if e.tokens != nil {
		e.tokens.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	span.SetAttributes(attribute.Int("llm.tokens.total", resp.Usage.TotalTokens))

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &domain.ErrExternalService{Service: "openai", Err: errors.New("empty completion")}
	}
	return parse(resp.Choices[0].Message.Content)
}

func parse(content string) (*domain.Extraction, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw rawExtraction
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, &domain.ErrExternalService{Service: "openai", Err: fmt.Errorf("decode extraction: %w", err)}
	}

	out := &domain.Extraction{
		CustomerName:   nonEmpty(raw.CustomerName),
		CustomerPhone:  nonEmpty(raw.CustomerPhone),
		TimePreference: nonEmpty(raw.TimePreference),
	}
	for _, n := range raw.Notes {
		if n = strings.TrimSpace(n); n != "" {
			out.Notes = append(out.Notes, n)
		}
	}
	for _, it := range raw.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		qty := decimal.NewFromInt(1)
		if it.Qty != nil && it.Qty.IsPositive() {
			qty = *it.Qty
		}
		out.Items = append(out.Items, domain.ExtractedItem{
			Name:      name,
			Qty:       qty,
			UnitPrice: it.UnitPrice,
		})
	}
	return out, nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// retryable reports whether the API error is worth another attempt.
func retryable(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return true
}
