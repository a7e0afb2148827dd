// Package answer synthesizes a short answer from retrieved hits with an
// OpenAI-compatible chat model. Answering is best-effort.
package answer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/embedding"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/pkg/utils"
)

const (
	// MaxSources is the number of leading hits offered to the model.
	MaxSources = 4
	// MaxSourceChars bounds each source's text; longer text is cut at a word boundary.
	MaxSourceChars = 1200

	systemPrompt = "You are a helpful assistant for question answering."
)

// Gateway resolves a chat model and asks it to answer from sources.
type Gateway struct {
	cfg        *config.Config
	registry   *config.Registry
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = utils.OrNop(l) }
}

// WithMetrics records fallbacks on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithHTTPClient sets the client used for chat endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// NewGateway creates a gateway over the chat models in cfg.
func NewGateway(cfg *config.Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		registry: config.NewRegistry(cfg.Models),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: cfg.Search.RemoteTimeout}
	}
	return g
}

// Answer returns the model's answer and true, or "" and false when no chat model
// is configured, no hit has text, or the call fails.
func (g *Gateway) Answer(ctx context.Context, tenantID, question string, hits []*models.Hit, model string) (string, bool) {
	if strings.TrimSpace(question) == "" || len(hits) == 0 {
		return "", false
	}
	if model == "" {
		model = g.cfg.TenantDefaultChatModel(tenantID)
	}
	m, ok := g.registry.Lookup(config.ModelChat, model)
	if !ok || !m.Remote() {
		g.logger.Debug("chat model not configured, skipping answer", zap.String("model", model))
		return "", false
	}
	sources := BuildSources(hits)
	if sources == "" {
		return "", false
	}

	text, err := g.complete(ctx, m, UserPrompt(question, sources))
	if err != nil {
		g.logger.Warn("chat model failed", zap.String("model", model), zap.Error(err))
		g.metrics.RecordFallback("answer_none")
		return "", false
	}
	if text == "" {
		return "", false
	}
	return text, true
}

func (g *Gateway) complete(ctx context.Context, m *config.ModelConfig, prompt string) (string, error) {
	opts := []option.RequestOption{
		option.WithBaseURL(embedding.BaseURL(m.Endpoint)),
		option.WithHTTPClient(g.httpClient),
		option.WithMaxRetries(0),
	}
	if m.APIKey != "" {
		opts = append(opts, option.WithAPIKey(m.APIKey))
	}
	client := openai.NewClient(opts...)

	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(m.ModelName()),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// BuildSources numbers the first MaxSources hits as "[n] text", trimming each to
// MaxSourceChars. Hits without text are skipped but keep their number.
func BuildSources(hits []*models.Hit) string {
	var parts []string
	for i, h := range hits {
		if i >= MaxSources {
			break
		}
		text := utils.TrimAtSpace(h.Text, MaxSourceChars)
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%d] %s", i+1, text))
	}
	return strings.Join(parts, "\n\n")
}

// UserPrompt is the instruction sent with the question and its sources.
func UserPrompt(question, sources string) string {
	return "Answer the question using only the sources below. " +
		"If the sources do not contain the answer, say you do not know. " +
		"Keep the answer concise and in the same language as the question.\n\n" +
		"Question: " + question + "\n\nSources:\n" + sources
}
