package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"

	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/logger"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Strategy selects how a chat completion is produced
type Strategy int

const (
	// StrategyPlain is a regular streaming completion
	StrategyPlain Strategy = iota
	// StrategyWebSearch streams from a search-augmented model
	StrategyWebSearch
)

func (s Strategy) String() string {
	if s == StrategyWebSearch {
		return "web_search"
	}
	return "plain"
}

// ErrWebSearchUnavailable is returned when a web-search stream is requested
// but no search model is configured
var ErrWebSearchUnavailable = errors.New("web search is not configured")

// Message is one chat message sent to the model
type Message struct {
	Role    string
	Content string
}

// Message roles
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// TokenStream yields reply text in generation order. Recv returns io.EOF
// once the model has finished.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// LLMAdapter handles communication with an OpenAI-compatible endpoint (LiteLLM)
type LLMAdapter struct {
	baseURL string
	apiKey  string
	client  *openai.Client

	mu              sync.RWMutex // Protects model fields for concurrent access
	model           string
	extractionModel string
	searchModel     string
	webSearch       bool

	logger *zap.Logger
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, modelID string) *LLMAdapter {
	return &LLMAdapter{
		baseURL:         baseURL,
		apiKey:          apiKey,
		client:          newClient(baseURL, apiKey),
		model:           modelID,
		extractionModel: modelID,
		logger:          logger.Named("llm"),
	}
}

func newClient(baseURL, apiKey string) *openai.Client {
	// For LiteLLM, we can use a dummy API key if not provided
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	return openai.NewClientWithConfig(config)
}

// WithAPIKey returns an adapter with the same models that authenticates
// with apiKey. An empty key returns the receiver unchanged.
func (a *LLMAdapter) WithAPIKey(apiKey string) *LLMAdapter {
	if apiKey == "" || apiKey == a.apiKey {
		return a
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return &LLMAdapter{
		baseURL:         a.baseURL,
		apiKey:          apiKey,
		client:          newClient(a.baseURL, apiKey),
		model:           a.model,
		extractionModel: a.extractionModel,
		searchModel:     a.searchModel,
		webSearch:       a.webSearch,
		logger:          a.logger,
	}
}

// SetExtractionModel sets the model used for JSON-mode extraction calls
func (a *LLMAdapter) SetExtractionModel(model string) {
	if model != "" {
		a.mu.Lock()
		a.extractionModel = model
		a.mu.Unlock()
	}
}

// SetWebSearch enables or disables the web-search strategy. Passing an empty
// model disables it.
func (a *LLMAdapter) SetWebSearch(enabled bool, model string) {
	a.mu.Lock()
	a.webSearch = enabled && model != ""
	a.searchModel = model
	a.mu.Unlock()
}

// WebSearchAvailable reports whether StrategyWebSearch can be used
func (a *LLMAdapter) WebSearchAvailable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.webSearch
}

// ModelFor returns the model a strategy streams from
func (a *LLMAdapter) ModelFor(strategy Strategy) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if strategy == StrategyWebSearch {
		return a.searchModel
	}
	return a.model
}

// OpenStream starts a streaming chat completion. The caller must Close the
// returned stream; closing releases the upstream connection.
func (a *LLMAdapter) OpenStream(ctx context.Context, strategy Strategy, messages []Message) (TokenStream, error) {
	if strategy == StrategyWebSearch && !a.WebSearchAvailable() {
		return nil, ErrWebSearchUnavailable
	}
	model := a.ModelFor(strategy)

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}
	// Search models reject sampling parameters
	if strategy == StrategyPlain {
		req.Temperature = 0.7
	}

	a.logger.Debug("Opening completion stream",
		zap.String("model", model),
		zap.String("strategy", strategy.String()),
		zap.Int("message_count", len(messages)),
	)

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		a.logger.Warn("Failed to create stream",
			zap.String("model", model),
			zap.String("strategy", strategy.String()),
			zap.Error(err),
		)
		return nil, err
	}

	return &openAIStream{stream: stream}, nil
}

// CompleteJSON runs a single non-streaming completion in JSON mode on the
// extraction model and returns the raw message content
func (a *LLMAdapter) CompleteJSON(ctx context.Context, systemPrompt, userMsg string) (string, error) {
	a.mu.RLock()
	model := a.extractionModel
	a.mu.RUnlock()

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		errMsg := err.Error()
		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.String("model", model),
		)
		// Check if it's a JSON parsing error (likely server returned non-JSON error)
		if strings.Contains(errMsg, "invalid character") {
			a.logger.Warn("LLM service returned non-JSON error response", zap.String("error", errMsg))
		}
		return "", apperrors.NewModelRequestFailed(model, err)
	}

	if len(resp.Choices) == 0 {
		return "", apperrors.ErrModelNoResponse
	}

	content := resp.Choices[0].Message.Content
	a.logger.Debug("Extraction completion received",
		zap.String("model", model),
		zap.Int("content_length", len(content)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}

// openAIStream adapts go-openai's stream to TokenStream, skipping chunks that
// carry no text
type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
