package discochat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIClient is the subset of the go-openai client the bot uses.
type OpenAIClient interface {
	ChatCompleter

	// GetModel retrieves a model, to verify the configured model exists
	GetModel(ctx context.Context, modelID string) (model openai.Model, err error)
}

// ChatCompletionLog records a single chat completion request and
// its response.
//
//nolint:lll // struct tags can't be split
type ChatCompletionLog struct {
	ModelUintID
	ModelUnixTime

	RequestID string `json:"request_id" gorm:"type:string;uniqueIndex"`
	ChannelID string `json:"channel_id" gorm:"type:string;index"`
	Model     string `json:"model" gorm:"type:string"`

	RequestStarted int64 `json:"request_started"`
	RequestEnded   int64 `json:"request_ended"`

	RequestBody     string `json:"request_payload" gorm:"type:string"`
	ResponseBody    string `json:"response_payload" gorm:"type:string"`
	ResponseHeaders string `json:"headers" gorm:"type:string"`

	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	FinishReason     string `json:"finish_reason" gorm:"type:string"`

	Error string `json:"error" gorm:"type:string"`
}

func (ChatCompletionLog) TableName() string {
	return "chat_completion_log"
}

// OpenAI wraps the chat completion API, rate limiting requests and
// recording each one to the database.
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	db             DBI
	metrics        *metrics

	mu sync.RWMutex // protects requestLimiter
}

func newOpenAI(config *OpenAIConfig, httpClient *http.Client) *OpenAI {
	clientCfg := openai.DefaultConfig(config.Token)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		config: config,
		logger: newComponentLogger(config.LogLevel, "openai"),
		requestLimiter: rate.NewLimiter(
			rate.Limit(DefaultOpenAIMaxRequestsPerSecond),
			DefaultOpenAIMaxRequestsPerSecond,
		),
	}
}

// setRequestLimit updates the number of completion requests allowed per second
func (o *OpenAI) setRequestLimit(perSecond int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requestLimiter.SetLimit(rate.Limit(perSecond))
	o.requestLimiter.SetBurst(perSecond)
}

func (o *OpenAI) waitOnRequestLimiter(ctx context.Context) error {
	// RUnlock isn't deferred, so an update via the API doesn't have to
	// wait for every pending request to get through the limiter
	o.mu.RLock()
	requestLimiter := o.requestLimiter
	o.mu.RUnlock()
	return requestLimiter.Wait(ctx)
}

// CreateChatCompletion waits on the rate limiter, then requests a
// completion. The request and response are saved as a ChatCompletionLog.
func (o *OpenAI) CreateChatCompletion(
	ctx context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = o.logger
	}

	if err := o.waitOnRequestLimiter(ctx); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("rate limiter: %w", err)
	}

	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}

	record := &ChatCompletionLog{
		RequestID:      uuid.NewString(),
		ChannelID:      contextChannelID(ctx),
		Model:          request.Model,
		RequestStarted: time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(request); err == nil {
		record.RequestBody = string(data)
	}

	logger = logger.With("request_id", record.RequestID)

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, request)
	elapsed := time.Since(start)
	record.RequestEnded = time.Now().UnixMilli()

	switch {
	case err != nil:
		record.Error = err.Error()
		o.metrics.completion(completionResultError, elapsed)
		logger.ErrorContext(ctx, "chat completion failed", tint.Err(err), "elapsed", elapsed)
	default:
		o.fillResponse(record, resp)
		result := completionResultOK
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			result = completionResultEmpty
		}
		o.metrics.completion(result, elapsed)
		logger.InfoContext(
			ctx,
			"chat completion",
			"elapsed", elapsed,
			"result", result,
			"total_tokens", resp.Usage.TotalTokens,
			"finish_reason", record.FinishReason,
		)
	}

	o.saveLog(ctx, record)
	return resp, err
}

func (o *OpenAI) fillResponse(record *ChatCompletionLog, resp openai.ChatCompletionResponse) {
	if data, err := json.Marshal(resp); err == nil {
		record.ResponseBody = string(data)
	} else {
		o.logger.Warn("error marshaling response", tint.Err(err))
	}
	record.ResponseHeaders = o.dumpHeaders(resp.Header())
	record.PromptTokens = resp.Usage.PromptTokens
	record.CompletionTokens = resp.Usage.CompletionTokens
	record.TotalTokens = resp.Usage.TotalTokens
	if len(resp.Choices) > 0 {
		record.FinishReason = string(resp.Choices[0].FinishReason)
	}
}

func (o *OpenAI) saveLog(ctx context.Context, record *ChatCompletionLog) {
	if o.db == nil {
		return
	}
	// the request context may already be cancelled, but the record
	// should still be saved
	if _, err := o.db.Create(context.WithoutCancel(ctx), record); err != nil {
		o.logger.ErrorContext(ctx, "error saving chat completion log", tint.Err(err))
	}
}

// verifyModel checks that the configured model exists
func (o *OpenAI) verifyModel(ctx context.Context) error {
	if o.config.SkipModelCheck {
		o.logger.InfoContext(ctx, "skipping model check", "model", o.config.Model)
		return nil
	}
	model, err := o.client.GetModel(ctx, o.config.Model)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("model %q not found: %w", o.config.Model, err)
		}
		return fmt.Errorf("error retrieving model %q: %w", o.config.Model, err)
	}
	o.logger.InfoContext(ctx, "model found", "model", model.ID, "owned_by", model.OwnedBy)
	return nil
}

func (o *OpenAI) dumpHeaders(headers http.Header) string {
	if headers == nil {
		return ""
	}
	data, err := json.Marshal(headers)
	if err != nil {
		o.logger.Warn("error dumping headers", tint.Err(err))
		return ""
	}
	return string(data)
}
