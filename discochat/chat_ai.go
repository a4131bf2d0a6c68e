package discochat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// FallbackResponse is used when every attempt to generate a response
	// comes back empty
	FallbackResponse = "I have no thoughts on the matter (failed to generate a response)"

	// DefaultSystemPrompt is used when no system prompt is configured.
	// botNamePlaceholder is replaced with the bot's name.
	DefaultSystemPrompt = "Your name is " + botNamePlaceholder + ". You're a regular in a " +
		"small, private Discord server full of friends. Talk casually, joke around, " +
		"riff on what other people say and sometimes get the details wrong, the way " +
		"a real person would. You aren't an assistant. You're one of the group."

	botNamePlaceholder = "{bot_name}"
	debugPrefix        = "DEBUG: "
)

// ErrGenerateResponse is returned (wrapping the underlying error) when
// the chat completion request itself fails.
var ErrGenerateResponse = errors.New("error generating response")

// ChatCompleter creates chat completions. It's satisfied by
// [openai.Client] and [OpenAI].
type ChatCompleter interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)
}

// ChatAIConfig configures a ChatAI
type ChatAIConfig struct {
	BotName    string
	Model      string
	Parameters CompletionParameters
	Chat       ChatConfig
	Debug      bool
	Logger     *slog.Logger
}

// ChannelSummary describes a tracked channel
type ChannelSummary struct {
	ChannelID string `json:"channel_id"`
	Turns     int    `json:"turns"`
}

// ChatAI manages conversation memory for every channel the bot talks in,
// and generates responses for new messages using that memory as context.
//
// Calls for the same channel are serialized, so a channel only ever has
// one turn in progress. Calls for different channels run concurrently.
type ChatAI struct {
	client  ChatCompleter
	config  ChatAIConfig
	logger  *slog.Logger
	metrics *metrics

	selfPrefix *regexp.Regexp

	systemPrompt  string
	systemPrompts []MemoryItem
	channels      map[string]*ChannelMemory
	channelLocks  map[string]*sync.Mutex
	mu            sync.RWMutex
}

// NewChatAI returns a ChatAI which requests completions from client.
func NewChatAI(client ChatCompleter, config ChatAIConfig) *ChatAI {
	if config.Chat.MaxAttempts < 1 {
		config.Chat.MaxAttempts = DefaultChatMaxAttempts
	}
	if config.Chat.HistoryLength < 1 {
		config.Chat.HistoryLength = DefaultChatHistoryLength
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &ChatAI{
		client:       client,
		config:       config,
		logger:       logger,
		channels:     map[string]*ChannelMemory{},
		channelLocks: map[string]*sync.Mutex{},
	}
	if config.BotName != "" {
		c.selfPrefix = regexp.MustCompile(
			`(?i)^\s*` + regexp.QuoteMeta(config.BotName) + `\s*:\s*`,
		)
	}
	c.systemPrompt, c.systemPrompts = c.buildSystemPrompts(config.Chat.SystemPrompt)
	return c
}

func (c *ChatAI) buildSystemPrompts(prompt string) (string, []MemoryItem) {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultSystemPrompt
	}
	return prompt, []MemoryItem{
		{
			Text: strings.ReplaceAll(prompt, botNamePlaceholder, c.config.BotName),
			Role: RoleSystem,
		},
	}
}

// BotName returns the name the bot speaks as
func (c *ChatAI) BotName() string {
	return c.config.BotName
}

// SystemPrompt returns the current primary system prompt, before
// placeholder substitution
func (c *ChatAI) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.systemPrompt
}

// SetSystemPrompt replaces the primary system prompt and applies it to
// every channel. An empty prompt restores DefaultSystemPrompt.
// When [ChatConfig.ResetOnSystemPrompt] is set, every channel's history
// is cleared, so the change acts as a conversation reset.
func (c *ChatAI) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.systemPrompt, c.systemPrompts = c.buildSystemPrompts(prompt)
	for id, m := range c.channels {
		// fresh memory, so a turn already in flight finishes against
		// the memory it started with
		if c.config.Chat.ResetOnSystemPrompt {
			c.channels[id] = c.newMemoryLocked(id, nil)
			continue
		}
		m.SetSystemPrompts(c.systemPrompts)
	}
	c.logger.Info(
		"system prompt updated",
		"channels", len(c.channels),
		"history_cleared", c.config.Chat.ResetOnSystemPrompt,
	)
}

// ClearHistory clears the history of the given channels, replacing
// each with empty memory. With no channel IDs, every channel is dropped.
func (c *ChatAI) ClearHistory(channelIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(channelIDs) == 0 {
		c.logger.Info("clearing all channel history", "channels", len(c.channels))
		c.channels = map[string]*ChannelMemory{}
		c.metrics.setChannels(0)
		return
	}
	for _, id := range channelIDs {
		c.channels[id] = c.newMemoryLocked(id, nil)
	}
	c.logger.Info("cleared channel history", "channel_ids", channelIDs)
	c.metrics.setChannels(len(c.channels))
}

// InitialiseChannelHistory replaces the channel's memory with memory
// seeded from items, oldest first. Only the newest items that fit within
// the history limit are kept.
func (c *ChatAI) InitialiseChannelHistory(channelID string, items []MemoryItem) {
	lock := c.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] = c.newMemoryLocked(channelID, items)
	c.metrics.setChannels(len(c.channels))
	c.logger.Info(
		"initialised channel history",
		"channel_id", channelID,
		"items", len(items),
	)
}

// HasChannel reports whether the channel has memory
func (c *ChatAI) HasChannel(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channelID]
	return ok
}

// Channels returns a summary of every tracked channel, sorted by ID
func (c *ChatAI) Channels() []ChannelSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summaries := make([]ChannelSummary, 0, len(c.channels))
	for id, m := range c.channels {
		summaries = append(summaries, ChannelSummary{ChannelID: id, Turns: m.Len()})
	}
	slices.SortFunc(
		summaries, func(x, y ChannelSummary) int {
			return cmp.Compare(x.ChannelID, y.ChannelID)
		},
	)
	return summaries
}

// ChannelMessages returns the messages that would currently be sent for
// the channel, and false if the channel has no memory.
func (c *ChatAI) ChannelMessages(
	channelID string,
	condense bool,
) ([]openai.ChatCompletionMessage, bool) {
	c.mu.RLock()
	m, ok := c.channels[channelID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.Render(condense), true
}

// ObserveMessage adds a user turn to the channel's memory without
// generating a response
func (c *ChatAI) ObserveMessage(channelID string, text string, username string) {
	lock := c.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	c.memory(channelID).Append(MemoryItem{Text: text, Username: username, Role: RoleUser})
	c.metrics.turnAppended(RoleUser)
}

// GetResponse adds the message to the channel's memory as a user turn,
// requests a completion using the channel's memory as context, and adds
// the response to memory as an assistant turn.
//
// Empty completions are retried, up to [ChatConfig.MaxAttempts] requests
// in total, without adding the user turn again. If all of them are
// empty, FallbackResponse is used.
//
// If a request fails, ErrGenerateResponse is returned wrapping the
// failure, and no assistant turn is added.
func (c *ChatAI) GetResponse(
	ctx context.Context,
	channelID string,
	text string,
	username string,
) (string, error) {
	lock := c.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = c.logger
	}
	logger = logger.With("channel_id", channelID)
	ctx = withChannelID(ctx, channelID)

	memory := c.memory(channelID)
	memory.Append(MemoryItem{Text: text, Username: username, Role: RoleUser})
	c.metrics.turnAppended(RoleUser)

	var response string
	for attempt := 1; attempt <= c.config.Chat.MaxAttempts; attempt++ {
		content, err := c.complete(ctx, memory)
		if err != nil {
			logger.ErrorContext(ctx, "completion request failed", tint.Err(err), "attempt", attempt)
			return "", fmt.Errorf("%w: %w", ErrGenerateResponse, err)
		}
		response = c.cleanResponse(content)
		if response != "" {
			break
		}
		logger.WarnContext(ctx, "empty completion", "attempt", attempt)
		c.metrics.emptyCompletion()
	}

	if response == "" {
		logger.WarnContext(
			ctx,
			"no usable completion, using fallback",
			"attempts", c.config.Chat.MaxAttempts,
		)
		response = FallbackResponse
		c.metrics.fallback()
	}

	memory.Append(MemoryItem{Text: response, Username: c.config.BotName, Role: RoleAssistant})
	c.metrics.turnAppended(RoleAssistant)

	if c.config.Debug {
		return debugPrefix + response, nil
	}
	return response, nil
}

// complete renders the memory and sends a single completion request,
// returning the content of the first choice
func (c *ChatAI) complete(ctx context.Context, memory *ChannelMemory) (string, error) {
	params := c.config.Parameters
	request := openai.ChatCompletionRequest{
		Model:               c.config.Model,
		Messages:            memory.Render(c.config.Chat.Condense),
		MaxCompletionTokens: params.MaxTokens,
		Temperature:         params.Temperature,
		TopP:                params.TopP,
		FrequencyPenalty:    params.FrequencyPenalty,
		PresencePenalty:     params.PresencePenalty,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, request)
	c.logger.DebugContext(
		ctx,
		"completion finished",
		"elapsed", time.Since(start),
		"messages", len(request.Messages),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// cleanResponse removes the bot's own name if the model prefixed the
// response with it ("Bot: hello" -> "hello")
func (c *ChatAI) cleanResponse(content string) string {
	if c.selfPrefix != nil {
		content = c.selfPrefix.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

// memory returns the channel's memory, creating it if needed
func (c *ChatAI) memory(channelID string) *ChannelMemory {
	c.mu.RLock()
	m, ok := c.channels[channelID]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok = c.channels[channelID]; ok {
		return m
	}
	m = c.newMemoryLocked(channelID, nil)
	c.channels[channelID] = m
	c.metrics.setChannels(len(c.channels))
	return m
}

func (c *ChatAI) newMemoryLocked(channelID string, items []MemoryItem) *ChannelMemory {
	return NewChannelMemory(
		c.config.BotName,
		channelID,
		c.systemPrompts,
		items,
		c.config.Chat.HistoryLength,
	)
}

// channelLock returns the mutex serializing turns for the channel.
// Locks outlive the channel's memory, so clearing a channel mid-turn
// doesn't let a second turn start alongside the first.
func (c *ChatAI) channelLock(channelID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.channelLocks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		c.channelLocks[channelID] = lock
	}
	return lock
}
