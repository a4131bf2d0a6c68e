package discochat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completerFunc adapts a function to the ChatCompleter interface
type completerFunc func(
	ctx context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error)

func (f completerFunc) CreateChatCompletion(
	ctx context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	return f(ctx, request)
}

func newTestChatAI(t testing.TB, client ChatCompleter, opts ...func(*ChatAIConfig)) *ChatAI {
	t.Helper()
	cfg := DefaultConfig()
	config := ChatAIConfig{
		BotName:    "discochat",
		Model:      testModel,
		Parameters: cfg.OpenAI.Parameters,
		Chat:       *cfg.Chat,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return NewChatAI(client, config)
}

func withUncondensed(c *ChatAIConfig) {
	c.Chat.Condense = false
}

func TestChatAI_GetResponse(t *testing.T) {
	client := newMockOpenAIClient(t)
	client.setReplies("hey jane")
	c := newTestChatAI(t, client, withUncondensed)

	response, err := c.GetResponse(context.Background(), "c1", "hello bot", "Jane")
	require.NoError(t, err)
	assert.Equal(t, "hey jane", response)

	messages, ok := c.ChannelMessages("c1", false)
	require.True(t, ok)
	require.Len(t, messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(
		t,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "hello bot", Name: "Jane"},
		messages[1],
	)
	assert.Equal(
		t,
		openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: "hey jane",
			Name:    "discochat",
		},
		messages[2],
	)

	requests := client.Requests()
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, testModel, req.Model)
	assert.Equal(t, float32(DefaultTemperature), req.Temperature)
	assert.Equal(t, DefaultMaxTokens, req.MaxCompletionTokens)
	// the request includes the new message, but not the response
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "hello bot", req.Messages[1].Content)
}

func TestChatAI_GetResponse_Condensed(t *testing.T) {
	client := newMockOpenAIClient(t)
	c := newTestChatAI(t, client)
	c.InitialiseChannelHistory(
		"c1",
		[]MemoryItem{userTurn("bob", "morning"), botTurn("morning bob")},
	)

	_, err := c.GetResponse(context.Background(), "c1", "what's for lunch", "Jane")
	require.NoError(t, err)

	requests := client.Requests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0].Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, requests[0].Messages[0].Role)
	assert.Equal(
		t,
		"bob: morning\ndiscochat: morning bob\nJane: what's for lunch\ndiscochat",
		requests[0].Messages[1].Content,
	)
}

func TestChatAI_GetResponse_StripsBotName(t *testing.T) {
	testCases := []struct {
		name     string
		reply    string
		expected string
	}{
		{"prefixed", "discochat: sure thing", "sure thing"},
		{"case insensitive", "  DiscoChat :  sure thing", "sure thing"},
		{"name elsewhere", "I'm discochat: hi", "I'm discochat: hi"},
		{"no prefix", "sure thing", "sure thing"},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				client := newMockOpenAIClient(t)
				client.setReplies(tc.reply)
				c := newTestChatAI(t, client)

				response, err := c.GetResponse(context.Background(), "c1", "hi", "bob")
				require.NoError(t, err)
				assert.Equal(t, tc.expected, response)
			},
		)
	}
}

func TestChatAI_GetResponse_RetriesEmpty(t *testing.T) {
	client := newMockOpenAIClient(t)
	client.setReplies("", "discochat:   ", "finally")
	c := newTestChatAI(t, client, withUncondensed)

	response, err := c.GetResponse(context.Background(), "c1", "hi", "bob")
	require.NoError(t, err)
	assert.Equal(t, "finally", response)

	requests := client.Requests()
	assert.Len(t, requests, 3)
	for _, req := range requests {
		// the user turn is only added once
		assert.Len(t, req.Messages, 2)
	}

	messages, _ := c.ChannelMessages("c1", false)
	assert.Len(t, messages, 3)
}

func TestChatAI_GetResponse_Fallback(t *testing.T) {
	testCases := []struct {
		name        string
		maxAttempts int
		expected    int
	}{
		{"default attempts", 0, DefaultChatMaxAttempts},
		{"configured attempts", 2, 2},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				client := newMockOpenAIClient(t)
				client.defaultReply = ""
				opts := []func(*ChatAIConfig){withUncondensed}
				if tc.maxAttempts > 0 {
					opts = append(
						opts, func(c *ChatAIConfig) {
							c.Chat.MaxAttempts = tc.maxAttempts
						},
					)
				}
				c := newTestChatAI(t, client, opts...)
				c.metrics = newMetrics()

				response, err := c.GetResponse(context.Background(), "c1", "hi", "bob")
				require.NoError(t, err)
				assert.Equal(t, FallbackResponse, response)
				assert.Len(t, client.Requests(), tc.expected)

				messages, _ := c.ChannelMessages("c1", false)
				require.Len(t, messages, 3)
				assert.Equal(t, "hi", messages[1].Content)
				assert.Equal(t, FallbackResponse, messages[2].Content)
				assert.Equal(t, openai.ChatMessageRoleAssistant, messages[2].Role)
			},
		)
	}
}

func TestChatAI_GetResponse_Error(t *testing.T) {
	client := newMockOpenAIClient(t)
	transportErr := errors.New("connection reset")
	client.setErr(transportErr)
	c := newTestChatAI(t, client, withUncondensed)

	response, err := c.GetResponse(context.Background(), "c1", "hi", "bob")
	require.Error(t, err)
	assert.Empty(t, response)
	assert.ErrorIs(t, err, ErrGenerateResponse)
	assert.ErrorIs(t, err, transportErr)

	// a failed request isn't retried
	assert.Len(t, client.Requests(), 1)

	// the user turn stays, but there's no assistant turn
	messages, _ := c.ChannelMessages("c1", false)
	require.Len(t, messages, 2)
	assert.Equal(t, openai.ChatMessageRoleUser, messages[1].Role)
}

func TestChatAI_GetResponse_Debug(t *testing.T) {
	client := newMockOpenAIClient(t)
	client.setReplies("hi bob")
	c := newTestChatAI(
		t, client, withUncondensed, func(c *ChatAIConfig) {
			c.Debug = true
		},
	)

	response, err := c.GetResponse(context.Background(), "c1", "hi", "bob")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG: hi bob", response)

	// memory doesn't include the prefix
	messages, _ := c.ChannelMessages("c1", false)
	assert.Equal(t, "hi bob", messages[len(messages)-1].Content)
}

func TestChatAI_HistoryLength(t *testing.T) {
	client := newMockOpenAIClient(t)
	c := newTestChatAI(
		t, client, withUncondensed, func(c *ChatAIConfig) {
			c.Chat.HistoryLength = 4
		},
	)

	ctx := context.Background()
	for i := range 10 {
		_, err := c.GetResponse(ctx, "c1", fmt.Sprintf("message %d", i), "bob")
		require.NoError(t, err)
	}

	messages, _ := c.ChannelMessages("c1", false)
	// system prompt + 4 turns
	require.Len(t, messages, 5)
	assert.Equal(t, "message 8", messages[1].Content)
	assert.Equal(t, "message 9", messages[3].Content)
	assert.Equal(t, []ChannelSummary{{ChannelID: "c1", Turns: 4}}, c.Channels())
}

func TestChatAI_ObserveMessage(t *testing.T) {
	client := newMockOpenAIClient(t)
	c := newTestChatAI(t, client, withUncondensed)

	assert.False(t, c.HasChannel("c1"))
	c.ObserveMessage("c1", "just chatting", "bob")
	assert.True(t, c.HasChannel("c1"))
	assert.Empty(t, client.Requests())

	messages, ok := c.ChannelMessages("c1", false)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "just chatting", messages[1].Content)
	assert.Equal(t, "bob", messages[1].Name)
}

func TestChatAI_SystemPrompt(t *testing.T) {
	testCases := []struct {
		name          string
		reset         bool
		prompt        string
		expectedText  string
		expectedTurns int
	}{
		{
			name:          "reset history",
			reset:         true,
			prompt:        "You are {bot_name}, a pirate.",
			expectedText:  "You are discochat, a pirate.",
			expectedTurns: 0,
		},
		{
			name:          "keep history",
			reset:         false,
			prompt:        "Talk like {bot_name}.",
			expectedText:  "Talk like discochat.",
			expectedTurns: 2,
		},
		{
			name:          "empty restores default",
			reset:         false,
			prompt:        "  ",
			expectedText:  strings.ReplaceAll(DefaultSystemPrompt, botNamePlaceholder, "discochat"),
			expectedTurns: 2,
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				c := newTestChatAI(
					t, newMockOpenAIClient(t), withUncondensed, func(c *ChatAIConfig) {
						c.Chat.ResetOnSystemPrompt = tc.reset
					},
				)
				c.InitialiseChannelHistory("c1", []MemoryItem{userTurn("bob", "hi"), botTurn("hey")})

				c.SetSystemPrompt(tc.prompt)

				messages, ok := c.ChannelMessages("c1", false)
				require.True(t, ok)
				require.Len(t, messages, tc.expectedTurns+1)
				assert.Equal(t, tc.expectedText, messages[0].Content)
				assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)

				// new channels get the new prompt too
				c.ObserveMessage("c2", "hi", "bob")
				messages, _ = c.ChannelMessages("c2", false)
				assert.Equal(t, tc.expectedText, messages[0].Content)
			},
		)
	}
}

func TestChatAI_DefaultSystemPrompt(t *testing.T) {
	c := newTestChatAI(t, newMockOpenAIClient(t))
	assert.Equal(t, DefaultSystemPrompt, c.SystemPrompt())
	assert.Equal(t, "discochat", c.BotName())

	c.ObserveMessage("c1", "hi", "bob")
	messages, _ := c.ChannelMessages("c1", true)
	assert.Contains(t, messages[0].Content, "Your name is discochat.")
	assert.NotContains(t, messages[0].Content, botNamePlaceholder)
}

func TestChatAI_ClearHistory(t *testing.T) {
	c := newTestChatAI(t, newMockOpenAIClient(t))
	for _, id := range []string{"c3", "c1", "c2"} {
		c.ObserveMessage(id, "hi", "bob")
	}
	assert.Equal(
		t,
		[]ChannelSummary{
			{ChannelID: "c1", Turns: 1},
			{ChannelID: "c2", Turns: 1},
			{ChannelID: "c3", Turns: 1},
		},
		c.Channels(),
	)

	c.ClearHistory("c1", "c2")
	assert.Equal(
		t,
		[]ChannelSummary{
			{ChannelID: "c1", Turns: 0},
			{ChannelID: "c2", Turns: 0},
			{ChannelID: "c3", Turns: 1},
		},
		c.Channels(),
	)

	// clearing a channel that doesn't exist yet gives it empty memory
	c.ClearHistory("c4")
	assert.True(t, c.HasChannel("c4"))

	c.ClearHistory()
	assert.Empty(t, c.Channels())
	_, ok := c.ChannelMessages("c3", false)
	assert.False(t, ok)
}

func TestChatAI_InitialiseChannelHistory(t *testing.T) {
	c := newTestChatAI(
		t, newMockOpenAIClient(t), func(c *ChatAIConfig) {
			c.Chat.HistoryLength = 2
		},
	)
	c.ObserveMessage("c1", "old", "bob")

	c.InitialiseChannelHistory(
		"c1",
		[]MemoryItem{userTurn("a", "1"), userTurn("b", "2"), botTurn("3")},
	)
	messages, _ := c.ChannelMessages("c1", false)
	require.Len(t, messages, 3)
	assert.Equal(t, "2", messages[1].Content)
	assert.Equal(t, "3", messages[2].Content)
}

func TestChatAI_SameChannelSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	client := completerFunc(
		func(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				current := maxInFlight.Load()
				if n <= current || maxInFlight.CompareAndSwap(current, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return newChatCompletionResponse("ok"), nil
		},
	)
	c := newTestChatAI(
		t, client, withUncondensed, func(c *ChatAIConfig) {
			c.Chat.HistoryLength = 100
		},
	)

	wg := sync.WaitGroup{}
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetResponse(context.Background(), "c1", fmt.Sprintf("m%d", i), "bob")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())

	// every user turn is followed by its own response
	messages, _ := c.ChannelMessages("c1", false)
	require.Len(t, messages, 21)
	for i := 1; i < len(messages); i += 2 {
		assert.Equal(t, openai.ChatMessageRoleUser, messages[i].Role)
		assert.Equal(t, openai.ChatMessageRoleAssistant, messages[i+1].Role)
	}
}

func TestChatAI_ChannelsRunConcurrently(t *testing.T) {
	// each request waits until both channels have a request in flight,
	// which only happens if they aren't serialized
	barrier := sync.WaitGroup{}
	barrier.Add(2)
	bothStarted := make(chan struct{})
	go func() {
		barrier.Wait()
		close(bothStarted)
	}()

	client := completerFunc(
		func(ctx context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			barrier.Done()
			select {
			case <-bothStarted:
				return newChatCompletionResponse("reply for " + contextChannelID(ctx)), nil
			case <-time.After(5 * time.Second):
				return openai.ChatCompletionResponse{}, errors.New("timed out waiting for other channel")
			}
		},
	)
	c := newTestChatAI(t, client)

	results := make(chan string, 2)
	for _, id := range []string{"c1", "c2"} {
		go func() {
			response, err := c.GetResponse(context.Background(), id, "hi", "bob")
			assert.NoError(t, err)
			results <- response
		}()
	}

	var responses []string
	for range 2 {
		responses = append(responses, <-results)
	}
	assert.ElementsMatch(t, []string{"reply for c1", "reply for c2"}, responses)
}

func TestChatAI_ClearDuringResponse(t *testing.T) {
	client := newMockOpenAIClient(t)
	client.started = make(chan string, 1)
	client.block = make(chan struct{})
	c := newTestChatAI(t, client, withUncondensed)

	done := make(chan error, 1)
	go func() {
		_, err := c.GetResponse(context.Background(), "c1", "hi", "bob")
		done <- err
	}()

	<-client.started
	c.ClearHistory("c1")
	close(client.block)
	require.NoError(t, <-done)

	// the in-flight turn finished against the memory it started with
	messages, ok := c.ChannelMessages("c1", false)
	require.True(t, ok)
	assert.Len(t, messages, 1)
}

func TestChatAI_SetSystemPromptDuringResponse(t *testing.T) {
	client := newMockOpenAIClient(t)
	client.started = make(chan string, 1)
	client.block = make(chan struct{})
	client.setReplies("late")
	c := newTestChatAI(t, client, withUncondensed)
	require.True(t, c.config.Chat.ResetOnSystemPrompt)

	done := make(chan error, 1)
	go func() {
		_, err := c.GetResponse(context.Background(), "c1", "hi", "bob")
		done <- err
	}()

	<-client.started
	c.SetSystemPrompt("X")
	close(client.block)
	require.NoError(t, <-done)

	// the reply to a turn from before the reset isn't kept
	messages, ok := c.ChannelMessages("c1", false)
	require.True(t, ok)
	assert.Equal(
		t,
		[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: "X"}},
		messages,
	)
}
