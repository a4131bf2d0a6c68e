package discochat

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiRequest sends a request to the bot's API handler. body is encoded
// as JSON unless it's a string, which is sent as-is. If token is set,
// it's sent as a bearer token.
func apiRequest(
	t testing.TB,
	bot *DiscoChat,
	method string,
	path string,
	body any,
	token string,
) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", bearerPrefix+token)
	}
	rec := httptest.NewRecorder()
	bot.api.engine.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_HealthCheck(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	bot.chat.ObserveMessage("c1", "hi", "bob")
	bot.discord.connected.Store(true)

	rec := apiRequest(t, bot, http.MethodGet, apiHealthCheck, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	health := decodeResponse[healthCheckResponse](t, rec)
	assert.Equal(
		t,
		healthCheckResponse{
			Channels:                1,
			DiscordGatewayConnected: true,
			Version:                 Version,
		},
		health,
	)
}

func TestAPI_Auth(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	path := apiPrefix + apiPathConfig

	testCases := []struct {
		name     string
		header   string
		expected int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong token", bearerPrefix + "nope", http.StatusUnauthorized},
		{"empty token", bearerPrefix, http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testAPIToken, http.StatusUnauthorized},
		{"valid", bearerPrefix + testAPIToken, http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodGet, path, nil)
				if tc.header != "" {
					req.Header.Set("Authorization", tc.header)
				}
				rec := httptest.NewRecorder()
				bot.api.engine.ServeHTTP(rec, req)
				assert.Equal(t, tc.expected, rec.Code)
			},
		)
	}

	t.Run(
		"token not set", func(t *testing.T) {
			bot.cfgMu.Lock()
			bot.runtimeConfig.APITokenHash = ""
			bot.cfgMu.Unlock()

			rec := apiRequest(t, bot, http.MethodGet, path, nil, testAPIToken)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		},
	)
}

func TestAPI_Config(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	path := apiPrefix + apiPathConfig

	rec := apiRequest(t, bot, http.MethodGet, path, nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "api_token_hash")
	assert.NotContains(t, rec.Body.String(), "argon2id")

	rc := decodeResponse[RuntimeConfig](t, rec)
	assert.Equal(t, DefaultReplyChance, rc.ReplyChance)

	testCases := []struct {
		name     string
		body     any
		expected int
	}{
		{"empty update", map[string]any{}, http.StatusBadRequest},
		{"invalid json", "{not json", http.StatusBadRequest},
		{"reply chance out of range", map[string]any{"reply_chance": 5}, http.StatusBadRequest},
		{"invalid log level", map[string]any{"log_level": "LOUD"}, http.StatusBadRequest},
		{
			"valid",
			map[string]any{"reply_chance": 0.5, "read_all_messages": true, "chat_log_level": "DEBUG"},
			http.StatusOK,
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				rec := apiRequest(t, bot, http.MethodPatch, path, tc.body, testAPIToken)
				assert.Equal(t, tc.expected, rec.Code, rec.Body.String())
			},
		)
	}

	updated := bot.RuntimeConfig()
	assert.Equal(t, 0.5, updated.ReplyChance)
	assert.True(t, updated.ReadAllMessages)
	assert.Equal(t, DBLogLevelDebug, updated.ChatLogLevel)
}

func TestAPI_SystemPrompt(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	path := apiPrefix + apiPathSystemPrompt
	bot.chat.ObserveMessage("c1", "hi", "bob")

	rec := apiRequest(
		t, bot, http.MethodPut, path,
		systemPromptPayload{SystemPrompt: "You are {bot_name}."},
		testAPIToken,
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(
		t,
		systemPromptPayload{SystemPrompt: "You are {bot_name}."},
		decodeResponse[systemPromptPayload](t, rec),
	)
	assert.Equal(t, "You are {bot_name}.", bot.RuntimeConfig().SystemPrompt)

	messages, ok := bot.chat.ChannelMessages("c1", false)
	require.True(t, ok)
	assert.Equal(
		t,
		[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: "You are discochat."}},
		messages,
	)

	rec = apiRequest(t, bot, http.MethodPut, path, systemPromptPayload{}, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultSystemPrompt, decodeResponse[systemPromptPayload](t, rec).SystemPrompt)

	rec = apiRequest(t, bot, http.MethodPut, path, "nope", testAPIToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Clear(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	path := apiPrefix + apiPathClear
	for _, id := range []string{"c1", "c2", "c3"} {
		bot.chat.ObserveMessage(id, "hi", "bob")
	}

	rec := apiRequest(t, bot, http.MethodPost, path, clearPayload{ChannelIDs: []string{"c1"}}, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cleared 1 channel(s)", decodeResponse[httpReply](t, rec).Message)
	assert.Equal(
		t,
		[]ChannelSummary{{"c1", 0}, {"c2", 1}, {"c3", 1}},
		bot.chat.Channels(),
	)

	rec = apiRequest(t, bot, http.MethodPost, path, nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cleared all channels", decodeResponse[httpReply](t, rec).Message)
	assert.Empty(t, bot.chat.Channels())
}

func TestAPI_Channels(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	bot.chat.ObserveMessage("c2", "hello", "bob")
	bot.chat.ObserveMessage("c1", "hi", "Jane Doe")
	bot.chat.ObserveMessage("c1", "hey", "bob")

	rec := apiRequest(t, bot, http.MethodGet, apiPrefix+apiPathChannels, nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(
		t,
		[]ChannelSummary{{"c1", 2}, {"c2", 1}},
		decodeResponse[[]ChannelSummary](t, rec),
	)

	t.Run(
		"condensed", func(t *testing.T) {
			rec := apiRequest(t, bot, http.MethodGet, apiPrefix+"/channels/c1", nil, testAPIToken)
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decodeResponse[channelResponse](t, rec)
			assert.Equal(t, "c1", resp.ChannelID)
			require.Len(t, resp.Messages, 2)
			assert.Equal(t, "Jane Doe: hi\nbob: hey\ndiscochat", resp.Messages[1].Content)
		},
	)

	t.Run(
		"uncondensed", func(t *testing.T) {
			rec := apiRequest(
				t, bot, http.MethodGet, apiPrefix+"/channels/c1?condense=false", nil, testAPIToken,
			)
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decodeResponse[channelResponse](t, rec)
			require.Len(t, resp.Messages, 3)
			assert.Equal(t, "Jane_Doe", resp.Messages[1].Name)
		},
	)

	t.Run(
		"invalid query", func(t *testing.T) {
			rec := apiRequest(
				t, bot, http.MethodGet, apiPrefix+"/channels/c1?condense=maybe", nil, testAPIToken,
			)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		},
	)

	t.Run(
		"not found", func(t *testing.T) {
			rec := apiRequest(t, bot, http.MethodGet, apiPrefix+"/channels/nope", nil, testAPIToken)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		},
	)
}

func TestAPI_ChannelChat(t *testing.T) {
	bot, client, session := newTestDiscoChat(t)
	path := apiPrefix + "/channels/c1/chat"
	client.setReplies("discochat: howdy")

	rec := apiRequest(t, bot, http.MethodPost, path, chatPayload{Text: " hi ", Username: "bob"}, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, chatResponse{Response: "howdy"}, decodeResponse[chatResponse](t, rec))

	messages, ok := bot.chat.ChannelMessages("c1", false)
	require.True(t, ok)
	require.Len(t, messages, 3)
	assert.Equal(t, "hi", messages[1].Content)

	// nothing is sent to discord
	assert.Empty(t, session.sent)

	t.Run(
		"missing username", func(t *testing.T) {
			rec := apiRequest(t, bot, http.MethodPost, path, chatPayload{Text: "hi"}, testAPIToken)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		},
	)

	t.Run(
		"completion error", func(t *testing.T) {
			client.setErr(errors.New("boom"))
			t.Cleanup(func() { client.setErr(nil) })

			rec := apiRequest(t, bot, http.MethodPost, path, chatPayload{Text: "hi", Username: "bob"}, testAPIToken)
			assert.Equal(t, http.StatusBadGateway, rec.Code)
			assert.Contains(t, decodeResponse[httpError](t, rec).Error, "boom")
		},
	)
}

func TestAPI_ChannelHistory(t *testing.T) {
	bot, _, session := newTestDiscoChat(t)
	path := apiPrefix + "/channels/c1/history"
	session.addHistory(
		"c1",
		newTestDiscordMessage("m1", "one", testAuthor),
		newTestDiscordMessage("m2", "two", testAuthor),
		newTestDiscordMessage("m3", "three", testAuthor),
	)

	rec := apiRequest(t, bot, http.MethodPost, path, loadHistoryPayload{Count: 2}, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(
		t,
		loadHistoryResponse{ChannelID: "c1", Loaded: 2},
		decodeResponse[loadHistoryResponse](t, rec),
	)

	rec = apiRequest(t, bot, http.MethodPost, path, nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decodeResponse[loadHistoryResponse](t, rec).Loaded)

	rec = apiRequest(t, bot, http.MethodPost, path, loadHistoryPayload{Count: 500}, testAPIToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	session.channelMessagesErr = errors.New("missing access")
	rec = apiRequest(t, bot, http.MethodPost, path, nil, testAPIToken)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPI_Completions(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	ctx := testContext(t)
	for _, channelID := range []string{"c1", "c2", "c1"} {
		_, err := bot.chat.GetResponse(ctx, channelID, "hi", "bob")
		require.NoError(t, err)
	}
	path := apiPrefix + apiPathCompletions

	rec := apiRequest(t, bot, http.MethodGet, path, nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeResponse[[]ChatCompletionLog](t, rec)
	require.Len(t, logs, 3)
	assert.GreaterOrEqual(t, logs[0].CreatedAt, logs[2].CreatedAt)

	rec = apiRequest(t, bot, http.MethodGet, path+"?channel_id=c1&order=asc&limit=1", nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	logs = decodeResponse[[]ChatCompletionLog](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, "c1", logs[0].ChannelID)

	rec = apiRequest(t, bot, http.MethodGet, path+"?start_date=2000-01-01&end_date=2000-01-02", nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeResponse[[]ChatCompletionLog](t, rec))

	for _, query := range []string{"?order=sideways", "?limit=1000", "?start_date=yesterday"} {
		rec = apiRequest(t, bot, http.MethodGet, path+query, nil, testAPIToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestAPI_PruneCompletions(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	ctx := testContext(t)
	for _, channelID := range []string{"c1", "c2", "c1"} {
		_, err := bot.chat.GetResponse(ctx, channelID, "hi", "bob")
		require.NoError(t, err)
	}
	path := apiPrefix + apiPathCompletions
	tomorrow := time.Now().UTC().Add(24 * time.Hour).Format(time.DateOnly)

	testCases := []struct {
		name      string
		query     string
		status    int
		deleted   int64
		remaining int
	}{
		{"missing before", "", http.StatusBadRequest, 0, 3},
		{"invalid before", "?before=yesterday", http.StatusBadRequest, 0, 3},
		{"nothing older", "?before=2000-01-01", http.StatusOK, 0, 3},
		{"one channel", "?before=" + tomorrow + "&channel_id=c1", http.StatusOK, 2, 1},
		{"everything", "?before=" + tomorrow, http.StatusOK, 1, 0},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				rec := apiRequest(t, bot, http.MethodDelete, path+tc.query, nil, testAPIToken)
				require.Equal(t, tc.status, rec.Code, rec.Body.String())
				if tc.status == http.StatusOK {
					assert.Equal(
						t,
						tc.deleted,
						decodeResponse[pruneCompletionsResponse](t, rec).Deleted,
					)
				}

				rec = apiRequest(t, bot, http.MethodGet, path, nil, testAPIToken)
				require.Equal(t, http.StatusOK, rec.Code)
				assert.Len(t, decodeResponse[[]ChatCompletionLog](t, rec), tc.remaining)
			},
		)
	}

	rec := apiRequest(t, bot, http.MethodDelete, path+"?before="+tomorrow, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_Commands(t *testing.T) {
	bot, _, session := newTestDiscoChat(t)
	ctx := testContext(t)

	bot.handleInteraction(ctx, newTestInteraction("i1", "c1", DiscordSlashCommandClear))
	session.waitForInteractionEdit(t)
	bot.handleInteraction(ctx, newTestInteraction("i2", "c2", DiscordSlashCommandClearAll))
	session.waitForInteractionEdit(t)

	path := apiPrefix + apiPathCommands
	rec := apiRequest(t, bot, http.MethodGet, path, nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResponse[[]CommandLog](t, rec), 2)

	rec = apiRequest(t, bot, http.MethodGet, path+"?command_name=clear_all", nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	commands := decodeResponse[[]CommandLog](t, rec)
	require.Len(t, commands, 1)
	assert.Equal(t, "i2", commands[0].InteractionID)
	assert.Equal(t, commandStateCompleted, commands[0].State)

	rec = apiRequest(t, bot, http.MethodGet, path+"?channel_id=c1", nil, testAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResponse[[]CommandLog](t, rec), 1)
}

func TestAPI_PauseResume(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)

	testCases := []struct {
		path     string
		expected int
		paused   bool
	}{
		{apiPathResume, http.StatusConflict, false},
		{apiPathPause, http.StatusOK, true},
		{apiPathPause, http.StatusConflict, true},
		{apiPathResume, http.StatusOK, false},
	}
	for _, tc := range testCases {
		rec := apiRequest(t, bot, http.MethodPost, apiPrefix+tc.path, nil, testAPIToken)
		assert.Equal(t, tc.expected, rec.Code, tc.path)
		assert.Equal(t, tc.paused, bot.Paused(), tc.path)
	}
}

func TestAPI_Quit(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	bot.signalStop = make(chan struct{}, 1)

	rec := apiRequest(t, bot, http.MethodPost, apiPrefix+apiPathQuit, nil, testAPIToken)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-bot.signalStop:
	default:
		t.Fatal("expected a stop signal")
	}
}

func TestAPI_RegisterCommands(t *testing.T) {
	bot, _, session := newTestDiscoChat(t)

	rec := apiRequest(t, bot, http.MethodPost, apiPrefix+apiPathRegisterCommands, nil, testAPIToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeResponse[[]*discordgo.ApplicationCommand](t, rec)
	assert.Len(t, created, len(bot.discord.slashCommands()))
	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Len(t, session.commands, len(created))
}

func TestAPI_Metrics(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	apiRequest(t, bot, http.MethodGet, apiHealthCheck, nil, "")

	rec := apiRequest(t, bot, http.MethodGet, apiMetrics, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(
		t,
		rec.Body.String(),
		`discochat_api_requests_total{method="GET",route="/healthz",status="200"} 1`,
	)
}

func TestAPI_NotFound(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)
	rec := apiRequest(t, bot, http.MethodGet, "/nope", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httpError{Error: "not found"}, decodeResponse[httpError](t, rec))
}

func TestAPI_RequestID(t *testing.T) {
	bot, _, _ := newTestDiscoChat(t)

	rec := apiRequest(t, bot, http.MethodGet, apiHealthCheck, nil, "")
	_, err := uuid.Parse(rec.Header().Get(xRequestIDHeader))
	require.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	req.Header.Set(xRequestIDHeader, id)
	rec = httptest.NewRecorder()
	bot.api.engine.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(xRequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	req.Header.Set(xRequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	bot.api.engine.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(xRequestIDHeader))
}
