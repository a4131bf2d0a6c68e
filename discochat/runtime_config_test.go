package discochat

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuntimeConfig(t *testing.T) {
	rc := DefaultRuntimeConfig(nil)
	assert.Equal(t, DefaultReplyChance, rc.ReplyChance)
	assert.Equal(t, DefaultDiscordCustomStatus, rc.DiscordCustomStatus)
	assert.Equal(t, DefaultOpenAIMaxRequestsPerSecond, rc.OpenAIMaxRequestsPerSecond)
	assert.False(t, rc.Paused)
	assert.False(t, rc.ReadAllMessages)
	assert.Empty(t, rc.SystemPrompt)
	require.NoError(t, structValidator.Struct(rc))

	cfg := DefaultConfig()
	cfg.Chat.SystemPrompt = "Be nice."
	cfg.LogLevel.Set(slog.LevelDebug)
	cfg.Discord.DiscordGoLogLevel.Set(slog.LevelError)
	cfg.API.LogLevel.Set(slog.LevelWarn)

	rc = DefaultRuntimeConfig(cfg)
	assert.Equal(t, "Be nice.", rc.SystemPrompt)
	assert.Equal(t, DBLogLevelDebug, rc.LogLevel)
	assert.Equal(t, DBLogLevelError, rc.DiscordGoLogLevel)
	assert.Equal(t, DBLogLevelWarn, rc.APILogLevel)
	assert.Equal(t, NewDBLogLevel(DefaultChatLogLevel), rc.ChatLogLevel)
}

func TestLoadOrCreateRuntimeConfig(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase(gormDB(t), nil, false)
	cfg := DefaultTestConfig(t)

	rc, created, err := loadOrCreateRuntimeConfig(ctx, db, cfg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, rc.ID)

	again, created, err := loadOrCreateRuntimeConfig(ctx, db, cfg)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rc.ID, again.ID)

	var count int64
	require.NoError(t, db.DB().Model(&RuntimeConfig{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyRuntimeConfigUpdate(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase(gormDB(t), nil, false)
	rc, _, err := loadOrCreateRuntimeConfig(ctx, db, DefaultTestConfig(t))
	require.NoError(t, err)

	testCases := []struct {
		name    string
		update  RuntimeConfigUpdate
		check   func(t *testing.T, updated RuntimeConfig)
		wantErr error
		invalid bool
	}{
		{
			name:    "empty",
			update:  RuntimeConfigUpdate{},
			wantErr: errNoRuntimeConfigUpdates,
		},
		{
			name:    "reply chance too high",
			update:  RuntimeConfigUpdate{ReplyChance: ptr(2.0)},
			invalid: true,
		},
		{
			name:    "invalid log level",
			update:  RuntimeConfigUpdate{LogLevel: ptr(DBLogLevel("LOUD"))},
			invalid: true,
		},
		{
			name:    "request limit too low",
			update:  RuntimeConfigUpdate{OpenAIMaxRequestsPerSecond: ptr(0)},
			invalid: true,
		},
		{
			name: "zero values are applied",
			update: RuntimeConfigUpdate{
				ReplyChance:     ptr(0.0),
				ReadAllMessages: ptr(false),
				SystemPrompt:    ptr(""),
			},
			check: func(t *testing.T, updated RuntimeConfig) {
				assert.Equal(t, 0.0, updated.ReplyChance)
				assert.False(t, updated.ReadAllMessages)
				assert.Empty(t, updated.SystemPrompt)
			},
		},
		{
			name: "several fields",
			update: RuntimeConfigUpdate{
				Paused:                       ptr(true),
				ReadAllMessages:              ptr(true),
				DiscordNotificationChannelID: ptr("c1"),
				OpenAILogLevel:               ptr(DBLogLevelDebug),
			},
			check: func(t *testing.T, updated RuntimeConfig) {
				assert.True(t, updated.Paused)
				assert.True(t, updated.ReadAllMessages)
				assert.Equal(t, "c1", updated.DiscordNotificationChannelID)
				assert.Equal(t, DBLogLevelDebug, updated.OpenAILogLevel)
				assert.Equal(t, rc.ID, updated.ID)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				current, _, err := loadOrCreateRuntimeConfig(ctx, db, nil)
				require.NoError(t, err)

				updated, err := applyRuntimeConfigUpdate(ctx, db, *current, tc.update)
				switch {
				case tc.wantErr != nil:
					require.ErrorIs(t, err, tc.wantErr)
					assert.Equal(t, *current, updated)
				case tc.invalid:
					var validationErrs validator.ValidationErrors
					require.ErrorAs(t, err, &validationErrs)
					assert.Equal(t, *current, updated)
				default:
					require.NoError(t, err)
					tc.check(t, updated)

					stored, _, err := loadOrCreateRuntimeConfig(ctx, db, nil)
					require.NoError(t, err)
					assert.Equal(t, updated, *stored)
				}
			},
		)
	}
}

func TestRuntimeConfigUpdate_Columns(t *testing.T) {
	update := RuntimeConfigUpdate{
		Paused:       ptr(false),
		ReplyChance:  ptr(0.5),
		SystemPrompt: ptr("hi"),
		LogLevel:     ptr(DBLogLevelWarn),
	}
	columns, err := update.columns()
	require.NoError(t, err)
	assert.Equal(
		t,
		map[string]any{
			"paused":        false,
			"reply_chance":  0.5,
			"system_prompt": "hi",
			"log_level":     "WARN",
		},
		columns,
	)

	columns, err = RuntimeConfigUpdate{}.columns()
	require.NoError(t, err)
	assert.Empty(t, columns)
}

func TestSetAPIToken(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase(gormDB(t), nil, false)
	cfg := DefaultTestConfig(t)

	require.Error(t, SetAPIToken(ctx, db, cfg, "", false))

	require.NoError(t, SetAPIToken(ctx, db, cfg, "first", false))
	rc, _, err := loadOrCreateRuntimeConfig(ctx, db, cfg)
	require.NoError(t, err)
	valid, err := VerifyPassword(rc.APITokenHash, "first")
	require.NoError(t, err)
	assert.True(t, valid)

	err = SetAPIToken(ctx, db, cfg, "second", false)
	require.ErrorIs(t, err, ErrAPITokenSet)

	require.NoError(t, SetAPIToken(ctx, db, cfg, "second", true))
	rc, _, err = loadOrCreateRuntimeConfig(ctx, db, cfg)
	require.NoError(t, err)
	valid, err = VerifyPassword(rc.APITokenHash, "first")
	require.NoError(t, err)
	assert.False(t, valid)
	valid, err = VerifyPassword(rc.APITokenHash, "second")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestGetDiscordPresenceStatusUpdate(t *testing.T) {
	rc := DefaultRuntimeConfig(nil)
	rc.DiscordCustomStatus = "chatting"
	assert.Equal(
		t,
		discordgo.GatewayStatusUpdate{Status: "chatting"},
		getDiscordPresenceStatusUpdate(rc),
	)

	rc.Paused = true
	assert.Equal(
		t,
		discordgo.GatewayStatusUpdate{AFK: true, Status: string(discordgo.StatusDoNotDisturb)},
		getDiscordPresenceStatusUpdate(rc),
	)
}
