//nolint:lll // struct tags can't be split
package discochat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

const (
	columnRuntimeConfigPaused       = "paused"
	columnRuntimeConfigAPITokenHash = "api_token_hash"
)

var (
	errNoRuntimeConfigUpdates = errors.New("no updates provided")

	// ErrAPITokenSet is returned by SetAPIToken when a token already exists
	ErrAPITokenSet = errors.New("api token already set")
)

// RuntimeConfig holds settings that can be changed while the bot is
// running, and which persist across restarts. There's a single row.
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused stops the bot from responding to or observing messages.
	// Slash commands still work.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// SystemPrompt is the primary system prompt. Empty uses the default
	// persona.
	SystemPrompt string `json:"system_prompt" gorm:"type:string"`

	// ReplyChance is the probability of responding to a message that
	// neither mentions the bot nor is a DM
	ReplyChance float64 `json:"reply_chance" gorm:"not null;default:0.01" binding:"min=0,max=1"`

	// ReadAllMessages adds messages the bot doesn't respond to into
	// the channel's memory, so it has context when it does respond
	ReadAllMessages bool `json:"read_all_messages" gorm:"not null;default:false"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string" binding:"max=128"`

	// DiscordNotificationChannelID is where the startup message is sent
	DiscordNotificationChannelID string `json:"discord_notification_channel_id" gorm:"type:string"`

	// OpenAIMaxRequestsPerSecond limits chat completion requests
	OpenAIMaxRequestsPerSecond int `gorm:"column:openai_max_requests_per_second;default:1" json:"openai_max_requests_per_second" binding:"min=1"`

	// APITokenHash is the argon2id hash of the admin API bearer token
	APITokenHash string `json:"-" gorm:"type:string" log:"[redacted]"`

	LogLevel          DBLogLevel `gorm:"default:INFO;type:string" json:"log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	OpenAILogLevel    DBLogLevel `gorm:"default:INFO;column:openai_log_level;type:string" json:"openai_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   DBLogLevel `gorm:"default:INFO;type:string" json:"discord_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel DBLogLevel `gorm:"default:WARN;column:discordgo_log_level;type:string" json:"discordgo_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  DBLogLevel `gorm:"default:WARN;type:string" json:"database_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       DBLogLevel `gorm:"default:INFO;type:string" json:"api_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	ChatLogLevel      DBLogLevel `gorm:"default:INFO;type:string" json:"chat_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

// DefaultRuntimeConfig returns the RuntimeConfig used when none exists
// yet. Log levels and the system prompt are seeded from the static config.
func DefaultRuntimeConfig(config *Config) RuntimeConfig {
	rc := RuntimeConfig{
		ReplyChance:                DefaultReplyChance,
		DiscordCustomStatus:        DefaultDiscordCustomStatus,
		OpenAIMaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
		LogLevel:                   NewDBLogLevel(DefaultLogLevel),
		OpenAILogLevel:             NewDBLogLevel(DefaultOpenAILogLevel),
		DiscordLogLevel:            NewDBLogLevel(DefaultDiscordLogLevel),
		DiscordGoLogLevel:          NewDBLogLevel(DefaultDiscordgoLogLevel),
		DatabaseLogLevel:           NewDBLogLevel(DefaultDatabaseLogLevel),
		APILogLevel:                NewDBLogLevel(DefaultAPILogLevel),
		ChatLogLevel:               NewDBLogLevel(DefaultChatLogLevel),
	}
	if config == nil {
		return rc
	}

	if config.Chat != nil {
		rc.SystemPrompt = config.Chat.SystemPrompt
		if config.Chat.LogLevel != nil {
			rc.ChatLogLevel = NewDBLogLevel(config.Chat.LogLevel.Level())
		}
	}
	if config.LogLevel != nil {
		rc.LogLevel = NewDBLogLevel(config.LogLevel.Level())
	}
	if config.DatabaseLogLevel != nil {
		rc.DatabaseLogLevel = NewDBLogLevel(config.DatabaseLogLevel.Level())
	}
	if config.OpenAI != nil && config.OpenAI.LogLevel != nil {
		rc.OpenAILogLevel = NewDBLogLevel(config.OpenAI.LogLevel.Level())
	}
	if config.Discord != nil {
		if config.Discord.LogLevel != nil {
			rc.DiscordLogLevel = NewDBLogLevel(config.Discord.LogLevel.Level())
		}
		if config.Discord.DiscordGoLogLevel != nil {
			rc.DiscordGoLogLevel = NewDBLogLevel(config.Discord.DiscordGoLogLevel.Level())
		}
	}
	if config.API != nil && config.API.LogLevel != nil {
		rc.APILogLevel = NewDBLogLevel(config.API.LogLevel.Level())
	}
	return rc
}

// RuntimeConfigUpdate is the payload for updating RuntimeConfig.
// Only non-nil fields are applied.
type RuntimeConfigUpdate struct {
	Paused                       *bool    `json:"paused,omitempty"`
	SystemPrompt                 *string  `json:"system_prompt,omitempty" binding:"omitnil,max=8000"`
	ReplyChance                  *float64 `json:"reply_chance,omitempty" binding:"omitnil,min=0,max=1"`
	ReadAllMessages              *bool    `json:"read_all_messages,omitempty"`
	DiscordCustomStatus          *string  `json:"discord_custom_status,omitempty" binding:"omitnil,max=128"`
	DiscordNotificationChannelID *string  `json:"discord_notification_channel_id,omitempty"`
	OpenAIMaxRequestsPerSecond   *int     `json:"openai_max_requests_per_second,omitempty" binding:"omitnil,min=1,max=30000"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	OpenAILogLevel    *DBLogLevel `json:"openai_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	ChatLogLevel      *DBLogLevel `json:"chat_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (u RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(u)
}

// columns converts the update into a map of column names to values,
// for gorm's Updates (which would otherwise skip zero values like
// paused=false)
func (u RuntimeConfigUpdate) columns() (map[string]any, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var updates map[string]any
	if err = json.Unmarshal(data, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// loadOrCreateRuntimeConfig returns the most recent RuntimeConfig,
// creating a default one if none exists. The bool is true if it
// was created.
func loadOrCreateRuntimeConfig(
	ctx context.Context,
	db DBI,
	config *Config,
) (*RuntimeConfig, bool, error) {
	var rc RuntimeConfig
	err := db.DB().WithContext(ctx).Last(&rc).Error
	switch {
	case err == nil:
		return &rc, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		rc = DefaultRuntimeConfig(config)
		if _, err = db.Create(ctx, &rc); err != nil {
			return nil, false, fmt.Errorf("error creating config: %w", err)
		}
		return &rc, true, nil
	default:
		return nil, false, fmt.Errorf("error getting config: %w", err)
	}
}

// applyRuntimeConfigUpdate validates and persists the update in a
// transaction, and returns the resulting RuntimeConfig. current is
// not modified.
func applyRuntimeConfigUpdate(
	ctx context.Context,
	db DBI,
	current RuntimeConfig,
	update RuntimeConfigUpdate,
) (RuntimeConfig, error) {
	if err := update.validate(); err != nil {
		return current, err
	}
	columns, err := update.columns()
	if err != nil {
		return current, err
	}
	if len(columns) == 0 {
		return current, errNoRuntimeConfigUpdates
	}

	updated := current
	err = db.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			if e := tx.Model(&updated).Updates(columns).Error; e != nil {
				return e
			}
			if e := tx.Last(&updated).Error; e != nil {
				return e
			}
			return structValidator.Struct(updated)
		},
	)
	if err != nil {
		return current, err
	}
	return updated, nil
}

func getDiscordPresenceStatusUpdate(config RuntimeConfig) discordgo.GatewayStatusUpdate {
	if config.Paused {
		return discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	return discordgo.GatewayStatusUpdate{Status: config.DiscordCustomStatus}
}

// SetAPIToken stores the argon2id hash of token as the admin API token,
// creating the runtime config if it doesn't exist yet. If overwrite is
// false and a token is already set, ErrAPITokenSet is returned.
func SetAPIToken(
	ctx context.Context,
	db DBI,
	config *Config,
	token string,
	overwrite bool,
) error {
	if token == "" {
		return errors.New("token can't be empty")
	}
	rc, _, err := loadOrCreateRuntimeConfig(ctx, db, config)
	if err != nil {
		return err
	}
	if rc.APITokenHash != "" && !overwrite {
		return ErrAPITokenSet
	}
	tokenHash, err := HashPassword(token)
	if err != nil {
		return fmt.Errorf("error hashing token: %w", err)
	}
	_, err = db.Update(ctx, rc, columnRuntimeConfigAPITokenHash, tokenHash)
	return err
}
