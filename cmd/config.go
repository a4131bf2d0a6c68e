package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML, with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := redactedConfigYAML()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	},
}

// configView mirrors the configuration for display. Log levels are
// shown by name and tokens are redacted.
type configView struct {
	BotName               string `yaml:"bot_name"`
	Debug                 bool   `yaml:"debug"`
	Database              string `yaml:"database"`
	DatabaseType          string `yaml:"database_type"`
	DatabaseLogLevel      string `yaml:"database_log_level"`
	DatabaseSlowThreshold string `yaml:"database_slow_threshold"`
	LogLevel              string `yaml:"log_level"`
	StartupTimeout        string `yaml:"startup_timeout"`
	ShutdownTimeout       string `yaml:"shutdown_timeout"`

	Chat struct {
		HistoryLength          int    `yaml:"history_length"`
		Condense               bool   `yaml:"condense"`
		SystemPrompt           string `yaml:"system_prompt"`
		ResetOnSystemPrompt    bool   `yaml:"reset_on_system_prompt"`
		MaxAttempts            int    `yaml:"max_attempts"`
		BackfillOnFirstMessage bool   `yaml:"backfill_on_first_message"`
		BackfillLimit          int    `yaml:"backfill_limit"`
		WorkerIdleTimeout      string `yaml:"worker_idle_timeout"`
		WorkerInboxSize        int    `yaml:"worker_inbox_size"`
		LogLevel               string `yaml:"log_level"`
	} `yaml:"chat"`

	OpenAI struct {
		Token          string  `yaml:"token"`
		BaseURL        string  `yaml:"base_url,omitempty"`
		Model          string  `yaml:"model"`
		SkipModelCheck bool    `yaml:"skip_model_check"`
		RequestTimeout string  `yaml:"request_timeout"`
		LogLevel       string  `yaml:"log_level"`
		Temperature    float32 `yaml:"temperature"`
		TopP           float32 `yaml:"top_p"`
		FrequencyPen   float32 `yaml:"frequency_penalty"`
		PresencePen    float32 `yaml:"presence_penalty"`
		MaxTokens      int     `yaml:"max_tokens"`
	} `yaml:"openai"`

	Discord struct {
		Token             string `yaml:"token"`
		ApplicationID     string `yaml:"application_id"`
		GuildID           string `yaml:"guild_id"`
		RegisterCommands  bool   `yaml:"register_commands"`
		StartupMessage    string `yaml:"startup_message"`
		GatewayIntents    int    `yaml:"gateway_intents"`
		LogLevel          string `yaml:"log_level"`
		DiscordGoLogLevel string `yaml:"discordgo_log_level"`
	} `yaml:"discord"`

	API struct {
		Enabled       bool     `yaml:"enabled"`
		Listen        string   `yaml:"listen"`
		ListenNetwork string   `yaml:"listen_network"`
		Development   bool     `yaml:"development"`
		SSLCert       string   `yaml:"ssl_cert,omitempty"`
		SSLKey        string   `yaml:"ssl_key,omitempty"`
		LogLevel      string   `yaml:"log_level"`
		AllowOrigins  []string `yaml:"cors_allow_origins,omitempty"`
	} `yaml:"api"`
}

func levelName(v *slog.LevelVar) string {
	if v == nil {
		return ""
	}
	return v.Level().String()
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

func redactedConfigYAML() (string, error) {
	var v configView
	v.BotName = cfg.BotName
	v.Debug = cfg.Debug
	v.Database = cfg.Database
	v.DatabaseType = cfg.DatabaseType
	v.DatabaseLogLevel = levelName(cfg.DatabaseLogLevel)
	v.DatabaseSlowThreshold = cfg.DatabaseSlowThreshold.String()
	v.LogLevel = levelName(cfg.LogLevel)
	v.StartupTimeout = cfg.StartupTimeout.String()
	v.ShutdownTimeout = cfg.ShutdownTimeout.String()

	if c := cfg.Chat; c != nil {
		v.Chat.HistoryLength = c.HistoryLength
		v.Chat.Condense = c.Condense
		v.Chat.SystemPrompt = c.SystemPrompt
		v.Chat.ResetOnSystemPrompt = c.ResetOnSystemPrompt
		v.Chat.MaxAttempts = c.MaxAttempts
		v.Chat.BackfillOnFirstMessage = c.BackfillOnFirstMessage
		v.Chat.BackfillLimit = c.BackfillLimit
		v.Chat.WorkerIdleTimeout = c.WorkerIdleTimeout.String()
		v.Chat.WorkerInboxSize = c.WorkerInboxSize
		v.Chat.LogLevel = levelName(c.LogLevel)
	}
	if o := cfg.OpenAI; o != nil {
		v.OpenAI.Token = redact(o.Token)
		v.OpenAI.BaseURL = o.BaseURL
		v.OpenAI.Model = o.Model
		v.OpenAI.SkipModelCheck = o.SkipModelCheck
		v.OpenAI.RequestTimeout = o.RequestTimeout.String()
		v.OpenAI.LogLevel = levelName(o.LogLevel)
		v.OpenAI.Temperature = o.Parameters.Temperature
		v.OpenAI.TopP = o.Parameters.TopP
		v.OpenAI.FrequencyPen = o.Parameters.FrequencyPenalty
		v.OpenAI.PresencePen = o.Parameters.PresencePenalty
		v.OpenAI.MaxTokens = o.Parameters.MaxTokens
	}
	if d := cfg.Discord; d != nil {
		v.Discord.Token = redact(d.Token)
		v.Discord.ApplicationID = d.ApplicationID
		v.Discord.GuildID = d.GuildID
		v.Discord.RegisterCommands = d.RegisterCommands
		v.Discord.StartupMessage = d.StartupMessage
		v.Discord.GatewayIntents = int(d.GatewayIntents)
		v.Discord.LogLevel = levelName(d.LogLevel)
		v.Discord.DiscordGoLogLevel = levelName(d.DiscordGoLogLevel)
	}
	if a := cfg.API; a != nil {
		v.API.Enabled = a.Enabled
		v.API.Listen = a.Listen
		v.API.ListenNetwork = a.ListenNetwork
		v.API.Development = a.Development
		v.API.SSLCert = a.SSL.Cert
		v.API.SSLKey = a.SSL.Key
		v.API.LogLevel = levelName(a.LogLevel)
		v.API.AllowOrigins = a.CORS.AllowOrigins
	}

	b, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("error marshaling config: %w", err)
	}
	return string(b), nil
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(configCmd)
}
