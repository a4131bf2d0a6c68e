//nolint:lll // struct tags can't be split
package discochat

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	openai "github.com/sashabaranov/go-openai"
)

const (
	EnvvarSetEnvPrefix       = "DISCOCHAT_ENV_PREFIX"
	DefaultEnvPrefix         = "DC"
	DefaultBotName           = "discochat"
	DefaultDatabaseType      = "sqlite"
	DefaultDatabase          = "discochat.sqlite3"
	DefaultLogLevel          = slog.LevelInfo
	DefaultStartupTimeout    = 30 * time.Second
	DefaultShutdownTimeout   = 60 * time.Second
	DefaultRequestTimeout    = 60 * time.Second
	DefaultChatHistoryLength = 50
	DefaultChatMaxAttempts   = 3
	DefaultChatBackfillLimit = 50
	DefaultChatWorkerIdle    = 10 * time.Minute
	DefaultChatWorkerInbox   = 10
	DefaultReplyChance       = 0.01

	DefaultOpenAIModel                = openai.GPT3Dot5Turbo
	DefaultOpenAIMaxRequestsPerSecond = 1
	DefaultTemperature                = 0.75
	DefaultTopP                       = 0.9
	DefaultFrequencyPenalty           = 0.7
	DefaultPresencePenalty            = 0.4
	DefaultMaxTokens                  = 500

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent  = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentsMessageContent
	DefaultDiscordLogLevel       = slog.LevelInfo
	DefaultDiscordCustomStatus   = "lurking"
	DefaultDiscordStartupMessage = "I'm here!"
	discordMaxMessageLength      = 2000

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelWarn
	DefaultDiscordgoLogLevel       = slog.LevelWarn
	DefaultOpenAILogLevel          = slog.LevelInfo
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultChatLogLevel            = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = false
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// BotName is the name the bot speaks as. It's substituted into the
	// system prompt, used as the final line of condensed transcripts and
	// stripped from the start of responses.
	BotName string `yaml:"bot_name" mapstructure:"bot_name" json:"bot_name" binding:"required"`

	// Debug prefixes every response sent to Discord with 'DEBUG: '
	Debug bool `yaml:"debug" mapstructure:"debug" json:"debug"`

	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	Chat *ChatConfig `yaml:"chat" mapstructure:"chat" json:"chat"`

	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect and start listening. If this is passed, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `yaml:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// ChatConfig configures conversation memory and when the bot speaks
type ChatConfig struct {
	// HistoryLength is the maximum number of turns remembered per channel
	HistoryLength int `yaml:"history_length" mapstructure:"history_length" json:"history_length" binding:"min=1"`

	// Condense folds the history into a single transcript message instead
	// of sending one message per turn
	Condense bool `yaml:"condense" mapstructure:"condense" json:"condense"`

	// SystemPrompt is the initial system prompt. "{bot_name}" is replaced
	// with the bot's name. Empty uses the default persona. Once the bot
	// has run, the prompt stored in RuntimeConfig takes precedence.
	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt" json:"system_prompt"`

	// ResetOnSystemPrompt clears every channel's history when the system
	// prompt changes
	ResetOnSystemPrompt bool `yaml:"reset_on_system_prompt" mapstructure:"reset_on_system_prompt" json:"reset_on_system_prompt"`

	// MaxAttempts is the number of completion requests made for a single
	// message before giving up on empty responses
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts" json:"max_attempts" binding:"min=1,max=10"`

	// BackfillOnFirstMessage loads recent channel history from Discord
	// when a message arrives in a channel with no memory
	BackfillOnFirstMessage bool `yaml:"backfill_on_first_message" mapstructure:"backfill_on_first_message" json:"backfill_on_first_message"`

	// BackfillLimit caps the number of messages loaded from Discord
	BackfillLimit int `yaml:"backfill_limit" mapstructure:"backfill_limit" json:"backfill_limit" binding:"min=0"`

	// WorkerIdleTimeout stops a channel's worker after it's been idle
	// this long. It's restarted on the next message.
	WorkerIdleTimeout time.Duration `yaml:"worker_idle_timeout" mapstructure:"worker_idle_timeout" json:"worker_idle_timeout"`

	// WorkerInboxSize is the number of messages a channel worker buffers
	// before new ones are dropped
	WorkerInboxSize int `yaml:"worker_inbox_size" mapstructure:"worker_inbox_size" json:"worker_inbox_size" binding:"min=1"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// CompletionParameters are sent with every chat completion request
type CompletionParameters struct {
	Temperature      float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature" binding:"min=0,max=2"`
	TopP             float32 `yaml:"top_p" mapstructure:"top_p" json:"top_p" binding:"min=0,max=1"`
	FrequencyPenalty float32 `yaml:"frequency_penalty" mapstructure:"frequency_penalty" json:"frequency_penalty" binding:"min=-2,max=2"`
	PresencePenalty  float32 `yaml:"presence_penalty" mapstructure:"presence_penalty" json:"presence_penalty" binding:"min=-2,max=2"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=1"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the
	// discord dev portal). Required to register slash commands.
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// RegisterCommands overwrites the bot's slash commands on startup
	RegisterCommands bool `yaml:"register_commands" mapstructure:"register_commands" json:"register_commands"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If set, and [RuntimeConfig.DiscordNotificationChannelID] is set, this
	// is sent to that channel whenever the bot connects to the gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Discord gateway intents. Reading messages requires the privileged
	// message content intent.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// OpenAIConfig configures the chat completion API
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// BaseURL overrides the API endpoint, for OpenAI-compatible servers
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`

	// Model is the chat completion model ID
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// SkipModelCheck skips verifying the model exists on startup
	SkipModelCheck bool `yaml:"skip_model_check" mapstructure:"skip_model_check" json:"skip_model_check"`

	// RequestTimeout bounds a single completion request
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout"`

	Parameters CompletionParameters `yaml:"parameters" mapstructure:"parameters" json:"parameters"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	// Enabled starts the admin API alongside the bot
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// Development enables pprof routes and disables panic recovery
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

func newLevelVar(level slog.Level) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(level)
	return v
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	return &Config{
		BotName:               DefaultBotName,
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		OpenAI: &OpenAIConfig{
			Model:          DefaultOpenAIModel,
			RequestTimeout: DefaultRequestTimeout,
			LogLevel:       newLevelVar(DefaultOpenAILogLevel),
			Parameters: CompletionParameters{
				Temperature:      DefaultTemperature,
				TopP:             DefaultTopP,
				FrequencyPenalty: DefaultFrequencyPenalty,
				PresencePenalty:  DefaultPresencePenalty,
				MaxTokens:        DefaultMaxTokens,
			},
		},
		Chat: &ChatConfig{
			HistoryLength:          DefaultChatHistoryLength,
			Condense:               true,
			ResetOnSystemPrompt:    true,
			MaxAttempts:            DefaultChatMaxAttempts,
			BackfillOnFirstMessage: true,
			BackfillLimit:          DefaultChatBackfillLimit,
			WorkerIdleTimeout:      DefaultChatWorkerIdle,
			WorkerInboxSize:        DefaultChatWorkerInbox,
			LogLevel:               newLevelVar(DefaultChatLogLevel),
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: newLevelVar(DefaultDiscordgoLogLevel),
			StartupMessage:    DefaultDiscordStartupMessage,
			RegisterCommands:  true,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          newLevelVar(DefaultAPILogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
