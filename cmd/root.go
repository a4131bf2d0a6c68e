package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"syscall"

	"github.com/arcward/discochat/discochat"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = discochat.DefaultConfig()
	configFile string
)

// levelKeys are config keys holding a *slog.LevelVar
var levelKeys = []string{
	"log_level",
	"database_log_level",
	"openai.log_level",
	"chat.log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"api.log_level",
}

var rootCmd = &cobra.Command{
	Use:   "discochat [flags]",
	Short: "A Discord bot that chats along in the channels it's in",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.Unmarshal(cfg, viper.DecodeHook(configDecodeHook()))
	},
	SilenceUsage: true,
}

// configDecodeHook converts durations, log level names and space
// separated lists (as set by environment variables) while unmarshaling
// the config
func configDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(" "),
		LevelToStringHookFunc(),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names (INFO, DEBUG, ...) into
// *slog.LevelVar
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// viperConfigTypes are --config extensions read by viper. Anything
// else is loaded as an env file.
var viperConfigTypes = []string{".toml", ".yaml", ".yml", ".json"}

func initConfig() {
	// start clean, so a file read by an earlier run doesn't linger
	viper.Reset()

	switch {
	case configFile == "":
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	case slices.Contains(viperConfigTypes, strings.ToLower(filepath.Ext(configFile))):
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("unable to read config file %q: %v", configFile, err)
		}
	default:
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load env file %q: %v", configFile, err)
		}
	}

	defaults := discochat.DefaultConfig()

	viper.SetDefault("bot_name", defaults.BotName)
	viper.SetDefault("debug", false)
	viper.SetDefault("database", discochat.DefaultDatabase)
	viper.SetDefault("database_type", discochat.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", discochat.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", discochat.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", discochat.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", discochat.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", discochat.DefaultShutdownTimeout)

	// Chat config
	viper.SetDefault("chat.history_length", defaults.Chat.HistoryLength)
	viper.SetDefault("chat.condense", defaults.Chat.Condense)
	viper.SetDefault("chat.system_prompt", "")
	viper.SetDefault("chat.reset_on_system_prompt", defaults.Chat.ResetOnSystemPrompt)
	viper.SetDefault("chat.max_attempts", defaults.Chat.MaxAttempts)
	viper.SetDefault("chat.backfill_on_first_message", defaults.Chat.BackfillOnFirstMessage)
	viper.SetDefault("chat.backfill_limit", defaults.Chat.BackfillLimit)
	viper.SetDefault("chat.worker_idle_timeout", defaults.Chat.WorkerIdleTimeout)
	viper.SetDefault("chat.worker_inbox_size", defaults.Chat.WorkerInboxSize)
	viper.SetDefault("chat.log_level", discochat.DefaultChatLogLevel.String())

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("openai.model", discochat.DefaultOpenAIModel)
	viper.SetDefault("openai.skip_model_check", false)
	viper.SetDefault("openai.request_timeout", discochat.DefaultRequestTimeout)
	viper.SetDefault("openai.log_level", discochat.DefaultOpenAILogLevel.String())
	viper.SetDefault("openai.parameters.temperature", discochat.DefaultTemperature)
	viper.SetDefault("openai.parameters.top_p", discochat.DefaultTopP)
	viper.SetDefault("openai.parameters.frequency_penalty", discochat.DefaultFrequencyPenalty)
	viper.SetDefault("openai.parameters.presence_penalty", discochat.DefaultPresencePenalty)
	viper.SetDefault("openai.parameters.max_tokens", discochat.DefaultMaxTokens)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.register_commands", defaults.Discord.RegisterCommands)
	viper.SetDefault("discord.log_level", discochat.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", discochat.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", discochat.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.startup_message", discochat.DefaultDiscordStartupMessage)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", discochat.DefaultAPIListen)
	viper.SetDefault("api.listen_network", defaults.API.ListenNetwork)
	viper.SetDefault("api.log_level", discochat.DefaultAPILogLevel.String())
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.read_timeout", discochat.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", discochat.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", discochat.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", discochat.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", discochat.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", discochat.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", discochat.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", discochat.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", discochat.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", discochat.DefaultAPICORSAllowCredentials)

	envPrefix := os.Getenv(discochat.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = discochat.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// levels are decoded by LevelToStringHookFunc, but bad values
	// should stop startup before any subcommand runs
	for _, key := range levelKeys {
		if _, err := getLogLevel(viper.GetString(key)); err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
	}
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to load: .toml, .yaml, .yml or .json, otherwise an env file",
	)
}
