package discochat

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Slash command names
const (
	DiscordSlashCommandClear        = "clear"
	DiscordSlashCommandClearAll     = "clear_all"
	DiscordSlashCommandSystemPrompt = "system_prompt"
	DiscordSlashCommandLoadHistory  = "load_history"

	systemPromptCommandTextOption = "text"
	loadHistoryCommandCountOption = "count"

	// discordMaxCommandOptionLength is the longest string option
	// discord accepts
	discordMaxCommandOptionLength = 6000
)

// Discord manages the gateway session, and the handlers and slash
// commands registered on it.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger

	connected atomic.Bool

	// botUser is set once the gateway sends the ready event
	botUser atomic.Pointer[discordgo.User]

	discordgoRemoveHandlerFuncs []func()
	dc                          *DiscoChat
}

func newDiscord(config *DiscordConfig) *Discord {
	return &Discord{
		config:                      config,
		logger:                      newComponentLogger(config.LogLevel, "discord"),
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession creates a discordgo session for the configured bot token
func (d *Discord) newSession(httpClient *http.Client) (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	if httpClient != nil {
		disc.Client = httpClient
	}
	session.session = disc

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// botUserID returns the bot's user ID, or an empty string if the
// gateway isn't ready yet
func (d *Discord) botUserID() string {
	if u := d.botUser.Load(); u != nil {
		return u.ID
	}
	return ""
}

func (d *Discord) history() HistorySource {
	return discordHistory{session: d.session, botUserID: d.botUserID}
}

func (*Discord) slashCommands() []*discordgo.ApplicationCommand {
	contexts := []discordgo.InteractionContextType{
		discordgo.InteractionContextPrivateChannel,
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
	}
	integrationTypes := []discordgo.ApplicationIntegrationType{
		discordgo.ApplicationIntegrationGuildInstall,
	}
	minCount := float64(1)

	return []*discordgo.ApplicationCommand{
		{
			Name:             DiscordSlashCommandClear,
			Type:             discordgo.ChatApplicationCommand,
			Description:      "Forget the conversation in this channel",
			Contexts:         &contexts,
			IntegrationTypes: &integrationTypes,
		},
		{
			Name:             DiscordSlashCommandClearAll,
			Type:             discordgo.ChatApplicationCommand,
			Description:      "Forget the conversation in every channel",
			Contexts:         &contexts,
			IntegrationTypes: &integrationTypes,
		},
		{
			Name:             DiscordSlashCommandSystemPrompt,
			Type:             discordgo.ChatApplicationCommand,
			Description:      "Set the system prompt (leave empty to reset it)",
			Contexts:         &contexts,
			IntegrationTypes: &integrationTypes,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        systemPromptCommandTextOption,
					Description: "New system prompt",
					MaxLength:   discordMaxCommandOptionLength,
				},
			},
		},
		{
			Name:             DiscordSlashCommandLoadHistory,
			Type:             discordgo.ChatApplicationCommand,
			Description:      "Load this channel's recent messages into memory",
			Contexts:         &contexts,
			IntegrationTypes: &integrationTypes,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        loadHistoryCommandCountOption,
					Description: "Number of messages to load",
					MinValue:    &minCount,
					MaxValue:    discordMaxHistoryPage,
				},
			},
		},
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		d.slashCommands(),
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	if len(created) == 0 {
		d.logger.Warn("no commands created")
	}
	return created, nil
}

func (d *Discord) handlerReady() func(s *discordgo.Session, r *discordgo.Ready) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.botUser.Store(r.User)
		}
		attrs := []any{"session_id", r.SessionID, "guilds", len(r.Guilds)}
		if r.User != nil {
			attrs = append(attrs, slog.Group("user", "id", r.User.ID, "username", r.User.Username))
		}
		d.logger.Info("ready", attrs...)
	}
}

func (d *Discord) handlerConnect() func(s *discordgo.Session, c *discordgo.Connect) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.connected.Store(true)
		d.dc.metrics.discordConnection("connect")
		d.logger.Info("connected")

		config := d.dc.RuntimeConfig()
		if config.DiscordNotificationChannelID == "" || d.config.StartupMessage == "" {
			return
		}
		if _, err := d.session.ChannelMessageSend(
			config.DiscordNotificationChannelID,
			d.config.StartupMessage,
			discordgo.WithRetryOnRatelimit(false),
			discordgo.WithRestRetries(1),
		); err != nil {
			d.logger.Error("unable to send startup message", tint.Err(err))
		} else {
			d.logger.Info("sent startup message")
		}
	}
}

func (d *Discord) handlerDisconnect() func(s *discordgo.Session, c *discordgo.Disconnect) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.dc.metrics.discordConnection("disconnect")
		d.logger.Warn("disconnected")
	}
}

// mentionPattern matches a mention of the given user, as it appears in
// message content (<@id>, or <@!id> for nickname mentions)
func mentionPattern(userID string) *regexp.Regexp {
	return regexp.MustCompile(`<@!?` + regexp.QuoteMeta(userID) + `>`)
}

// stripMention removes mentions of userID from the content
func stripMention(content string, userID string) string {
	if userID == "" {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(mentionPattern(userID).ReplaceAllString(content, ""))
}

// messageMentionsUser reports whether the message mentions the user
// via @ (not whether the user's name appears in the text)
func messageMentionsUser(m *discordgo.Message, userID string) bool {
	if m == nil || userID == "" {
		return false
	}
	for _, mention := range m.Mentions {
		if mention != nil && mention.ID == userID {
			return true
		}
	}
	return false
}

// discordDisplayName returns the name a user shows up as: their
// global display name if they have one, otherwise their username
func discordDisplayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// DiscordSessionHandler is the subset of [discordgo.Session] the bot
// uses, so it can be replaced in tests.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection
	Close() error

	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessages returns up to limit messages (max 100), newest first
	ChannelMessages(
		channelID string,
		limit int,
		beforeID string,
		afterID string,
		aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)

	// ChannelTyping shows the typing indicator in the channel
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error

	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	UpdateCustomStatus(status string) error

	UpdateStatusComplex(data discordgo.UpdateStatusData) error

	// AddHandler registers an event handler, returning a function
	// which removes it
	AddHandler(handler any) func()

	SetIdentify(i discordgo.Identify)

	// SetLogLevel sets discordgo's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler with a real session
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, content, options...)
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(channelID, content, reference, options...)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
			"reference", reference,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	afterID string,
	aroundID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	return d.session.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}

func (d DiscordSession) ChannelTyping(
	channelID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelTyping(channelID, options...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(appID, guildID, commands, options...)
	if err != nil {
		return created, err
	}
	for _, c := range created {
		d.logger.Info("created command", "name", c.Name, "id", c.ID)
	}
	return created, nil
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	return d.session.UpdateStatusComplex(data)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}
