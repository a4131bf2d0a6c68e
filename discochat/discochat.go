package discochat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	// ErrChannelBusy is returned when a channel's worker can't accept
	// any more messages
	ErrChannelBusy = errors.New("channel busy")

	shutdownAnnouncementInterval = 10 * time.Second
)

// DiscoChat is a Discord bot which chats in the channels it's in,
// remembering recent conversation per channel.
type DiscoChat struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db      *gorm.DB
	writeDB DBI

	openai  *OpenAI
	chat    *ChatAI
	discord *Discord
	history HistorySource
	api     *API
	metrics *metrics

	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	paused    atomic.Bool
	startedAt time.Time

	runMu       sync.Mutex
	signalStop  chan struct{}
	signalReady chan struct{}

	channelWorkers        map[string]*channelWorker
	channelWorkerMu       sync.Mutex
	channelWorkersRunning atomic.Int64

	// replyRoll returns a number in [0.0, 1.0), compared against
	// RuntimeConfig.ReplyChance
	replyRoll func() float64
}

// New creates a DiscoChat from the given configuration. Problems with
// the configuration are collected and returned together.
func New(config *Config) (*DiscoChat, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}
	if config.OpenAI == nil {
		errs = append(errs, errors.New("openai config required"))
	}
	if config.Discord == nil {
		errs = append(errs, errors.New("discord config required"))
	}
	if config.Chat == nil {
		errs = append(errs, errors.New("chat config required"))
	}
	if config.API == nil {
		errs = append(errs, errors.New("api config required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	d := &DiscoChat{
		config:         config,
		signalReady:    make(chan struct{}, 1),
		channelWorkers: map[string]*channelWorker{},
		metrics:        newMetrics(),
		replyRoll:      rand.Float64,
	}

	d.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	d.logger = slog.New(d.logHandler)
	slog.SetDefault(d.logger)

	d.openai = newOpenAI(config.OpenAI, config.HTTPClient)
	d.openai.metrics = d.metrics

	d.chat = NewChatAI(
		d.openai,
		ChatAIConfig{
			BotName:    config.BotName,
			Model:      config.OpenAI.Model,
			Parameters: config.OpenAI.Parameters,
			Chat:       *config.Chat,
			Debug:      config.Debug,
			Logger:     newComponentLogger(config.Chat.LogLevel, "chat_ai"),
		},
	)
	d.chat.metrics = d.metrics

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		),
	)
	d.discord = newDiscord(config.Discord)
	d.discord.dc = d

	api, err := newAPI(d, config.API)
	errs = append(errs, err)
	d.api = api

	return d, errors.Join(errs...)
}

func (d *DiscoChat) ValidateConfig() error {
	return structValidator.Struct(d.config)
}

// RuntimeConfig returns a copy of the current runtime configuration
func (d *DiscoChat) RuntimeConfig() RuntimeConfig {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	if d.runtimeConfig == nil {
		return DefaultRuntimeConfig(d.config)
	}
	return *d.runtimeConfig
}

// Chat returns the bot's conversation manager
func (d *DiscoChat) Chat() *ChatAI {
	return d.chat
}

// Paused reports whether the bot is paused
func (d *DiscoChat) Paused() bool {
	return d.paused.Load()
}

// Ready receives a value once the bot is connected and running
func (d *DiscoChat) Ready() <-chan struct{} {
	return d.signalReady
}

// Stop signals a running bot to shut down
func (d *DiscoChat) Stop() {
	if d.signalStop == nil {
		return
	}
	select {
	case d.signalStop <- struct{}{}:
	default:
	}
}

// RegisterSlashCommands overwrites the bot's slash commands
func (d *DiscoChat) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return d.discord.registerCommands(options...)
}

// Run starts the bot, and blocks until ctx is cancelled or a stop
// signal is received, then shuts down.
func (d *DiscoChat) Run(ctx context.Context) error {
	// prevents concurrent runs
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.signalStop = make(chan struct{}, 1)
	d.startedAt = time.Now()
	logger := d.logger

	if err := d.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"starting",
		slog.Any("config", d.config),
		slog.String("version", Version),
	)

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-d.signalStop:
			d.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, d.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- d.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return errors.New("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if err := d.initDiscordSession(ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}

	// the API listener and the discord connection don't depend on
	// each other
	g, gctx := errgroup.WithContext(startCtx)
	if d.config.API.Enabled {
		g.Go(func() error { return d.api.listen(gctx) })
	}
	g.Go(func() error { return d.discordInit(gctx) })
	if err := g.Wait(); err != nil {
		logger.ErrorContext(ctx, "startup failed", tint.Err(err))
		d.closeAfterFailedStart()
		return err
	}

	if d.config.API.Enabled {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			if err := d.api.serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(err))
			}
		}()
	}

	if d.config.Discord.RegisterCommands {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			if _, err := d.RegisterSlashCommands(discordgo.WithContext(ctx)); err != nil {
				d.logger.ErrorContext(ctx, "error registering slash commands", tint.Err(err))
			}
		}()
	}

	select {
	case d.signalReady <- struct{}{}:
	default:
	}
	d.logger.InfoContext(ctx, "ready", "startup_duration", time.Since(d.startedAt))

	// block until something cancels the main runtime context - generally
	// from an interrupt, or the `/api/quit` endpoint
	<-ctx.Done()

	return d.shutdown(ctx, runtimeWG)
}

func (d *DiscoChat) closeAfterFailedStart() {
	if d.api != nil && d.api.listener != nil {
		if err := d.api.listener.Close(); err != nil {
			d.logger.Error("error closing listener", tint.Err(err))
		}
	}
	if d.discord.session != nil {
		_ = d.discord.session.Close()
	}
}

// initRun opens the database, loads (or creates) the runtime config and
// verifies the configured model exists
func (d *DiscoChat) initRun(ctx context.Context) error {
	if d.db == nil {
		d.logger.Debug("initializing DB...")
		db, err := openDB(ctx, d.config, d.logger)
		if err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
		d.db = db
		d.logger.Debug("finished initializing DB")
	}
	if d.writeDB == nil {
		d.writeDB = NewDatabase(d.db, d.logger, d.config.DatabaseType != dbTypeSQLite)
	}
	d.openai.db = d.writeDB

	// the persisted paused state is used, so a bot that was paused stays
	// paused if it crashes and restarts
	rc, created, err := loadOrCreateRuntimeConfig(ctx, d.writeDB, d.config)
	if err != nil {
		return err
	}
	if created {
		d.logger.InfoContext(ctx, "created runtime config")
	}
	if err = structValidator.Struct(rc); err != nil {
		return fmt.Errorf("invalid runtime config: %w", err)
	}

	d.cfgMu.Lock()
	d.runtimeConfig = rc
	d.cfgMu.Unlock()

	d.paused.Store(rc.Paused)
	d.setRuntimeLevels(*rc)
	d.chat.SetSystemPrompt(rc.SystemPrompt)

	if d.config.API.Enabled && rc.APITokenHash == "" {
		d.logger.WarnContext(
			ctx,
			"admin API token not set, protected routes will be unavailable (see the 'init' command)",
		)
	}

	return d.openai.verifyModel(ctx)
}

// setRuntimeLevels applies the log levels and request limits from
// the runtime config
func (d *DiscoChat) setRuntimeLevels(state RuntimeConfig) {
	setLevel(d.config.LogLevel, state.LogLevel)
	setLevel(d.config.OpenAI.LogLevel, state.OpenAILogLevel)
	setLevel(d.config.Discord.LogLevel, state.DiscordLogLevel)
	setLevel(d.config.Discord.DiscordGoLogLevel, state.DiscordGoLogLevel)
	setLevel(d.config.DatabaseLogLevel, state.DatabaseLogLevel)
	setLevel(d.config.API.LogLevel, state.APILogLevel)
	setLevel(d.config.Chat.LogLevel, state.ChatLogLevel)

	if d.discord.session != nil {
		if err := d.discord.session.SetLogLevel(state.DiscordGoLogLevel.Level()); err != nil {
			d.logger.Error("error setting discordgo log level", tint.Err(err))
		}
	}
	d.openai.setRequestLimit(state.OpenAIMaxRequestsPerSecond)
}

func setLevel(v *slog.LevelVar, level DBLogLevel) {
	if v != nil && level != "" {
		v.Set(level.Level())
	}
}

func (d *DiscoChat) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	if d.discord.session == nil {
		session, err := d.discord.newSession(d.config.HTTPClient)
		if err != nil {
			return err
		}
		d.discord.session = session
	}
	if d.history == nil {
		d.history = d.discord.history()
	}

	for _, h := range d.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	identify := discordgo.Identify{
		Intents:  d.config.Discord.GatewayIntents,
		Presence: getDiscordPresenceStatusUpdate(d.RuntimeConfig()),
	}
	d.discord.session.SetIdentify(identify)

	d.discord.discordgoRemoveHandlerFuncs = []func(){
		d.discord.session.AddHandler(d.discord.handlerConnect()),
		d.discord.session.AddHandler(d.discord.handlerDisconnect()),
		d.discord.session.AddHandler(d.discord.handlerReady()),
		d.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					d.handleInteraction(ctx, i)
				}()
			},
		),
		d.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					d.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}
	return nil
}

// discordInit opens the gateway connection
func (d *DiscoChat) discordInit(ctx context.Context) error {
	d.logger.InfoContext(ctx, "connecting to discord")
	if err := d.discord.session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	return nil
}

func (d *DiscoChat) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	d.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(d.config.ShutdownTimeout)

	announcementTicker := time.NewTicker(shutdownAnnouncementInterval)
	defer announcementTicker.Stop()

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		stopWG := &sync.WaitGroup{}

		d.channelWorkerMu.Lock()
		workers := d.channelWorkers
		d.channelWorkers = map[string]*channelWorker{}
		d.channelWorkerMu.Unlock()

		for _, worker := range workers {
			stopWG.Add(1)
			go func(w *channelWorker) {
				defer stopWG.Done()
				select {
				case w.signalStop <- struct{}{}:
				default:
				}
				select {
				case <-w.stopped:
				case <-closeCtx.Done():
				}
			}(worker)
		}

		if d.api != nil && d.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				d.logger.InfoContext(ctx, "stopping http server")
				_ = d.api.httpServer.Shutdown(closeCtx)
				d.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if d.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				d.logger.InfoContext(ctx, "closing discord session")
				_ = d.discord.session.Close()
				for _, h := range d.discord.discordgoRemoveHandlerFuncs {
					h()
				}
				d.discord.discordgoRemoveHandlerFuncs = nil
				d.logger.InfoContext(ctx, "discord session closed")
			}()
		}

		stopWG.Wait()
		// anything spawned by handlers
		runtimeWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			d.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_duration", time.Since(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			d.logger.Warn(fmt.Sprintf("time until hard shutdown: %s", time.Until(shutdownDeadline)))
		case <-closeCtx.Done():
			d.logger.Warn("did not stop in time, forcing close")
			if d.api != nil && d.api.httpServer != nil {
				go func() {
					_ = d.api.httpServer.Close()
				}()
			}
			return errors.New("shutdown timed out")
		}
	}
}

// Pause stops the bot from responding to messages, and sets its
// discord status to 'do not disturb'. Returns false if already paused.
func (d *DiscoChat) Pause(ctx context.Context) bool {
	if d.paused.Swap(true) {
		return false
	}
	d.logger.WarnContext(ctx, "bot paused")
	d.persistPaused(ctx, true)
	d.updateDiscordPresence(ctx)
	return true
}

// Resume resumes responding to messages. It returns false if the bot
// wasn't paused.
func (d *DiscoChat) Resume(ctx context.Context) bool {
	if !d.paused.Swap(false) {
		return false
	}
	d.logger.InfoContext(ctx, "bot resumed")
	d.persistPaused(ctx, false)
	d.updateDiscordPresence(ctx)
	return true
}

func (d *DiscoChat) persistPaused(ctx context.Context, paused bool) {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	if d.runtimeConfig == nil || d.runtimeConfig.Paused == paused {
		return
	}
	if _, err := d.writeDB.Update(
		ctx,
		d.runtimeConfig,
		columnRuntimeConfigPaused,
		paused,
	); err != nil {
		d.logger.ErrorContext(ctx, "unable to update paused state in db", tint.Err(err))
	}
}

// updateDiscordPresence sets the bot's discord status to match the
// paused state and custom status
func (d *DiscoChat) updateDiscordPresence(ctx context.Context) {
	if d.discord.session == nil || !d.discord.connected.Load() {
		return
	}
	rc := d.RuntimeConfig()
	rc.Paused = d.paused.Load()

	var err error
	switch {
	case rc.Paused:
		presence := getDiscordPresenceStatusUpdate(rc)
		err = d.discord.session.UpdateStatusComplex(
			discordgo.UpdateStatusData{AFK: presence.AFK, Status: presence.Status},
		)
	default:
		err = d.discord.session.UpdateCustomStatus(rc.DiscordCustomStatus)
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "unable to update discord status", tint.Err(err))
	}
}

// UpdateRuntimeConfig validates and persists the update, then applies
// it: log levels, request limits, paused state, discord status and the
// system prompt all take effect immediately.
func (d *DiscoChat) UpdateRuntimeConfig(
	ctx context.Context,
	update RuntimeConfigUpdate,
) (RuntimeConfig, error) {
	d.cfgMu.Lock()
	if d.runtimeConfig == nil {
		d.cfgMu.Unlock()
		return RuntimeConfig{}, errors.New("runtime config not loaded")
	}
	previous := *d.runtimeConfig
	updated, err := applyRuntimeConfigUpdate(ctx, d.writeDB, previous, update)
	if err != nil {
		d.cfgMu.Unlock()
		return previous, err
	}
	d.runtimeConfig = &updated
	d.cfgMu.Unlock()

	d.logger.InfoContext(ctx, "runtime config updated", "update", update)
	d.setRuntimeLevels(updated)

	if update.SystemPrompt != nil {
		d.chat.SetSystemPrompt(updated.SystemPrompt)
	}

	wasPaused := d.paused.Swap(updated.Paused)
	if wasPaused != updated.Paused ||
		previous.DiscordCustomStatus != updated.DiscordCustomStatus {
		d.updateDiscordPresence(ctx)
	}
	return updated, nil
}

// SetSystemPrompt persists the system prompt and applies it. An empty
// prompt restores the default.
func (d *DiscoChat) SetSystemPrompt(ctx context.Context, prompt string) error {
	_, err := d.UpdateRuntimeConfig(ctx, RuntimeConfigUpdate{SystemPrompt: &prompt})
	return err
}

// failureMessage is sent to the channel in place of a response when
// one couldn't be generated
func (d *DiscoChat) failureMessage(err error) string {
	name := d.chat.BotName()
	if errors.Is(err, ErrGenerateResponse) {
		return fmt.Sprintf("😰 %s broke and couldn't respond (error: %s)", name, err)
	}
	return fmt.Sprintf(
		"😵 %s *really* broke and couldn't respond (what did you do?) (error: %s)",
		name,
		err,
	)
}

// handleDiscordMessage decides whether to respond to, observe or
// ignore an incoming message, and hands it to the channel's worker.
//
// The bot responds to DMs, messages mentioning it, and otherwise
// at random with [RuntimeConfig.ReplyChance]. Messages it doesn't respond
// to are observed if [RuntimeConfig.ReadAllMessages] is set.
func (d *DiscoChat) handleDiscordMessage(ctx context.Context, m *discordgo.MessageCreate) {
	defer func() {
		if r := recover(); r != nil {
			d.handleRecover(ctx, r)
		}
	}()
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	logger := d.discord.logger.With(slog.Group("message", messageLogAttrs(m.Message)...))

	selfID := d.discord.botUserID()
	if m.Author.ID == selfID || m.Author.Bot {
		return
	}
	if d.paused.Load() {
		logger.DebugContext(ctx, "paused, ignoring message")
		d.metrics.discordMessage(messageOutcomeIgnored)
		return
	}

	text := stripMention(m.Content, selfID)
	if text == "" {
		d.metrics.discordMessage(messageOutcomeIgnored)
		return
	}

	rc := d.RuntimeConfig()
	mentioned := messageMentionsUser(m.Message, selfID)
	isDM := m.GuildID == ""
	respond := isDM || mentioned || d.replyRoll() < rc.ReplyChance
	if !respond && !rc.ReadAllMessages {
		d.metrics.discordMessage(messageOutcomeIgnored)
		return
	}

	req := channelRequest{
		message:   m.Message,
		text:      text,
		username:  discordDisplayName(m.Author),
		respond:   respond,
		mentioned: mentioned,
	}
	if err := d.dispatch(WithLogger(ctx, logger), m.ChannelID, req); err != nil {
		logger.WarnContext(ctx, "dropped message", tint.Err(err))
		d.metrics.discordMessage(messageOutcomeDropped)
	}
}

// dispatch hands the request to the channel's worker, starting one if
// needed
func (d *DiscoChat) dispatch(ctx context.Context, channelID string, req channelRequest) error {
	d.channelWorkerMu.Lock()
	defer d.channelWorkerMu.Unlock()

	worker := d.channelWorkers[channelID]
	if worker == nil {
		worker = d.startChannelWorkerLocked(ctx, channelID)
	}
	if !worker.enqueue(req) {
		return fmt.Errorf("%w: %s", ErrChannelBusy, channelID)
	}
	return nil
}

// startChannelWorkerLocked starts a worker for the channel, and
// returns once it's running. channelWorkerMu must be held.
func (d *DiscoChat) startChannelWorkerLocked(ctx context.Context, channelID string) *channelWorker {
	startSignal := make(chan struct{}, 1)
	worker := newChannelWorker(d, channelID)

	go func() {
		d.channelWorkersRunning.Add(1)
		defer d.channelWorkersRunning.Add(-1)

		worker.Run(context.WithoutCancel(ctx), startSignal)

		d.channelWorkerMu.Lock()
		defer d.channelWorkerMu.Unlock()
		if w, ok := d.channelWorkers[channelID]; ok && w == worker {
			delete(d.channelWorkers, channelID)
		}
	}()

	d.channelWorkers[channelID] = worker
	<-startSignal
	return worker
}

// releaseIdleWorker removes an idle worker so the next message starts a
// new one. Returns false if the worker received a message in the
// meantime, and should keep running.
func (d *DiscoChat) releaseIdleWorker(w *channelWorker) bool {
	d.channelWorkerMu.Lock()
	defer d.channelWorkerMu.Unlock()
	if len(w.inbox) > 0 {
		return false
	}
	if current, ok := d.channelWorkers[w.channelID]; ok && current == w {
		delete(d.channelWorkers, w.channelID)
	}
	return true
}

// handleInteraction acknowledges and executes a slash command. The
// response is ephemeral, and every invocation is saved as a CommandLog.
func (d *DiscoChat) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			d.handleRecover(ctx, r)
		}
	}()
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	logger := d.discord.logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)

	record := newCommandLog(i)
	d.metrics.command(record.CommandName)
	if d.writeDB != nil {
		if _, err := d.writeDB.Create(ctx, record); err != nil {
			logger.ErrorContext(ctx, "error saving command log", tint.Err(err))
		}
	}

	if err := d.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		},
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		d.finishCommandLog(ctx, record, "", err)
		return
	}

	response, cmdErr := d.executeCommand(ctx, i)
	if cmdErr != nil {
		logger.ErrorContext(ctx, "error executing command", tint.Err(cmdErr))
		response = fmt.Sprintf("Something went wrong: %s", cmdErr)
	}
	content := shortenString(response, discordMaxMessageLength)
	if _, err := d.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
		cmdErr = errors.Join(cmdErr, err)
	}
	d.finishCommandLog(ctx, record, response, cmdErr)
}

func (d *DiscoChat) executeCommand(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	options := discordInteractionOptions(i)
	channelID := i.ChannelID

	switch name := i.ApplicationCommandData().Name; name {
	case DiscordSlashCommandClear:
		d.chat.ClearHistory(channelID)
		return "Forgot everything in this channel.", nil
	case DiscordSlashCommandClearAll:
		d.chat.ClearHistory()
		return "Forgot everything, everywhere.", nil
	case DiscordSlashCommandSystemPrompt:
		var prompt string
		if opt, ok := options[systemPromptCommandTextOption]; ok {
			prompt = strings.TrimSpace(opt.StringValue())
		}
		if err := d.SetSystemPrompt(ctx, prompt); err != nil {
			return "", err
		}
		if prompt == "" {
			return "System prompt reset to the default.", nil
		}
		return "System prompt updated.", nil
	case DiscordSlashCommandLoadHistory:
		limit := d.config.Chat.BackfillLimit
		if opt, ok := options[loadHistoryCommandCountOption]; ok {
			limit = int(opt.IntValue())
		}
		limit = min(max(limit, 1), discordMaxHistoryPage)
		n, err := d.chat.LoadChannelHistory(ctx, d.history, channelID, "", limit)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Loaded %d messages.", n), nil
	default:
		return "", fmt.Errorf("unknown command: %s", name)
	}
}

func (d *DiscoChat) finishCommandLog(
	ctx context.Context,
	record *CommandLog,
	response string,
	err error,
) {
	if d.writeDB == nil {
		return
	}
	updates := map[string]any{
		columnCommandLogState:    commandStateCompleted,
		columnCommandLogResponse: response,
	}
	if err != nil {
		updates[columnCommandLogState] = commandStateFailed
		updates[columnCommandLogError] = err.Error()
	}
	if _, e := d.writeDB.Updates(context.WithoutCancel(ctx), record, updates); e != nil {
		d.logger.ErrorContext(ctx, "error updating command log", tint.Err(e))
	}
}

func (*DiscoChat) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if err, isErr := rc.(error); isErr {
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(err), "stack_trace", stackTrace)
		return
	}
	logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
}
