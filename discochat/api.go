package discochat

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/sashabaranov/go-openai"
	"gorm.io/gorm"
)

const (
	pprofPrefix           = "/debug"
	apiPrefix             = "/api"
	apiHealthCheck        = "/healthz"
	apiMetrics            = "/metrics"
	apiPathPause          = "/pause"
	apiPathResume         = "/resume"
	apiPathQuit           = "/quit"
	apiPathConfig         = "/config"
	apiPathSystemPrompt   = "/system_prompt"
	apiPathClear          = "/clear"
	apiPathChannels       = "/channels"
	apiPathChannel        = "/channels/:id"
	apiPathChannelHistory = "/channels/:id/history"
	apiPathChannelChat    = "/channels/:id/chat"
	apiPathCompletions    = "/completions"
	apiPathCommands       = "/commands"

	apiPathRegisterCommands = "/discord/register_commands"
)

const (
	xRequestIDHeader = "X-Request-ID"
	bearerPrefix     = "Bearer "
)

var (
	structValidator = validator.New()
)

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

// API is the admin HTTP API. Everything under /api requires a bearer
// token, which is set with the `init` command.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger

	handlers *APIHandlers
}

func newAPI(d *DiscoChat, config *APIConfig) (*API, error) {
	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		logger: newComponentLogger(config.LogLevel, "api"),
	}
	handlers := &APIHandlers{d: d, logger: api.logger}
	api.handlers = handlers

	tlsCfg, err := tlsConfig(
		config.SSL.Cert,
		config.SSL.Key,
		config.SSL.TLSMinVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", err)
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(d.metrics),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, handlers.healthCheck)
	r.GET(apiMetrics, gin.WrapH(d.metrics.handler()))

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
		runtime.SetMutexProfileFraction(1)
		runtime.SetBlockProfileRate(1)
	}

	r.NoRoute(
		func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "not found"})
		},
	)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(d))

	protected.GET(apiPathConfig, handlers.getConfig)
	protected.PATCH(apiPathConfig, handlers.updateRuntimeConfig)
	protected.PUT(apiPathSystemPrompt, handlers.setSystemPrompt)
	protected.POST(apiPathClear, handlers.clearHistory)
	protected.GET(apiPathChannels, handlers.getChannels)
	protected.GET(apiPathChannel, handlers.getChannel)
	protected.POST(apiPathChannelHistory, handlers.loadChannelHistory)
	protected.POST(apiPathChannelChat, handlers.channelChat)
	protected.GET(apiPathCompletions, handlers.getCompletions)
	protected.DELETE(apiPathCompletions, handlers.pruneCompletions)
	protected.GET(apiPathCommands, handlers.getCommands)
	protected.POST(apiPathRegisterCommands, handlers.discordRegisterCommands)
	protected.POST(apiPathPause, handlers.botPause)
	protected.POST(apiPathResume, handlers.botResume)
	protected.POST(apiPathQuit, handlers.botQuit)

	return api, nil
}

// listen binds the configured address, without serving
func (a *API) listen(ctx context.Context) error {
	if a.listener != nil {
		return nil
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	if a.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	a.listener = ln
	a.logger.InfoContext(ctx, "api listening", "address", ln.Addr().String())
	return nil
}

// serve blocks, serving requests on the listener from listen
func (a *API) serve() error {
	if a.listener == nil {
		return errors.New("api not listening")
	}
	return a.httpServer.Serve(a.listener)
}

// APIHandlers contains the handlers for the admin API
type APIHandlers struct {
	d      *DiscoChat
	logger *slog.Logger
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.d.paused.Load(),
			Channels:                len(h.d.chat.Channels()),
			ChannelWorkers:          int(h.d.channelWorkersRunning.Load()),
			DiscordGatewayConnected: h.d.discord.connected.Load(),
			Version:                 Version,
		},
	)
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.d.RuntimeConfig())
}

// updateRuntimeConfig applies a partial update to the runtime config.
//
// Responses:
//   - 200 OK: Returns the updated runtime configuration.
//   - 400 Bad Request: If the payload is invalid, or contains no updates.
//   - 500 Internal Server Error: If the update couldn't be saved.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	logger := ginContextLogger(c)

	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Warn("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	updated, err := h.d.UpdateRuntimeConfig(c.Request.Context(), update)
	if err != nil {
		var validationErrs validator.ValidationErrors
		switch {
		case errors.Is(err, errNoRuntimeConfigUpdates), errors.As(err, &validationErrs):
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		default:
			logger.Error("error updating config", tint.Err(err))
			ginReplyError(c, "error updating config")
		}
		return
	}
	c.JSON(http.StatusOK, updated)
}

type systemPromptPayload struct {
	SystemPrompt string `json:"system_prompt" binding:"max=8000"`
}

// setSystemPrompt replaces the system prompt. An empty prompt restores
// the default.
func (h *APIHandlers) setSystemPrompt(c *gin.Context) {
	logger := ginContextLogger(c)
	var payload systemPromptPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := h.d.SetSystemPrompt(c.Request.Context(), payload.SystemPrompt); err != nil {
		logger.Error("error setting system prompt", tint.Err(err))
		ginReplyError(c, "error setting system prompt")
		return
	}
	c.JSON(http.StatusOK, systemPromptPayload{SystemPrompt: h.d.chat.SystemPrompt()})
}

type clearPayload struct {
	// ChannelIDs to clear. Every channel is cleared if empty.
	ChannelIDs []string `json:"channel_ids"`
}

func (h *APIHandlers) clearHistory(c *gin.Context) {
	var payload clearPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
			return
		}
	}
	h.d.chat.ClearHistory(payload.ChannelIDs...)
	if len(payload.ChannelIDs) == 0 {
		ginReplyMessage(c, "cleared all channels")
		return
	}
	ginReplyMessage(c, fmt.Sprintf("cleared %d channel(s)", len(payload.ChannelIDs)))
}

func (h *APIHandlers) getChannels(c *gin.Context) {
	c.JSON(http.StatusOK, h.d.chat.Channels())
}

type channelQuery struct {
	Condense *bool `form:"condense"`
}

type channelResponse struct {
	ChannelID string                         `json:"channel_id"`
	Messages  []openai.ChatCompletionMessage `json:"messages"`
}

// getChannel returns the messages that would be sent for the channel's
// next completion
func (h *APIHandlers) getChannel(c *gin.Context) {
	var query channelQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	condense := h.d.config.Chat.Condense
	if query.Condense != nil {
		condense = *query.Condense
	}
	channelID := c.Param("id")
	messages, ok := h.d.chat.ChannelMessages(channelID, condense)
	if !ok {
		c.JSON(http.StatusNotFound, httpError{Error: "channel not found"})
		return
	}
	c.JSON(http.StatusOK, channelResponse{ChannelID: channelID, Messages: messages})
}

type loadHistoryPayload struct {
	Count int `json:"count" binding:"omitempty,min=1,max=100"`
}

type loadHistoryResponse struct {
	ChannelID string `json:"channel_id"`
	Loaded    int    `json:"loaded"`
}

// loadChannelHistory replaces the channel's memory with its recent
// Discord history
func (h *APIHandlers) loadChannelHistory(c *gin.Context) {
	logger := ginContextLogger(c)
	var payload loadHistoryPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
			return
		}
	}
	if payload.Count == 0 {
		payload.Count = min(max(h.d.config.Chat.BackfillLimit, 1), discordMaxHistoryPage)
	}
	if h.d.history == nil {
		c.JSON(http.StatusServiceUnavailable, httpError{Error: "discord not connected"})
		return
	}

	channelID := c.Param("id")
	n, err := h.d.chat.LoadChannelHistory(
		c.Request.Context(),
		h.d.history,
		channelID,
		"",
		payload.Count,
	)
	if err != nil {
		logger.Error("error loading channel history", tint.Err(err), "channel_id", channelID)
		ginReplyError(c, "error loading channel history")
		return
	}
	c.JSON(http.StatusOK, loadHistoryResponse{ChannelID: channelID, Loaded: n})
}

type chatPayload struct {
	Text     string `json:"text" binding:"required,max=6000"`
	Username string `json:"username" binding:"required,max=64"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// channelChat adds a message to the channel's memory and returns the
// bot's response, without sending anything to Discord
func (h *APIHandlers) channelChat(c *gin.Context) {
	logger := ginContextLogger(c)
	var payload chatPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	channelID := c.Param("id")
	response, err := h.d.chat.GetResponse(
		c.Request.Context(),
		channelID,
		strings.TrimSpace(payload.Text),
		payload.Username,
	)
	if err != nil {
		logger.Error("error generating response", tint.Err(err), "channel_id", channelID)
		c.JSON(http.StatusBadGateway, httpError{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, chatResponse{Response: response})
}

// getCompletions lists ChatCompletionLog records, newest first by default.
//
// Query Parameters:
//   - limit: The maximum number of records to return (default: 25).
//   - offset: The number of records to skip.
//   - order: asc or desc, by creation time.
//   - channel_id: Filter results by channel.
//   - start_date: Only records created on or after this date (YYYY-MM-DD).
//   - end_date: Only records created on or before this date (YYYY-MM-DD).
func (h *APIHandlers) getCompletions(c *gin.Context) {
	var query GetCompletionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query"})
		return
	}
	query.setDefaults()

	stmt := h.d.db.WithContext(c.Request.Context()).
		Model(&ChatCompletionLog{}).
		Limit(query.Limit).
		Offset(query.Offset)
	if query.ChannelID != "" {
		stmt = stmt.Where("channel_id = ?", query.ChannelID)
	}
	stmt, err := query.filter(stmt)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	stmt = stmt.Order("created_at " + string(query.Order))

	var logs []ChatCompletionLog
	if err = stmt.Find(&logs).Error; err != nil {
		ginContextLogger(c).Error("error getting completion logs", tint.Err(err))
		ginReplyError(c, "error getting completion logs")
		return
	}
	c.JSON(http.StatusOK, logs)
}

// pruneCompletions deletes ChatCompletionLog records created before the
// given date, optionally only for one channel
func (h *APIHandlers) pruneCompletions(c *gin.Context) {
	var query PruneCompletionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query"})
		return
	}
	before, err := time.Parse(time.DateOnly, query.Before)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid before format"})
		return
	}

	conds := []any{"created_at < ?", before.UnixMilli()}
	if query.ChannelID != "" {
		conds = []any{"created_at < ? AND channel_id = ?", before.UnixMilli(), query.ChannelID}
	}

	logger := ginContextLogger(c)
	deleted, err := h.d.writeDB.Delete(c.Request.Context(), &ChatCompletionLog{}, conds...)
	if err != nil {
		logger.Error("error pruning completion logs", tint.Err(err))
		ginReplyError(c, "error pruning completion logs")
		return
	}
	logger.Info(
		"pruned completion logs",
		"before", query.Before,
		"channel_id", query.ChannelID,
		"deleted", deleted,
	)
	c.JSON(http.StatusOK, pruneCompletionsResponse{Deleted: deleted})
}

// getCommands lists CommandLog records, newest first by default
func (h *APIHandlers) getCommands(c *gin.Context) {
	var query GetCommandsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query"})
		return
	}
	query.setDefaults()

	stmt := h.d.db.WithContext(c.Request.Context()).
		Model(&CommandLog{}).
		Limit(query.Limit).
		Offset(query.Offset)
	if query.ChannelID != "" {
		stmt = stmt.Where("channel_id = ?", query.ChannelID)
	}
	if query.CommandName != "" {
		stmt = stmt.Where("command_name = ?", query.CommandName)
	}
	stmt, err := query.filter(stmt)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	stmt = stmt.Order("created_at " + string(query.Order))

	var commands []CommandLog
	if err = stmt.Find(&commands).Error; err != nil {
		ginContextLogger(c).Error("error getting command logs", tint.Err(err))
		ginReplyError(c, "error getting command logs")
		return
	}
	c.JSON(http.StatusOK, commands)
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.d.RegisterSlashCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		ginReplyError(c, "error registering commands")
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

// botPause responds with 409 Conflict if the bot is already paused
func (h *APIHandlers) botPause(c *gin.Context) {
	if h.d.Pause(c.Request.Context()) {
		ginReplyMessage(c, "bot paused")
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "bot already paused"})
}

// botResume responds with 409 Conflict if the bot isn't paused
func (h *APIHandlers) botResume(c *gin.Context) {
	if h.d.Resume(c.Request.Context()) {
		ginReplyMessage(c, "bot resumed")
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "bot not paused"})
}

// botQuit sends a stop signal to the bot, which starts a graceful
// shutdown. It responds immediately.
func (h *APIHandlers) botQuit(c *gin.Context) {
	ginContextLogger(c).Warn("sending stop signal")
	h.d.Stop()
	c.JSON(http.StatusAccepted, httpReply{Message: "quitting"})
}

// Pagination represents the pagination parameters for API requests.
type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

func (p *Pagination) setDefaults() {
	if p.Order == "" {
		p.Order = Descending
	}
	if p.Limit == 0 {
		p.Limit = 25
	}
}

// DateRange filters records by creation date (YYYY-MM-DD, inclusive)
type DateRange struct {
	StartDate string `form:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"end_date" binding:"omitempty,datetime=2006-01-02"`
}

func (r DateRange) filter(stmt *gorm.DB) (*gorm.DB, error) {
	if r.StartDate != "" {
		startDate, err := time.Parse(time.DateOnly, r.StartDate)
		if err != nil {
			return stmt, errors.New("invalid start_date format")
		}
		stmt = stmt.Where("created_at >= ?", startDate.UnixMilli())
	}
	if r.EndDate != "" {
		endDate, err := time.Parse(time.DateOnly, r.EndDate)
		if err != nil {
			return stmt, errors.New("invalid end_date format")
		}
		// include the entire end date
		stmt = stmt.Where("created_at < ?", endDate.Add(24*time.Hour).UnixMilli())
	}
	return stmt, nil
}

// GetCompletionsQuery represents the query parameters for fetching
// ChatCompletionLog records
type GetCompletionsQuery struct {
	Pagination
	DateRange
	ChannelID string `form:"channel_id"`
}

// PruneCompletionsQuery represents the query parameters for deleting
// ChatCompletionLog records
type PruneCompletionsQuery struct {
	Before    string `form:"before" binding:"required,datetime=2006-01-02"`
	ChannelID string `form:"channel_id"`
}

type pruneCompletionsResponse struct {
	Deleted int64 `json:"deleted"`
}

// GetCommandsQuery represents the query parameters for fetching
// CommandLog records
type GetCommandsQuery struct {
	Pagination
	DateRange
	ChannelID   string `form:"channel_id"`
	CommandName string `form:"command_name"`
}

// Sort represents the sorting order for queries
type Sort string

type healthCheckResponse struct {
	Paused                  bool   `json:"paused"`
	Channels                int    `json:"channels"`
	ChannelWorkers          int    `json:"channel_workers"`
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	Version                 string `json:"version"`
}

// httpReply represents a standard HTTP response message.
type httpReply struct {
	Message string `json:"message"`
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

// authMiddleware requires an `Authorization: Bearer <token>` header
// matching the API token hash in the runtime config. If no token has
// been set, every request is rejected.
func authMiddleware(d *DiscoChat) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)

		tokenHash := d.RuntimeConfig().APITokenHash
		if tokenHash == "" {
			logger.Warn("api token not set")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		token, found := strings.CutPrefix(c.GetHeader("Authorization"), bearerPrefix)
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		valid, err := VerifyPassword(tokenHash, token)
		if err != nil {
			logger.Error("error verifying token", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		if !valid {
			logger.Warn("invalid api token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns each request a unique ID, returned in the
// X-Request-ID header. A valid UUID sent by the client is kept.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	return setGinContextLogger(c, slog.Default())
}

func setGinContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request's outcome and duration
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := setGinContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by method, route and status code.
// Unmatched routes are counted together.
func metricMiddleware(m *metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.apiRequest(c.Request.Method, route, c.Writer.Status())
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}
