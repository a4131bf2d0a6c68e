package discochat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	messageOutcomeResponded = "responded"
	messageOutcomeObserved  = "observed"
	messageOutcomeIgnored   = "ignored"
	messageOutcomeDropped   = "dropped"
	messageOutcomeFailed    = "failed"
)

var (
	channelWorkerStopTimeout = 5 * time.Second
	typingInterval           = 8 * time.Second
)

// channelRequest is a message a channel worker should handle
type channelRequest struct {
	message  *discordgo.Message
	text     string
	username string

	// respond is false if the message should only be observed
	respond bool

	// mentioned is true if the message mentioned the bot, in
	// which case the response is sent as a reply
	mentioned bool
}

func (r channelRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("message_id", r.message.ID),
		slog.String("username", r.username),
		slog.Bool("respond", r.respond),
		slog.Bool("mentioned", r.mentioned),
	)
}

// channelWorker handles messages for a single channel, one at a time
// and in the order they arrived. It stops after being idle for
// [ChatConfig.WorkerIdleTimeout], and is restarted by the next message.
type channelWorker struct {
	channelID string
	inbox     chan channelRequest

	idleTimeout   time.Duration
	lastMessageAt atomic.Int64

	// signalStop is a channel for sending a stop signal to the worker
	signalStop chan struct{}

	// stopped receives the time the worker stopped
	stopped chan time.Time

	dc *DiscoChat
}

func newChannelWorker(dc *DiscoChat, channelID string) *channelWorker {
	return &channelWorker{
		channelID:   channelID,
		inbox:       make(chan channelRequest, dc.config.Chat.WorkerInboxSize),
		idleTimeout: dc.config.Chat.WorkerIdleTimeout,
		signalStop:  make(chan struct{}, 1),
		stopped:     make(chan time.Time, 1),
		dc:          dc,
	}
}

// enqueue adds the request to the worker's inbox without blocking.
// Returns false if the inbox is full.
func (w *channelWorker) enqueue(req channelRequest) bool {
	select {
	case w.inbox <- req:
		return true
	default:
		return false
	}
}

func (w *channelWorker) Run(ctx context.Context, startCh chan<- struct{}) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = w.dc.logger
	}
	log = log.With(loggerNameKey, "channel_worker", "channel_id", w.channelID)
	ctx = WithLogger(ctx, log)

	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), channelWorkerStopTimeout)
		defer stopCancel()
		select {
		case w.stopped <- time.Now():
		case <-stopCtx.Done():
			log.Warn("timed out sending stop notification")
		}
	}()

	log.DebugContext(ctx, "starting channel worker")
	startedAt := time.Now()
	idleTimer := time.NewTimer(w.idleTimeout)
	defer func() {
		idleTimer.Stop()
		log.DebugContext(ctx, "stopped channel worker", "runtime", time.Since(startedAt))
	}()

	w.lastMessageAt.Store(startedAt.UnixMilli())
	startCh <- struct{}{}
	close(startCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signalStop:
			log.InfoContext(ctx, "got stop signal")
			return
		case <-idleTimer.C:
			// a message may have been dispatched after the timer fired
			if !w.dc.releaseIdleWorker(w) {
				idleTimer.Reset(w.idleTimeout)
				continue
			}
			log.DebugContext(ctx, "worker idle, stopping", "idle_timeout", w.idleTimeout)
			return
		case req := <-w.inbox:
			w.handle(ctx, log, req)
			w.lastMessageAt.Store(time.Now().UnixMilli())
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(w.idleTimeout)
		}
	}
}

// handle processes a single request. Panics are recovered, so one bad
// message doesn't stop the channel's worker.
func (w *channelWorker) handle(ctx context.Context, log *slog.Logger, req channelRequest) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "panic handling message", tint.Err(fmt.Errorf("%v", r)), "request", req)
			w.dc.metrics.discordMessage(messageOutcomeFailed)
		}
	}()

	d := w.dc
	if d.config.Chat.BackfillOnFirstMessage && d.config.Chat.BackfillLimit > 0 &&
		!d.chat.HasChannel(w.channelID) {
		n, err := d.chat.LoadChannelHistory(
			ctx,
			d.history,
			w.channelID,
			req.message.ID,
			d.config.Chat.BackfillLimit,
		)
		if err != nil {
			log.ErrorContext(ctx, "error loading channel history", tint.Err(err))
		} else {
			log.InfoContext(ctx, "loaded channel history", "messages", n)
		}
	}

	if !req.respond {
		d.chat.ObserveMessage(w.channelID, req.text, req.username)
		d.metrics.discordMessage(messageOutcomeObserved)
		return
	}

	log.InfoContext(ctx, "responding to message", "request", req)
	response, err := w.respond(ctx, req)
	if err != nil {
		log.ErrorContext(ctx, "error generating response", tint.Err(err))
		response = d.failureMessage(err)
	}

	content := shortenString(response, discordMaxMessageLength)
	if req.mentioned {
		_, err = d.discord.session.ChannelMessageSendReply(
			w.channelID,
			content,
			req.message.Reference(),
			discordgo.WithContext(ctx),
		)
	} else {
		_, err = d.discord.session.ChannelMessageSend(
			w.channelID,
			content,
			discordgo.WithContext(ctx),
		)
	}
	switch {
	case err != nil:
		log.ErrorContext(ctx, "error sending response", tint.Err(err))
		d.metrics.discordMessage(messageOutcomeFailed)
	default:
		d.metrics.discordMessage(messageOutcomeResponded)
	}
}

// respond generates a response, showing the typing indicator until
// it's ready
func (w *channelWorker) respond(ctx context.Context, req channelRequest) (string, error) {
	typingCtx, stopTyping := context.WithCancel(ctx)
	defer stopTyping()
	go w.typing(typingCtx)

	return w.dc.chat.GetResponse(ctx, w.channelID, req.text, req.username)
}

// typing shows the typing indicator until ctx is done. Discord
// clears the indicator after ~10 seconds, so it's refreshed.
func (w *channelWorker) typing(ctx context.Context) {
	ticker := time.NewTicker(typingInterval)
	defer ticker.Stop()
	for {
		if err := w.dc.discord.session.ChannelTyping(
			w.channelID,
			discordgo.WithContext(ctx),
		); err != nil && !errors.Is(err, context.Canceled) {
			w.dc.discord.logger.WarnContext(ctx, "error sending typing indicator", tint.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
