package discochat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// discordMaxHistoryPage is the most messages Discord returns per request
const discordMaxHistoryPage = 100

// HistoryMessage is a message loaded from a channel's history
type HistoryMessage struct {
	Text     string
	Username string

	// Own is true for messages the bot sent
	Own bool
}

// HistorySource loads the most recent messages in a channel
type HistorySource interface {
	// History returns up to limit of the channel's most recent messages,
	// oldest first. If beforeID is set, only messages sent before it
	// are returned.
	History(
		ctx context.Context,
		channelID string,
		beforeID string,
		limit int,
	) ([]HistoryMessage, error)
}

// discordHistory loads channel history from the Discord API
type discordHistory struct {
	session DiscordSessionHandler

	// botUserID returns the bot's own user ID, which may not be
	// known until the gateway is ready
	botUserID func() string
}

func (h discordHistory) History(
	ctx context.Context,
	channelID string,
	beforeID string,
	limit int,
) ([]HistoryMessage, error) {
	if limit < 1 {
		return nil, nil
	}
	selfID := h.botUserID()

	// discord returns newest first
	var history []HistoryMessage
	for len(history) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageSize := min(limit-len(history), discordMaxHistoryPage)
		page, err := h.session.ChannelMessages(
			channelID,
			pageSize,
			beforeID,
			"",
			"",
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("error retrieving channel messages: %w", err)
		}
		for _, m := range page {
			if hm, ok := historyMessage(m, selfID); ok {
				history = append(history, hm)
			}
		}
		if len(page) < pageSize {
			break
		}
		beforeID = page[len(page)-1].ID
	}
	if len(history) > limit {
		history = history[:limit]
	}
	slices.Reverse(history)
	return history, nil
}

func historyMessage(m *discordgo.Message, selfID string) (HistoryMessage, bool) {
	if m == nil || m.Author == nil || strings.TrimSpace(m.Content) == "" {
		return HistoryMessage{}, false
	}
	return HistoryMessage{
		Text:     stripMention(m.Content, selfID),
		Username: discordDisplayName(m.Author),
		Own:      selfID != "" && m.Author.ID == selfID,
	}, true
}

// LoadChannelHistory replaces the channel's memory with up to limit of
// its most recent messages from src, sent before beforeID (if set).
// The bot's own messages become assistant turns. The channel is left
// untouched if there's no history. Returns the number of messages loaded.
func (c *ChatAI) LoadChannelHistory(
	ctx context.Context,
	src HistorySource,
	channelID string,
	beforeID string,
	limit int,
) (int, error) {
	messages, err := src.History(ctx, channelID, beforeID, limit)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	items := make([]MemoryItem, 0, len(messages))
	for _, m := range messages {
		item := MemoryItem{Text: m.Text, Username: m.Username, Role: RoleUser}
		if m.Own {
			item.Username = c.config.BotName
			item.Role = RoleAssistant
		}
		items = append(items, item)
	}
	c.InitialiseChannelHistory(channelID, items)
	return len(items), nil
}
