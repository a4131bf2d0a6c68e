package discochat

import (
	"encoding/json"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	commandStateReceived  = "received"
	commandStateCompleted = "completed"
	commandStateFailed    = "failed"

	columnCommandLogState    = "state"
	columnCommandLogResponse = "response"
	columnCommandLogError    = "error"
)

// CommandLog records a slash command invocation and how it was answered
//
//nolint:lll // struct tags can't be split
type CommandLog struct {
	ModelUintID
	ModelUnixTime

	InteractionID string `json:"interaction_id" gorm:"type:string;uniqueIndex"`
	CommandName   string `json:"command_name" gorm:"type:string;index"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"type:string"`
	Username      string `json:"username" gorm:"type:string"`

	// Options are the command's options, as JSON
	Options string `json:"options" gorm:"type:string"`

	State    string `json:"state" gorm:"type:string;not null;default:received"`
	Response string `json:"response" gorm:"type:string"`
	Error    string `json:"error" gorm:"type:string"`
}

func (CommandLog) TableName() string {
	return "command_log"
}

func newCommandLog(i *discordgo.InteractionCreate) *CommandLog {
	data := i.ApplicationCommandData()
	c := &CommandLog{
		InteractionID: i.ID,
		CommandName:   data.Name,
		ChannelID:     i.ChannelID,
		GuildID:       i.GuildID,
		State:         commandStateReceived,
	}
	if u := interactionUser(i.Interaction); u != nil {
		c.UserID = u.ID
		c.Username = u.Username
	}
	if len(data.Options) > 0 {
		options := make(map[string]any, len(data.Options))
		for _, opt := range data.Options {
			options[opt.Name] = opt.Value
		}
		if b, err := json.Marshal(options); err == nil {
			c.Options = string(b)
		} else {
			slog.Default().Error("error marshaling command options", tint.Err(err))
		}
	}
	return c
}

func (c CommandLog) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(c.ID)),
		slog.String("interaction_id", c.InteractionID),
		slog.String("command", c.CommandName),
		slog.String("channel_id", c.ChannelID),
		slog.String("user_id", c.UserID),
		slog.String("state", c.State),
	)
}
