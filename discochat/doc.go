// Package discochat implements a Discord bot that chats along in the
// channels it's in, using an OpenAI chat completion model.
//
// Each channel gets its own conversation memory: a bounded list of recent
// turns, plus the system prompt. Every time the bot responds, that memory
// is rendered into the completion request, either as one message per turn
// or condensed into a single transcript.
//
// Key components of the package include:
//
//   - DiscoChat: The main struct, which connects everything and runs the bot.
//   - ChatAI: Manages per-channel memory and generates responses.
//   - ChannelMemory: A single channel's conversation history.
//   - Discord: Handles the gateway session and slash commands.
//   - OpenAI: A rate-limited, logged chat completion client.
//   - API: The admin HTTP API.
//
// The bot responds to DMs and mentions, and occasionally to other
// messages at random. Slash commands can clear a channel's memory,
// change the system prompt or reload history from Discord.
package discochat
