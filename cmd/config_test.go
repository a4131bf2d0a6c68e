package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigCommand(t *testing.T) {
	t.Setenv("DC_OPENAI_TOKEN", "sk-very-secret")
	t.Setenv("DC_DISCORD_TOKEN", "discord-very-secret")
	t.Setenv("DC_BOT_NAME", "yamlbot")
	t.Setenv("DC_CHAT_HISTORY_LENGTH", "12")
	t.Setenv("DC_API_LOG_LEVEL", "ERROR")

	output, err := executeCommand(t, "config")
	require.NoError(t, err)

	assert.NotContains(t, output, "sk-very-secret")
	assert.NotContains(t, output, "discord-very-secret")

	var view configView
	require.NoError(t, yaml.Unmarshal([]byte(output), &view), output)

	assert.Equal(t, "yamlbot", view.BotName)
	assert.Equal(t, redacted, view.OpenAI.Token)
	assert.Equal(t, redacted, view.Discord.Token)
	assert.Equal(t, 12, view.Chat.HistoryLength)
	assert.Equal(t, "ERROR", view.API.LogLevel)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, redacted, redact("secret"))
}
