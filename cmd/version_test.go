package cmd

import (
	"fmt"
	"testing"

	"github.com/arcward/discochat/discochat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := discochat.Version
	originalCommitSHA := discochat.CommitSHA
	originalBuildTime := discochat.BuildTime

	t.Cleanup(
		func() {
			discochat.Version = originalVersion
			discochat.CommitSHA = originalCommitSHA
			discochat.BuildTime = originalBuildTime
		},
	)

	discochat.Version = "1.0.0"
	discochat.CommitSHA = "abc123"
	discochat.BuildTime = "2023-10-01T12:00:00Z"

	output, err := executeCommand(t, "version")
	require.NoError(t, err)

	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		discochat.Version,
		discochat.CommitSHA,
		discochat.BuildTime,
	)
	assert.Equal(t, expected, output)
}

func TestVersionCommand_NoArgs(t *testing.T) {
	_, err := executeCommand(t, "version", "extra")
	assert.Error(t, err)
}
