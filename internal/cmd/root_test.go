package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{"set all values", "1.0.0", "abc123", "2024-01-15"},
		{"set dev version", "dev", "HEAD", "unknown"},
		{"set empty values", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)
			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(foundry.ExitInvalidArgument, "Invalid input", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Invalid input: boom")
	assert.Contains(t, err.Error(), fmt.Sprintf("(exit code %d)", int(foundry.ExitInvalidArgument)))
	assert.Equal(t, int(foundry.ExitInvalidArgument), ExitCode(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), ExitCode(wrapped))

	bare := exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", nil)
	assert.Equal(t, fmt.Sprintf("Diagnostics failed (exit code %d)", int(foundry.ExitExternalServiceUnavailable)), bare.Error())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
	assert.Equal(t, int(foundry.ExitSignalInt), ExitCode(context.Canceled))
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.4.0", "deadbeef", "2026-10-01")

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)
	versionCmd.Run(versionCmd, nil)

	out := buf.String()
	assert.Contains(t, out, "hepgrid 1.4.0")
	assert.Contains(t, out, "commit: deadbeef")
	assert.Equal(t, "true", versionCmd.Annotations[skipConfig])
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"init", "submit", "list", "stats", "kill", "clean", "disable", "enable", "renew",
		"stdout", "log", "get", "check-warmup", "watch", "serve", "version", "pipeline", "doctor"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
}
