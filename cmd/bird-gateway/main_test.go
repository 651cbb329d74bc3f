package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bird-gateway/internal/config"
)

func TestParseTokenArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		subject string
		ttl     time.Duration
		wantErr bool
	}{
		{name: "default ttl", args: []string{"ops"}, subject: "ops", ttl: 30 * 24 * time.Hour},
		{name: "ttl after subject", args: []string{"ops", "--ttl", "2h"}, subject: "ops", ttl: 2 * time.Hour},
		{name: "ttl equals form first", args: []string{"--ttl=15m", "ops"}, subject: "ops", ttl: 15 * time.Minute},
		{name: "missing subject", args: []string{"--ttl", "1h"}, wantErr: true},
		{name: "missing ttl value", args: []string{"ops", "--ttl"}, wantErr: true},
		{name: "negative ttl", args: []string{"ops", "--ttl=-1h"}, wantErr: true},
		{name: "bad ttl", args: []string{"ops", "--ttl", "soon"}, wantErr: true},
		{name: "unknown flag", args: []string{"ops", "--admin"}, wantErr: true},
		{name: "two subjects", args: []string{"ops", "dev"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, ttl, err := parseTokenArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
			assert.Equal(t, tt.ttl, ttl)
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("BIRD_CONFIG", "/etc/bird.yaml")
		assert.Equal(t, "/etc/bird.yaml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("BIRD_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		assert.Equal(t, filepath.Join("/tmp/xdg", "bird", "gateway.yaml"), getConfigPath())
	})
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := slog.New(&colorHandler{out: &buf, level: slog.LevelInfo}).
		With("component", "pipeline").
		WithGroup("msg")

	logger.Debug("hidden")
	logger.Info("classified", "intent", "MAINTENANCE")
	logger.Error("publish failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF classified")
	assert.Contains(t, lines[0], "component=pipeline")
	assert.Contains(t, lines[0], "msg.intent=MAINTENANCE")
	assert.Contains(t, lines[1], "ERR publish failed")
}

func TestSetupLogger(t *testing.T) {
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	_, isJSON := logger.Handler().(*slog.JSONHandler)
	assert.True(t, isJSON)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger = setupLogger(config.LoggingConfig{Level: "debug"})
	_, isColor := logger.Handler().(*colorHandler)
	assert.True(t, isColor)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestIsYes(t *testing.T) {
	assert.True(t, isYes("Y"))
	assert.True(t, isYes(" yes "))
	assert.False(t, isYes("no"))
	assert.False(t, isYes(""))
}
