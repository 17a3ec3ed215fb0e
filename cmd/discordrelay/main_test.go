package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"discordrelay/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSource(t *testing.T) {
	cfg := config.Defaults()
	cfg.Bridge.ChannelID = "123"

	src, err := buildSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, "discord", src.Name())

	cfg.Source.Kind = config.SourceSlack
	src, err = buildSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, "slack", src.Name())

	cfg.Source.Kind = "irc"
	_, err = buildSource(cfg)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "relay.log")
	log, closeLog, err := newLogger(config.LogConfig{Level: "debug", Format: "json", File: logFile})
	require.NoError(t, err)

	log.Debug("hello", "k", "v")
	closeLog()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, _, err := newLogger(config.LogConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)
}

func TestServiceTemplates(t *testing.T) {
	unit := renderSystemd("/usr/local/bin/discordrelay", "/etc/relay.yaml")
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/discordrelay run --config /etc/relay.yaml")

	plist := renderLaunchd("/home/u", "/bin/discordrelay", "/home/u/.discordrelay/config.yaml")
	assert.Contains(t, plist, "<string>"+launchdLabel+"</string>")
	assert.Contains(t, plist, "<string>run</string>")
	assert.False(t, strings.Contains(plist, "{{"), "placeholders left in plist")
}

func TestLoadRaw_MissingFileGivesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg, err := loadRaw(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Stream.Port)

	require.NoError(t, config.SetByPath(cfg, "bridge.channelId", "42"))
	require.NoError(t, config.Save(path, cfg))

	again, err := loadRaw(path)
	require.NoError(t, err)
	assert.Equal(t, "42", again.Bridge.ChannelID)
}

func TestDescribeLive(t *testing.T) {
	empty := map[string]any{"uptime_seconds": 12.0, "slot": "empty"}
	assert.Equal(t, "up 12s, slot empty", describeLive(empty))

	live := map[string]any{"uptime_seconds": 3.0, "slot": "occupied", "live_sink": "abc"}
	assert.Equal(t, "up 3s, slot occupied (abc)", describeLive(live))
}
