package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceDiscord = "discord"
	SourceSlack   = "slack"
)

// Sentinel configuration errors. Both are fatal at startup.
var (
	ErrMissingCredential = errors.New("missing event source credential")
	ErrInvalidChannelID  = errors.New("invalid bridge channel id")
)

// Config is the root configuration for the relay.
type Config struct {
	Source  SourceConfig  `json:"source" yaml:"source"`
	Discord DiscordConfig `json:"discord" yaml:"discord"`
	Slack   SlackConfig   `json:"slack" yaml:"slack"`
	Bridge  BridgeConfig  `json:"bridge" yaml:"bridge"`
	Stream  StreamConfig  `json:"stream" yaml:"stream"`
	Assets  AssetsConfig  `json:"assets" yaml:"assets"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

type SourceConfig struct {
	Kind string `json:"kind" yaml:"kind"` // "discord" | "slack"
}

type DiscordConfig struct {
	Token string `json:"token" yaml:"token"`
}

type SlackConfig struct {
	BotToken string `json:"botToken" yaml:"botToken"`
	AppToken string `json:"appToken" yaml:"appToken"` // required for Socket Mode
}

// BridgeConfig names the single upstream conversation that is relayed.
type BridgeConfig struct {
	ChannelID string `json:"channelId" yaml:"channelId"`
}

type StreamConfig struct {
	Host                string `json:"host" yaml:"host"`
	Port                int    `json:"port" yaml:"port"`
	WriteTimeoutSeconds int    `json:"writeTimeoutSeconds" yaml:"writeTimeoutSeconds"`
	CloseDisplaced      bool   `json:"closeDisplaced" yaml:"closeDisplaced"`
}

type AssetsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
	Dir     string `json:"dir" yaml:"dir"`
	Index   string `json:"index" yaml:"index"`
	Metrics bool   `json:"metrics" yaml:"metrics"`
}

type JournalConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format"` // text | json
	File   string `json:"file" yaml:"file"`
}

// DefaultConfigDir returns the default config directory (~/.discordrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".discordrelay"
	}
	return filepath.Join(home, ".discordrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the config file at path, overlays environment variables and
// validates the result. An empty path or a missing default file yields
// defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)

	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.Log.File = ExpandPath(cfg.Log.File)
	cfg.Assets.Dir = ExpandPath(cfg.Assets.Dir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFile decodes the file at path over cfg as written, without expanding
// environment references or validating.
func LoadFile(path string, cfg *Config) (*Config, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	if err := unmarshal(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// ApplyEnv overlays the well-known environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("RELAY_SOURCE"); v != "" {
		cfg.Source.Kind = v
	}
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("BRIDGE_CHANNEL_ID"); v != "" {
		cfg.Bridge.ChannelID = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		cfg.Slack.AppToken = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg to path, as YAML or JSON depending on the extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// Tokens live in this file.
	return os.WriteFile(path, data, 0o600)
}

var slackChannelPattern = regexp.MustCompile(`^[CDG][A-Z0-9]+$`)

// ValidateChannelID checks id against the native identifier format of the source.
func ValidateChannelID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: bridge.channelId (BRIDGE_CHANNEL_ID) is required", ErrInvalidChannelID)
	}
	switch kind {
	case SourceDiscord:
		if n, err := strconv.ParseUint(id, 10, 64); err != nil || n == 0 {
			return fmt.Errorf("%w: %q is not a Discord snowflake", ErrInvalidChannelID, id)
		}
	case SourceSlack:
		if !slackChannelPattern.MatchString(id) {
			return fmt.Errorf("%w: %q is not a Slack conversation id", ErrInvalidChannelID, id)
		}
	}
	return nil
}

// unset reports whether a credential is empty or an unresolved ${VAR}.
func unset(v string) bool {
	return v == "" || envVarPattern.MatchString(v)
}

// Validate checks that the config has valid values. Credential and channel
// problems wrap ErrMissingCredential and ErrInvalidChannelID.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Source.Kind {
	case SourceDiscord:
		if unset(cfg.Discord.Token) {
			errs = append(errs, fmt.Errorf("%w: discord.token (DISCORD_TOKEN) is required", ErrMissingCredential))
		}
	case SourceSlack:
		if unset(cfg.Slack.BotToken) {
			errs = append(errs, fmt.Errorf("%w: slack.botToken (SLACK_BOT_TOKEN) is required", ErrMissingCredential))
		}
		if unset(cfg.Slack.AppToken) {
			errs = append(errs, fmt.Errorf("%w: slack.appToken (SLACK_APP_TOKEN) is required", ErrMissingCredential))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind must be one of: discord, slack (got %q)", cfg.Source.Kind))
	}

	if err := ValidateChannelID(cfg.Source.Kind, cfg.Bridge.ChannelID); err != nil {
		errs = append(errs, err)
	}

	if cfg.Stream.Port < 1 || cfg.Stream.Port > 65535 {
		errs = append(errs, errors.New("stream.port must be between 1 and 65535"))
	}
	if cfg.Stream.WriteTimeoutSeconds < 1 {
		errs = append(errs, errors.New("stream.writeTimeoutSeconds must be >= 1"))
	}
	if cfg.Assets.Enabled {
		if cfg.Assets.Port < 1 || cfg.Assets.Port > 65535 {
			errs = append(errs, errors.New("assets.port must be between 1 and 65535"))
		}
		if cfg.Assets.Port == cfg.Stream.Port && cfg.Assets.Host == cfg.Stream.Host {
			errs = append(errs, errors.New("assets.port must differ from stream.port"))
		}
	}
	if cfg.Journal.Enabled {
		if cfg.Journal.DBPath == "" {
			errs = append(errs, errors.New("journal.dbPath is required when the journal is enabled"))
		}
		if cfg.Journal.RetentionDays < 1 {
			errs = append(errs, errors.New("journal.retentionDays must be >= 1"))
		}
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("log.level must be one of: debug, info, warn, error"))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, errors.New("log.format must be one of: text, json"))
	}

	return errors.Join(errs...)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
