package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"discordrelay/internal/config"
	"discordrelay/internal/journal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// A .env in the working directory is optional.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("cannot load .env", "err", err)
	}

	root := &cobra.Command{
		Use:   "discordrelay",
		Short: "Relay one chat channel to a local websocket viewer",
		Long: `discordrelay watches a single Discord (or Slack) channel and forwards new
messages and reaction snapshots, as JSON text frames, to the most recently
connected websocket client.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.discordrelay/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serviceCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
// The default is only used when the file exists, so env-only setups work.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	def := config.DefaultConfigPath()
	if _, err := os.Stat(def); err != nil {
		return ""
	}
	return def
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := configPath
			if cfgPath == "" {
				cfgPath = config.DefaultConfigPath()
			}
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			// Tokens stay as references so the file never holds secrets by default.
			cfg.Discord.Token = "${DISCORD_TOKEN}"
			cfg.Bridge.ChannelID = "${BRIDGE_CHANNEL_ID}"
			cfg.Slack.BotToken = "${SLACK_BOT_TOKEN}"
			cfg.Slack.AppToken = "${SLACK_APP_TOKEN}"

			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay status and recent stream connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			fmt.Printf("source:  %s (channel %s)\n", cfg.Source.Kind, cfg.Bridge.ChannelID)
			fmt.Printf("stream:  ws://%s\n", net.JoinHostPort(cfg.Stream.Host, strconv.Itoa(cfg.Stream.Port)))

			if cfg.Assets.Enabled {
				live, err := fetchLiveStatus(cmd.Context(), cfg)
				if err != nil {
					fmt.Printf("relay:   not reachable (%v)\n", err)
				} else {
					fmt.Println("relay:   " + describeLive(live))
				}
			}

			if !cfg.Journal.Enabled {
				return nil
			}
			j, err := journal.NewSQLiteJournal(cfg.Journal.DBPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			recs, err := j.Recent(cmd.Context(), 10)
			if err != nil {
				return err
			}
			fmt.Printf("\nrecent connections:\n")
			for _, r := range recs {
				end := "live"
				if r.DisconnectedAt != nil {
					end = r.DisconnectedAt.Local().Format(time.DateTime) + " " + r.CloseReason
				}
				displaced := ""
				if r.Displaced {
					displaced = " (displaced)"
				}
				fmt.Printf("  %s  %-21s %s -> %s%s\n", r.ID, r.RemoteAddr, r.ConnectedAt.Local().Format(time.DateTime), end, displaced)
			}
			return nil
		},
	}
}

// describeLive summarizes a /status payload. The connection id is only
// present while a client holds the slot.
func describeLive(live map[string]any) string {
	uptime, _ := live["uptime_seconds"].(float64)
	out := fmt.Sprintf("up %ds, slot %v", int64(uptime), live["slot"])
	if id, ok := live["live_sink"].(string); ok && id != "" {
		out += " (" + id + ")"
	}
	return out
}

func fetchLiveStatus(ctx context.Context, cfg *config.Config) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	url := "http://" + net.JoinHostPort(cfg.Assets.Host, strconv.Itoa(cfg.Assets.Port)) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if _, ok := out["uptime_seconds"].(float64); !ok {
		return nil, fmt.Errorf("unexpected status payload")
	}
	return out, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. stream.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. bridge.channelId 123456789012345678)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := configPath
			if cfgPath == "" {
				cfgPath = config.DefaultConfigPath()
			}
			cfg, err := loadRaw(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, p := range config.SortedPaths(paths) {
				fmt.Printf("%s = %v\n", p, paths[p])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				fmt.Println(configPath)
				return
			}
			fmt.Println(config.DefaultConfigPath())
		},
	})

	return cmd
}

// loadRaw reads a config file without env expansion or validation, so that
// `config set` writes back ${VAR} references unchanged.
func loadRaw(path string) (*config.Config, error) {
	cfg := config.Defaults()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, os.MkdirAll(filepath.Dir(path), 0o755)
	}
	return config.LoadFile(path, cfg)
}
