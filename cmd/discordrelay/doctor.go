package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"discordrelay/internal/config"
	"discordrelay/internal/journal"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the relay setup",
		Long: `Verifies that the configuration, credentials, channel id, journal database
and ports are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("discordrelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if cfgPath == "" {
				printWarn("Config file", "none found, using defaults and environment")
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			switch {
			case errors.Is(err, config.ErrMissingCredential):
				printFail("Credentials", err.Error())
				failed++
			case errors.Is(err, config.ErrInvalidChannelID):
				printFail("Channel id", err.Error())
				failed++
			case err != nil:
				printFail("Config validation", err.Error())
				failed++
			default:
				printPass("Config validation", "valid")
				printPass("Source", fmt.Sprintf("%s, channel %s", cfg.Source.Kind, cfg.Bridge.ChannelID))
				passed += 2
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				fmt.Printf("\nRun 'discordrelay init' to create a default configuration.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}

			// 3. Journal database writable
			if cfg.Journal.Enabled {
				if err := checkJournal(cfg.Journal.DBPath); err != nil {
					printFail("Journal", err.Error())
					failed++
				} else {
					printPass("Journal", cfg.Journal.DBPath)
					passed++
				}
			}

			// 4. Ports
			if err := checkPort(cfg.Stream.Host, cfg.Stream.Port); err != nil {
				printFail("Stream port", fmt.Sprintf("port %d unavailable: %v", cfg.Stream.Port, err))
				failed++
			} else {
				printPass("Stream port", fmt.Sprintf(":%d available", cfg.Stream.Port))
				passed++
			}

			if cfg.Assets.Enabled {
				if err := checkPort(cfg.Assets.Host, cfg.Assets.Port); err != nil {
					printWarn("Assets port", fmt.Sprintf("port %d may be in use: %v", cfg.Assets.Port, err))
					warned++
				} else {
					printPass("Assets port", fmt.Sprintf(":%d available", cfg.Assets.Port))
					passed++
				}

				index := filepath.Join(cfg.Assets.Dir, cfg.Assets.Index)
				if _, err := os.Stat(index); err != nil {
					printWarn("Viewer page", fmt.Sprintf("%s not found, built-in viewer will be served", index))
					warned++
				} else {
					printPass("Viewer page", index)
					passed++
				}
			}

			// 5. Log file writable
			if cfg.Log.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.Log.File)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the relay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe relay should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Start it with 'discordrelay run'.\n")
			}
			return nil
		},
	}
}

// checkJournal opens the journal, which creates and migrates it, and runs a
// read.
func checkJournal(dbPath string) error {
	j, err := journal.NewSQLiteJournal(dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := j.Recent(ctx, 1); err != nil {
		return fmt.Errorf("cannot query: %w", err)
	}
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
