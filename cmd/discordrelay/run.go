package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"discordrelay/internal/bus"
	"discordrelay/internal/config"
	"discordrelay/internal/domain"
	"discordrelay/internal/journal"
	"discordrelay/internal/relay"
	"discordrelay/internal/source"
	"discordrelay/internal/stream"
	"discordrelay/internal/web"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay (event source + stream + asset server)",
		Long:  "Connects to the event source, accepts websocket clients and relays events until interrupted.",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, err := buildSource(cfg)
	if err != nil {
		return err
	}

	// Connection journal
	var connJournal domain.ConnectionJournal
	if cfg.Journal.Enabled {
		j, err := openJournal(ctx, cfg.Journal)
		if err != nil {
			return err
		}
		defer j.Close()
		connJournal = j
	}

	// Stream: bind before the source starts so a port conflict is fatal
	// before any upstream session exists.
	slot := stream.NewSlot()
	acceptor := stream.NewAcceptor(stream.AcceptorConfig{
		Host:           cfg.Stream.Host,
		Port:           cfg.Stream.Port,
		WriteTimeout:   time.Duration(cfg.Stream.WriteTimeoutSeconds) * time.Second,
		CloseDisplaced: cfg.Stream.CloseDisplaced,
		Slot:           slot,
		Journal:        connJournal,
		Logger:         logger,
	})
	if err := acceptor.Listen(); err != nil {
		return err
	}

	dispatcher := bus.NewDispatcher(logger)
	rl := relay.New(relay.Config{
		Target: cfg.Bridge.ChannelID,
		Sender: slot,
		Logger: logger,
	})
	rl.Subscribe(dispatcher)

	errCh := make(chan error, 3)
	running := 0
	start := func(name string, fn func(context.Context) error) {
		running++
		go func() {
			err := fn(ctx)
			if err != nil {
				err = fmt.Errorf("%s: %w", name, err)
			}
			errCh <- err
		}()
	}

	start("stream", acceptor.Serve)

	if cfg.Assets.Enabled {
		assets := web.NewServer(web.ServerConfig{
			Host:       cfg.Assets.Host,
			Port:       cfg.Assets.Port,
			Dir:        cfg.Assets.Dir,
			Index:      cfg.Assets.Index,
			Metrics:    cfg.Assets.Metrics,
			Source:     src.Name(),
			Target:     cfg.Bridge.ChannelID,
			StreamPort: cfg.Stream.Port,
			Version:    version,
			Slot:       slot,
			Journal:    connJournal,
			Logger:     logger,
		})
		start("assets", assets.Start)
	}

	start("source", func(ctx context.Context) error {
		if err := src.Start(ctx, dispatcher); err != nil {
			return err
		}
		if ctx.Err() == nil {
			return errors.New("event source stopped")
		}
		return nil
	})

	logger.Info("relay started", "source", src.Name(), "channel", cfg.Bridge.ChannelID, "stream", acceptor.Addr().String())

	// The first component to return ends the process.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down relay...")
	case runErr = <-errCh:
		running--
		if runErr != nil {
			logger.Error("component failed", "err", runErr)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	for ; running > 0; running-- {
		select {
		case err := <-errCh:
			if err != nil {
				logger.Warn("component stopped with error", "err", err)
			}
		case <-shutdownCtx.Done():
			logger.Warn("shutdown timed out, forcing exit")
			return errors.Join(runErr, errors.New("shutdown timed out"))
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

func openJournal(ctx context.Context, cfg config.JournalConfig) (*journal.SQLiteJournal, error) {
	j, err := journal.NewSQLiteJournal(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("connection journal: %w", err)
	}

	now := time.Now()
	if n, err := j.MarkAbandoned(ctx, now); err != nil {
		logger.Warn("cannot close stale journal entries", "err", err)
	} else if n > 0 {
		logger.Info("closed journal entries from previous run", "count", n)
	}
	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)
	if _, err := j.Prune(ctx, cutoff); err != nil {
		logger.Warn("journal prune failed", "err", err)
	}
	return j, nil
}

func buildSource(cfg *config.Config) (domain.EventSource, error) {
	switch cfg.Source.Kind {
	case config.SourceDiscord:
		return source.NewDiscord(source.DiscordConfig{
			Token:     cfg.Discord.Token,
			ChannelID: cfg.Bridge.ChannelID,
			Logger:    logger,
		}), nil
	case config.SourceSlack:
		return source.NewSlack(source.SlackConfig{
			BotToken:  cfg.Slack.BotToken,
			AppToken:  cfg.Slack.AppToken,
			ChannelID: cfg.Bridge.ChannelID,
			Logger:    logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

// newLogger builds the process logger from the log section. The returned
// func closes the log file, if any.
func newLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closeFn, nil
}
