package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/config"
	"github.com/whisper/roomchat/internal/history"
	"github.com/whisper/roomchat/internal/logging"
	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/transport"
	"github.com/whisper/roomchat/internal/tui"
	"github.com/whisper/roomchat/internal/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flag defaults come from the
// environment so an explicit flag always wins.
func newRootCmd() *cobra.Command {
	cfg := config.Default()
	cfg.ApplyEnv()

	root := &cobra.Command{
		Use:   "roomchat",
		Short: "Terminal client for shared chat rooms",
		Long: `roomchat joins or creates a chat room and shows its messages,
who is typing, and an input box.

Run without arguments to start the interactive client. Use "roomchat relay"
to run a local room server for the websocket transport.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runClient(cmd.Context(), cfg)
		},
	}

	f := root.Flags()
	f.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "websocket endpoint of the room server")
	f.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport to use: ws or nats")
	f.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server url for the nats transport")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the remembered room (empty keeps it in memory)")
	f.StringVar(&cfg.Profile, "profile", cfg.Profile, "name separating remembered rooms of several clients")
	f.StringVar(&cfg.HistoryDSN, "history-dsn", cfg.HistoryDSN, "Postgres DSN of the transcript archive (empty disables it)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve Prometheus metrics on (empty disables it)")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file path")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	f.StringVar(&cfg.Nickname, "nickname", cfg.Nickname, "nickname prefilled on the join screen")
	f.StringVar(&cfg.Icon, "icon", cfg.Icon, "icon shown next to your messages")
	f.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "timeout for each request to the server")
	f.DurationVar(&cfg.ReconnectWait, "reconnect-wait", cfg.ReconnectWait, "wait between reconnect attempts")
	f.IntVar(&cfg.MaxReconnects, "max-reconnects", cfg.MaxReconnects, "reconnect attempts per drop (-1 for infinite)")

	root.AddCommand(newRelayCmd())
	return root
}

func runClient(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("roomchat starting",
		zap.String("transport", cfg.Transport),
		zap.String("server_url", cfg.ServerURL),
		zap.String("nats_url", cfg.NATSURL),
		zap.String("profile", cfg.Profile),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("history", cfg.HistoryDSN != ""),
	)

	memory, closeMemory, err := openMemory(cfg)
	if err != nil {
		return err
	}
	defer closeMemory()

	opts := chat.Options{
		Dialer:         newDialer(cfg, logger),
		Memory:         memory,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		Icon:           cfg.Icon,
	}

	if cfg.HistoryDSN != "" {
		archive, err := history.Open(ctx, cfg.HistoryDSN, logger.Named("history"))
		if err != nil {
			return err
		}
		defer archive.Close()
		opts.Archive = archive
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	store := session.NewStore()
	ctrl := chat.New(store, opts)
	defer ctrl.Close()

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	return tui.Run(ctx, ctrl, store, ctrl.Notices(), cfg.Nickname)
}

func newDialer(cfg config.Config, logger *zap.Logger) transport.Dialer {
	if cfg.Transport == config.TransportNATS {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.ReconnectWait = cfg.ReconnectWait
		natsConfig.MaxReconnects = cfg.MaxReconnects
		return messaging.Dialer(natsConfig, logger.Named("nats"))
	}

	wsConfig := ws.DefaultConfig()
	wsConfig.URL = cfg.ServerURL
	wsConfig.WriteTimeout = cfg.RequestTimeout
	wsConfig.ReconnectWait = cfg.ReconnectWait
	wsConfig.MaxReconnects = cfg.MaxReconnects
	return ws.Dialer(wsConfig, logger.Named("ws"))
}

func openMemory(cfg config.Config) (session.Memory, func(), error) {
	if cfg.RedisAddr == "" {
		return session.NewInMemory(), func() {}, nil
	}
	mem, err := session.NewRedisMemory(cfg.RedisAddr, cfg.Profile)
	if err != nil {
		return nil, nil, err
	}
	return mem, func() { _ = mem.Close() }, nil
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}
