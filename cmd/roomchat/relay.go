package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/logging"
	"github.com/whisper/roomchat/internal/ratelimit"
	"github.com/whisper/roomchat/internal/relay"
)

func newRelayCmd() *cobra.Command {
	config := relay.DefaultServerConfig()
	logFile := "relay.log"
	logLevel := "info"
	redisAddr := os.Getenv("REDIS_ADDR")
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		config.ListenAddr = v
	}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a room server for the websocket transport",
		Long: `relay serves /ws for roomchat clients and /health for probes. Rooms and
their recent messages live in memory only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logFile, logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if redisAddr != "" {
				client := redis.NewClient(&redis.Options{Addr: redisAddr})
				defer client.Close()
				config.Limiter = ratelimit.NewRedis(client, logger.Named("ratelimit"))
			}
			return runRelay(cmd.Context(), config, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&config.ListenAddr, "listen", config.ListenAddr, "address to listen on")
	f.IntVar(&config.MaxConnections, "max-connections", config.MaxConnections, "maximum concurrent connections")
	f.IntVar(&config.BacklogSize, "backlog", config.BacklogSize, "recent messages kept per room")
	f.DurationVar(&config.WriteTimeout, "write-timeout", config.WriteTimeout, "timeout for each frame write")
	f.DurationVar(&config.Heartbeat.Interval, "heartbeat-interval", config.Heartbeat.Interval, "ping interval (0 disables heartbeats)")
	f.DurationVar(&config.Heartbeat.Timeout, "heartbeat-timeout", config.Heartbeat.Timeout, "grace after a missed ping before a silent connection is dropped")
	f.BoolVar(&config.Moderate, "moderate", config.Moderate, "block messages with listed terms or spam patterns")
	f.StringVar(&redisAddr, "redis-addr", redisAddr, "Redis address for rate limits shared between relays (empty keeps them in memory)")
	f.StringVar(&logFile, "log-file", logFile, "log file path (use stderr to log to the terminal)")
	f.StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn or error")
	return cmd
}

func runRelay(parent context.Context, config relay.ServerConfig, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.NewServer(config, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
