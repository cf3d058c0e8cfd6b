package relay

import (
	"time"

	"go.uber.org/zap"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically pings all
// connections and removes those that have gone stale. It returns immediately;
// the goroutine exits when the server shuts down. A non-positive interval
// disables the monitor.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config, time.Now())
			}
		}
	}()
}

// checkConnections removes connections with no frame read within
// Interval + Timeout and pings the rest. Clients answer pings with pongs,
// which the read loop records as activity.
func checkConnections(server *Server, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastActive())
		if idle > deadline {
			server.logger.Info("heartbeat timeout", zap.String("user", c.ID),
				zap.Duration("idle", idle.Round(time.Second)))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			server.logger.Debug("heartbeat ping failed", zap.String("user", c.ID), zap.Error(err))
			server.RemoveConnection(c)
		}
	}
}
