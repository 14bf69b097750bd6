package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devrev/voicelink/pkg/config"
	"github.com/devrev/voicelink/pkg/model"
	"github.com/devrev/voicelink/pkg/voicelink"
)

const shutdownTimeout = 10 * time.Second

func runCmd(configPath *string) *cobra.Command {
	var admin bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to every configured node and log their events",
		Long: `Connect to every configured node, keep the connections alive and log
every event the nodes send. With metrics.enabled (or --admin) the admin
server exposes /metrics, /health/live, /health/ready, /nodes and
/players/{guild_id}.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if admin {
				cfg.Metrics.Enabled = true
			}
			return run(cfg)
		},
	}

	cmd.Flags().BoolVar(&admin, "admin", false, "serve the admin endpoints even if metrics.enabled is false")
	return cmd
}

func run(cfg *config.Config) error {
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("user_id", cfg.UserID),
		zap.String("client_name", cfg.ClientName),
		zap.Int("nodes", len(cfg.Nodes)),
		zap.String("selection_policy", cfg.Pool.SelectionPolicy))

	client, err := voicelink.New(cfg, voicelink.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.Start(ctx)

	adminErr := make(chan error, 1)
	if cfg.Metrics.Enabled {
		srv := client.AdminServer()
		go func() {
			adminErr <- srv.Start()
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Error("Admin server shutdown failed", zap.Error(err))
			}
		}()
	}

	events := client.Events()
loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			logEvent(logger, ev)
		case err := <-adminErr:
			if err != nil {
				logger.Error("Admin server failed", zap.Error(err))
			}
			adminErr = nil
		case <-ctx.Done():
			break loop
		}
	}

	logger.Info("Shutting down gracefully...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return client.Shutdown(sctx)
}

// logEvent logs one event with the fields relevant to its kind.
func logEvent(logger *zap.Logger, ev model.NodeEvent) {
	fields := []zap.Field{
		zap.String("node_id", ev.NodeID),
		zap.String("op", string(ev.Event.Op())),
	}
	if guild := ev.Event.Guild(); guild != "" {
		fields = append(fields, zap.String("guild_id", guild))
	}

	switch e := ev.Event.(type) {
	case model.Stats:
		fields = append(fields,
			zap.Int("players", e.Players),
			zap.Int("playing_players", e.PlayingPlayers),
			zap.Float64("cpu_load", e.CPULoad()))
		logger.Debug("Node stats", fields...)
	case model.PlayerUpdate:
		logger.Debug("Player update", fields...)
	case model.TrackEnd:
		fields = append(fields,
			zap.String("reason", string(e.Reason)),
			zap.Bool("may_start_next", e.Reason.MayStartNext()))
		logger.Info("Track ended", fields...)
	case model.NodeStatus:
		fields = append(fields, zap.String("previous", e.Previous), zap.String("phase", e.Phase))
		logger.Info("Node status", fields...)
	case model.TrackException, model.TrackStuck, model.WebSocketClosed, model.QueueOverflow, model.PlayerLost:
		logger.Warn("Node event", append(fields, zap.Any("event", e))...)
	default:
		logger.Info("Node event", append(fields, zap.Any("event", e))...)
	}
}
