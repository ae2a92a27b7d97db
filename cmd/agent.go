package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qrave1/RoomSync/internal/agent"
	"github.com/qrave1/RoomSync/internal/application/config"
	"github.com/qrave1/RoomSync/internal/application/constant"
	"github.com/qrave1/RoomSync/internal/domain/models"
)

var agentFlags struct {
	url           string
	room          string
	host          bool
	name          string
	tracks        string
	disbandOnExit bool
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Join a room as a headless host or guest and log what it syncs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd.Context())
	},
}

func init() {
	agentCmd.Flags().StringVar(&agentFlags.url, "url", "ws://localhost:3000/ws", "sync server websocket url")
	agentCmd.Flags().StringVar(&agentFlags.room, "room", "", "room code, a new one is generated for hosts when empty")
	agentCmd.Flags().BoolVar(&agentFlags.host, "host", false, "join as host")
	agentCmd.Flags().StringVar(&agentFlags.name, "name", "agent", "display name in the activity board")
	agentCmd.Flags().StringVar(&agentFlags.tracks, "tracks", "", "host only: path to a JSON array of tracks")
	agentCmd.Flags().BoolVar(&agentFlags.disbandOnExit, "disband-on-exit", false, "host only: disband the room on shutdown")

	rootCmd.AddCommand(agentCmd)
}

func runAgent(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	room := agentFlags.room
	if room == "" {
		if !agentFlags.host {
			return errors.New("--room is required for guests")
		}

		if room, err = agent.NewRoomCode(); err != nil {
			return err
		}
	}

	a := agent.New(
		agent.Config{RoomCode: room, IsHost: agentFlags.host, Username: agentFlags.name, Sync: cfg.Sync},
		agent.NewWSDialer(agentFlags.url, nil),
		agent.WithOnStateChanged(func(s agent.State) {
			slog.Info("state changed", slog.String(constant.State, s.String()))
		}),
		agent.WithOnTracksChanged(func(tracks []models.Track) {
			slog.Info("tracks changed", slog.Int("count", len(tracks)))
		}),
		agent.WithOnPresenceChanged(func(entries []models.PresenceEntry) {
			for _, e := range entries {
				slog.Info(
					"activity",
					slog.Any(constant.MemberID, e.MemberID),
					slog.String("username", e.Username),
					slog.String("track_id", e.TrackID),
					slog.Bool("is_playing", e.IsPlaying),
				)
			}
		}),
	)

	if agentFlags.host && agentFlags.tracks != "" {
		tracks, err := loadTracks(agentFlags.tracks)
		if err != nil {
			return err
		}

		if err = a.SetTracks(tracks); err != nil {
			return err
		}
	}

	slog.Info("joining room", slog.String(constant.RoomCode, room), slog.Bool(constant.IsHost, agentFlags.host))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.WithoutCancel(ctx)) }()

	select {
	case err = <-done:
		if errors.Is(err, agent.ErrRoomDisbanded) {
			slog.Info("session closed: room disbanded by host")
			return nil
		}
		return err

	case <-ctx.Done():
		if agentFlags.host && agentFlags.disbandOnExit {
			if err = a.Disband(); err != nil {
				slog.Warn("disband room", slog.Any(constant.Error, err))
			}
		} else {
			a.Leave()
		}

		return <-done
	}
}

func loadTracks(path string) ([]models.Track, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tracks: %w", err)
	}

	var tracks []models.Track
	if err = json.Unmarshal(raw, &tracks); err != nil {
		return nil, fmt.Errorf("decode tracks: %w", err)
	}

	return tracks, nil
}
