package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/RoomSync/internal/application/constant"
	"github.com/qrave1/RoomSync/internal/application/metric"
	"github.com/qrave1/RoomSync/internal/domain/events"
	"github.com/qrave1/RoomSync/internal/domain/models"
	"github.com/qrave1/RoomSync/internal/infra/adapters/memory"
)

var ErrRoomCodeRequired = errors.New("room code is required")

// SyncUsecase определяет интерфейс синхронизации комнат
type SyncUsecase interface {
	HandleConnect(ctx context.Context, memberID uuid.UUID)
	HandleLeave(ctx context.Context, memberID uuid.UUID)

	HandleJoin(ctx context.Context, memberID uuid.UUID, event events.JoinRoomEvent) error
	HandleRequestTracks(ctx context.Context, memberID uuid.UUID, roomCode string) error
	HandleSyncTracks(ctx context.Context, memberID uuid.UUID, event events.SyncTracksEvent) error
	HandleUpdateActivity(ctx context.Context, memberID uuid.UUID, event events.UpdateActivityEvent) error
	HandleDisband(ctx context.Context, memberID uuid.UUID, roomCode string) error

	HandlePing(ctx context.Context, memberID uuid.UUID)

	// SweepPresence удаляет устаревшие статусы, возвращает их количество
	SweepPresence(ctx context.Context) int
	RunPresenceSweeper(ctx context.Context, interval time.Duration) error
}

type syncUsecase struct {
	roomRepo memory.RoomRepository
	wsRepo   memory.WebsocketConnectionRepository

	presenceTTL time.Duration
	now         func() time.Time
}

func NewSyncUsecase(
	roomRepo memory.RoomRepository,
	wsRepo memory.WebsocketConnectionRepository,
	presenceTTL time.Duration,
) SyncUsecase {
	return &syncUsecase{
		roomRepo:    roomRepo,
		wsRepo:      wsRepo,
		presenceTTL: presenceTTL,
		now:         time.Now,
	}
}

func (s *syncUsecase) HandleConnect(ctx context.Context, memberID uuid.UUID) {
	s.send(memberID, events.TypeSession, events.SessionEvent{MemberID: memberID})
}

func (s *syncUsecase) HandleJoin(ctx context.Context, memberID uuid.UUID, event events.JoinRoomEvent) error {
	code := strings.TrimSpace(event.RoomCode)
	if code == "" {
		return ErrRoomCodeRequired
	}

	member := &models.Member{ID: memberID, IsHost: event.IsHost, JoinedAt: s.now()}

	var buildErr error

	s.roomRepo.Join(ctx, code, member, func(room *models.Room, stored *models.Member, rejoined bool) {
		joined, err := events.NewMessage(events.TypeUserJoined, events.UserJoinedEvent{
			MemberID: stored.ID,
			IsHost:   stored.IsHost,
		})
		if err != nil {
			buildErr = err
			return
		}
		s.broadcast(room, joined, uuid.Nil)

		// Догоняем новичка: треки и актуальные статусы
		if room.HasTracks() {
			tracks := events.Message{Type: events.TypeReceiveTracks, Data: room.Tracks}
			s.broadcast(room, tracks, uuid.Nil)
		}

		// Остальные статусы уже знают, новичку шлем их одним сообщением
		if snapshot := presenceSnapshot(room, stored.ID); len(snapshot.Entries) > 0 {
			presence, err := events.NewMessage(events.TypePresenceSnapshot, snapshot)
			if err != nil {
				buildErr = err
				return
			}
			s.wsRepo.Write(stored.ID, presence)
		}

		slog.Info(
			"member joined room",
			slog.Any(constant.MemberID, memberID),
			slog.String(constant.RoomCode, code),
			slog.Bool(constant.IsHost, stored.IsHost),
			slog.Bool("rejoined", rejoined),
		)
	})

	metric.SetActiveRooms(s.roomRepo.Count())

	if buildErr != nil {
		return fmt.Errorf("build join replay: %w", buildErr)
	}

	return nil
}

func (s *syncUsecase) HandleLeave(ctx context.Context, memberID uuid.UUID) {
	code, ok := s.roomRepo.Leave(ctx, memberID, nil)
	if !ok {
		return
	}

	metric.SetActiveRooms(s.roomRepo.Count())

	slog.Info("member left room", slog.Any(constant.MemberID, memberID), slog.String(constant.RoomCode, code))
}

func (s *syncUsecase) HandleRequestTracks(ctx context.Context, memberID uuid.UUID, roomCode string) error {
	code := strings.TrimSpace(roomCode)
	if code == "" {
		return ErrRoomCodeRequired
	}

	requested, err := events.NewMessage(events.TypeTracksRequested, memberID)
	if err != nil {
		return err
	}

	found := s.roomRepo.Update(ctx, code, func(room *models.Room) {
		s.broadcast(room, requested, uuid.Nil)

		if room.HasTracks() {
			s.wsRepo.Write(memberID, events.Message{Type: events.TypeReceiveTracks, Data: room.Tracks})
		}
	})
	if !found {
		slog.Debug("request tracks for unknown room", slog.Any(constant.MemberID, memberID), slog.String(constant.RoomCode, code))
	}

	return nil
}

func (s *syncUsecase) HandleSyncTracks(ctx context.Context, memberID uuid.UUID, event events.SyncTracksEvent) error {
	code := strings.TrimSpace(event.RoomCode)
	if code == "" {
		return ErrRoomCodeRequired
	}

	// Пустой список никогда не затирает кэш
	if events.TrackCount(event.Tracks) == 0 {
		slog.Debug("ignore empty track push", slog.Any(constant.MemberID, memberID), slog.String(constant.RoomCode, code))
		return nil
	}

	s.roomRepo.Update(ctx, code, func(room *models.Room) {
		if !room.ReplaceTracks(event.Tracks) {
			return
		}

		s.broadcast(room, events.Message{Type: events.TypeReceiveTracks, Data: room.Tracks}, uuid.Nil)
	})

	return nil
}

func (s *syncUsecase) HandleUpdateActivity(ctx context.Context, memberID uuid.UUID, event events.UpdateActivityEvent) error {
	code := strings.TrimSpace(event.RoomCode)
	if code == "" {
		return ErrRoomCodeRequired
	}

	entry := &models.PresenceEntry{
		MemberID:  memberID,
		Username:  event.Username,
		TrackID:   event.TrackID,
		IsPlaying: event.IsPlaying,
		UpdatedAt: s.now(),
	}

	activity, err := events.NewMessage(events.TypeActivityBroadcast, activityBroadcast(entry))
	if err != nil {
		return err
	}

	s.roomRepo.Update(ctx, code, func(room *models.Room) {
		if !room.HasMember(memberID) {
			slog.Debug("drop activity from non-member", slog.Any(constant.MemberID, memberID), slog.String(constant.RoomCode, code))
			return
		}

		room.UpsertPresence(entry)
		s.broadcast(room, activity, memberID)
	})

	return nil
}

func (s *syncUsecase) HandleDisband(ctx context.Context, memberID uuid.UUID, roomCode string) error {
	code := strings.TrimSpace(roomCode)
	if code == "" {
		return ErrRoomCodeRequired
	}

	disbanded := events.Message{Type: events.TypeRoomDisbanded}

	found := s.roomRepo.Update(ctx, code, func(room *models.Room) {
		s.broadcast(room, disbanded, memberID)
		room.ResetState()
	})
	if found {
		slog.Info("room disbanded", slog.Any(constant.MemberID, memberID), slog.String(constant.RoomCode, code))
	}

	return nil
}

func (s *syncUsecase) HandlePing(ctx context.Context, memberID uuid.UUID) {
	s.wsRepo.Write(memberID, events.Message{Type: events.TypePong})
}

func (s *syncUsecase) SweepPresence(ctx context.Context) int {
	now := s.now()
	expired := 0

	s.roomRepo.ForEach(ctx, func(room *models.Room) {
		expired += room.ExpirePresence(now, s.presenceTTL)
	})

	if expired > 0 {
		metric.AddPresenceExpired(expired)
		slog.Debug("presence expired", slog.Int("count", expired))
	}

	return expired
}

func (s *syncUsecase) RunPresenceSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepPresence(ctx)
		}
	}
}

// broadcast рассылает всем, кроме skip. Вызывать только под локом комнаты
func (s *syncUsecase) broadcast(room *models.Room, msg events.Message, skip uuid.UUID) {
	for id := range room.Members {
		if id == skip {
			continue
		}

		s.wsRepo.Write(id, msg)
	}
}

func (s *syncUsecase) send(memberID uuid.UUID, msgType string, data any) {
	msg, err := events.NewMessage(msgType, data)
	if err != nil {
		slog.Error("build message", slog.String(constant.MessageType, msgType), slog.Any(constant.Error, err))
		return
	}

	s.wsRepo.Write(memberID, msg)
}

func presenceSnapshot(room *models.Room, skip uuid.UUID) events.PresenceSnapshotEvent {
	entries := make([]events.ActivityBroadcastEvent, 0, len(room.Presence))
	for ownerID, entry := range room.Presence {
		if ownerID == skip {
			continue
		}

		entries = append(entries, activityBroadcast(entry))
	}

	slices.SortFunc(entries, func(a, b events.ActivityBroadcastEvent) int {
		return strings.Compare(a.MemberID.String(), b.MemberID.String())
	})

	return events.PresenceSnapshotEvent{Entries: entries}
}

func activityBroadcast(entry *models.PresenceEntry) events.ActivityBroadcastEvent {
	return events.ActivityBroadcastEvent{
		MemberID:  entry.MemberID,
		Username:  entry.Username,
		TrackID:   entry.TrackID,
		IsPlaying: entry.IsPlaying,
	}
}
