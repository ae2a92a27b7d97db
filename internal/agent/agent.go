// Package agent - клиентская сторона синхронизации комнаты.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/qrave1/RoomSync/internal/application/config"
	"github.com/qrave1/RoomSync/internal/application/constant"
	"github.com/qrave1/RoomSync/internal/domain/events"
	"github.com/qrave1/RoomSync/internal/domain/models"
)

var (
	ErrRoomDisbanded  = errors.New("room disbanded by host")
	ErrNotHost        = errors.New("only the host can do this")
	ErrNotConnected   = errors.New("agent is not connected")
	ErrAlreadyRunning = errors.New("agent is already running")
)

type Config struct {
	RoomCode string
	IsHost   bool
	Username string

	Sync config.SyncConfig
}

type Option func(*Agent)

func WithOnTracksChanged(fn func([]models.Track)) Option {
	return func(a *Agent) { a.onTracks = fn }
}

func WithOnPresenceChanged(fn func([]models.PresenceEntry)) Option {
	return func(a *Agent) { a.onPresence = fn }
}

func WithOnStateChanged(fn func(State)) Option {
	return func(a *Agent) { a.onState = fn }
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

type activityReport struct {
	trackID   string
	isPlaying bool
}

type Agent struct {
	cfg    Config
	dialer Dialer
	board  *Board
	now    func() time.Time
	log    *slog.Logger

	onTracks   func([]models.Track)
	onPresence func([]models.PresenceEntry)
	onState    func(State)

	// sendMu держит проверку состояния и запись вместе,
	// чтобы после disband/leave ничего не ушло в сокет
	sendMu sync.Mutex

	mu           sync.Mutex
	state        State
	conn         Conn
	tracks       []models.Track
	lastActivity *activityReport
	memberID     uuid.UUID
	running      bool
	stopped      bool
	cancel       context.CancelFunc
}

func New(cfg Config, dialer Dialer, opts ...Option) *Agent {
	a := &Agent{
		cfg:    cfg,
		dialer: dialer,
		board:  NewBoard(cfg.Sync.PresenceTTL),
		now:    time.Now,
		log: slog.With(
			slog.String(constant.RoomCode, cfg.RoomCode),
			slog.Bool(constant.IsHost, cfg.IsHost),
		),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Run держит сессию до отмены ctx, Leave/Disband или роспуска комнаты (ErrRoomDisbanded)
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	switch {
	case a.running:
		a.mu.Unlock()
		return ErrAlreadyRunning
	case a.state == StateDisbanded:
		a.mu.Unlock()
		return ErrRoomDisbanded
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.running, a.stopped, a.cancel = true, false, cancel
	a.mu.Unlock()

	var wg sync.WaitGroup
	a.startTimers(runCtx, &wg)

	err := a.connectLoop(runCtx)

	cancel()
	wg.Wait()

	a.mu.Lock()
	a.running = false
	a.cancel = nil
	stopped := a.stopped
	a.mu.Unlock()

	switch {
	case errors.Is(err, ErrRoomDisbanded):
		return ErrRoomDisbanded
	case stopped:
		return nil
	}

	a.transition(StateIdle, true)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return err
}

// Leave закрывает сессию и возвращает агента в idle
func (a *Agent) Leave() {
	a.sendMu.Lock()
	a.mu.Lock()
	a.stopped = true
	cancel, conn := a.cancel, a.conn
	a.conn = nil
	a.mu.Unlock()
	a.sendMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	a.transition(StateIdle, true)

	a.log.Info("left room")
}

// Disband распускает комнату и выходит из нее
func (a *Agent) Disband() error {
	if !a.cfg.IsHost {
		return ErrNotHost
	}

	err := a.send(events.TypeDisbandRoom, a.cfg.RoomCode)

	a.Leave()

	if err != nil {
		return fmt.Errorf("disband room: %w", err)
	}

	return nil
}

// Acknowledge сбрасывает распущенную сессию
func (a *Agent) Acknowledge() {
	a.mu.Lock()
	if a.state != StateDisbanded {
		a.mu.Unlock()
		return
	}
	a.tracks = nil
	a.lastActivity = nil
	a.mu.Unlock()

	a.board.Clear()
	a.transition(StateIdle, true)

	if a.onTracks != nil {
		a.onTracks(nil)
	}
	if a.onPresence != nil {
		a.onPresence(nil)
	}
}

// SetTracks заменяет очередь хоста и сразу ее отправляет
func (a *Agent) SetTracks(tracks []models.Track) error {
	if !a.cfg.IsHost {
		return ErrNotHost
	}

	a.mu.Lock()
	a.tracks = models.CloneTracks(tracks)
	a.mu.Unlock()

	if a.onTracks != nil {
		a.onTracks(models.CloneTracks(tracks))
	}

	return ignoreNotConnected(a.pushTracks())
}

// ReportActivity отправляет текущий трек и повторяет его на каждом heartbeat
func (a *Agent) ReportActivity(trackID string, isPlaying bool) error {
	a.mu.Lock()
	a.lastActivity = &activityReport{trackID: trackID, isPlaying: isPlaying}
	a.mu.Unlock()

	return ignoreNotConnected(a.sendActivity())
}

func (a *Agent) Tracks() []models.Track {
	a.mu.Lock()
	defer a.mu.Unlock()

	return models.CloneTracks(a.tracks)
}

func (a *Agent) Presence() []models.PresenceEntry {
	return a.board.Snapshot(a.now())
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

func (a *Agent) MemberID() uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.memberID
}

func (a *Agent) connectLoop(ctx context.Context) error {
	backoff := retry.NewConstant(a.cfg.Sync.ReconnectDelay)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		a.setState(StateConnecting)

		conn, err := a.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			a.log.Warn("dial sync server", slog.Any(constant.Error, err))
			a.setState(StateDisconnected)

			return retry.RetryableError(err)
		}

		err = a.session(ctx, conn)

		switch {
		case errors.Is(err, ErrRoomDisbanded):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}

		a.log.Warn("connection lost", slog.Any(constant.Error, err))
		a.setState(StateDisconnected)

		return retry.RetryableError(err)
	})
}

func (a *Agent) session(ctx context.Context, conn Conn) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
	}()

	a.setState(StateConnected)

	if err := a.send(events.TypeJoinRoom, events.JoinRoomEvent{RoomCode: a.cfg.RoomCode, IsHost: a.cfg.IsHost}); err != nil {
		return err
	}

	if !a.cfg.IsHost {
		if err := a.send(events.TypeRequestTracks, a.cfg.RoomCode); err != nil {
			return err
		}
	}

	a.log.Info("joined room")

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, errMalformed) {
				a.log.Warn("skip message", slog.Any(constant.Error, err))
				continue
			}

			return err
		}

		if err = a.handle(msg); err != nil {
			return err
		}
	}
}

func (a *Agent) handle(msg events.Message) error {
	switch msg.Type {
	case events.TypeSession:
		var session events.SessionEvent
		if err := json.Unmarshal(msg.Data, &session); err != nil {
			a.log.Warn("decode session", slog.Any(constant.Error, err))
			return nil
		}

		a.mu.Lock()
		a.memberID = session.MemberID
		a.mu.Unlock()

	case events.TypeUserJoined:
		if !a.cfg.IsHost {
			return nil
		}

		// Новый участник должен сразу получить очередь и статус хоста
		a.logSendErr(events.TypeSyncTracks, a.pushTracks())
		a.logSendErr(events.TypeUpdateActivity, a.sendActivity())

	case events.TypeTracksRequested:
		if a.cfg.IsHost {
			a.logSendErr(events.TypeSyncTracks, a.pushTracks())
		}

	case events.TypeReceiveTracks:
		if a.cfg.IsHost {
			return nil
		}

		var tracks []models.Track
		if err := json.Unmarshal(msg.Data, &tracks); err != nil {
			a.log.Warn("decode tracks", slog.Any(constant.Error, err))
			return nil
		}

		if len(tracks) == 0 {
			return nil
		}

		a.mu.Lock()
		a.tracks = tracks
		a.mu.Unlock()

		if a.onTracks != nil {
			a.onTracks(models.CloneTracks(tracks))
		}

	case events.TypeActivityBroadcast:
		var activity events.ActivityBroadcastEvent
		if err := json.Unmarshal(msg.Data, &activity); err != nil {
			a.log.Warn("decode activity", slog.Any(constant.Error, err))
			return nil
		}

		now := a.now()
		a.board.Upsert(presenceEntry(activity), now)

		if a.onPresence != nil {
			a.onPresence(a.board.Snapshot(now))
		}

	case events.TypePresenceSnapshot:
		var snapshot events.PresenceSnapshotEvent
		if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
			a.log.Warn("decode presence snapshot", slog.Any(constant.Error, err))
			return nil
		}

		now := a.now()
		for _, activity := range snapshot.Entries {
			a.board.Upsert(presenceEntry(activity), now)
		}

		if a.onPresence != nil {
			a.onPresence(a.board.Snapshot(now))
		}

	case events.TypeRoomDisbanded:
		if a.cfg.IsHost {
			return nil
		}

		a.disbanded()

		return ErrRoomDisbanded

	case events.TypeError:
		var e events.ErrorEvent
		_ = json.Unmarshal(msg.Data, &e)

		a.log.Warn("server error", slog.String("message", e.Message))

	case events.TypePong:
	default:
		a.log.Debug("ignore message", slog.String(constant.MessageType, msg.Type))
	}

	return nil
}

func (a *Agent) disbanded() {
	a.sendMu.Lock()
	a.mu.Lock()
	a.state = StateDisbanded
	cancel := a.cancel
	a.mu.Unlock()
	a.sendMu.Unlock()

	if a.onState != nil {
		a.onState(StateDisbanded)
	}

	if cancel != nil {
		cancel()
	}

	a.log.Info("room disbanded by host")
}

func (a *Agent) startTimers(ctx context.Context, wg *sync.WaitGroup) {
	a.every(ctx, wg, a.cfg.Sync.TracksRetryInterval, a.retryTracks)
	a.every(ctx, wg, a.cfg.Sync.HostResyncInterval, a.resync)
	a.every(ctx, wg, a.cfg.Sync.ActivityInterval, a.heartbeat)
	a.every(ctx, wg, a.cfg.Sync.PresenceSweepInterval, a.sweepPresence)
}

func (a *Agent) every(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func()) {
	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// retryTracks переспрашивает очередь, пока гость ее не получил
func (a *Agent) retryTracks() {
	if a.cfg.IsHost {
		return
	}

	a.mu.Lock()
	waiting := len(a.tracks) == 0
	a.mu.Unlock()

	if waiting {
		a.logSendErr(events.TypeRequestTracks, a.send(events.TypeRequestTracks, a.cfg.RoomCode))
	}
}

func (a *Agent) resync() {
	if a.cfg.IsHost {
		a.logSendErr(events.TypeSyncTracks, a.pushTracks())
	}
}

func (a *Agent) heartbeat() {
	a.logSendErr(events.TypeUpdateActivity, a.sendActivity())
}

func (a *Agent) sweepPresence() {
	now := a.now()

	if a.board.Sweep(now) > 0 && a.onPresence != nil {
		a.onPresence(a.board.Snapshot(now))
	}
}

func (a *Agent) pushTracks() error {
	a.mu.Lock()
	tracks := models.CloneTracks(a.tracks)
	a.mu.Unlock()

	// Пустую очередь не шлем
	if len(tracks) == 0 {
		return nil
	}

	raw, err := json.Marshal(tracks)
	if err != nil {
		return fmt.Errorf("marshal tracks: %w", err)
	}

	return a.send(events.TypeSyncTracks, events.SyncTracksEvent{RoomCode: a.cfg.RoomCode, Tracks: raw})
}

func (a *Agent) sendActivity() error {
	a.mu.Lock()
	report := a.lastActivity
	a.mu.Unlock()

	if report == nil {
		return nil
	}

	return a.send(events.TypeUpdateActivity, events.UpdateActivityEvent{
		RoomCode:  a.cfg.RoomCode,
		Username:  a.cfg.Username,
		TrackID:   report.trackID,
		IsPlaying: report.isPlaying,
	})
}

func (a *Agent) send(msgType string, data any) error {
	msg, err := events.NewMessage(msgType, data)
	if err != nil {
		return err
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.mu.Lock()
	conn, state := a.conn, a.state
	a.mu.Unlock()

	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}

	if err = conn.WriteMessage(msg); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}

	return nil
}

func (a *Agent) setState(s State) {
	a.transition(s, false)
}

// transition не меняет состояние остановленной сессии, кроме force
func (a *Agent) transition(s State, force bool) {
	a.mu.Lock()
	if !force && (a.stopped || a.state == StateDisbanded) {
		a.mu.Unlock()
		return
	}
	if a.state == s {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()

	if a.onState != nil {
		a.onState(s)
	}
}

func (a *Agent) logSendErr(msgType string, err error) {
	if err == nil || errors.Is(err, ErrNotConnected) {
		return
	}

	a.log.Debug("send", slog.String(constant.MessageType, msgType), slog.Any(constant.Error, err))
}

func ignoreNotConnected(err error) error {
	if errors.Is(err, ErrNotConnected) {
		return nil
	}

	return err
}

func presenceEntry(activity events.ActivityBroadcastEvent) models.PresenceEntry {
	return models.PresenceEntry{
		MemberID:  activity.MemberID,
		Username:  activity.Username,
		TrackID:   activity.TrackID,
		IsPlaying: activity.IsPlaying,
	}
}
