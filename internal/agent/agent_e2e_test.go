package agent_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/RoomSync/internal/agent"
	"github.com/qrave1/RoomSync/internal/application/config"
	"github.com/qrave1/RoomSync/internal/domain/events"
	"github.com/qrave1/RoomSync/internal/domain/models"
	"github.com/qrave1/RoomSync/internal/infra/adapters/memory"
	"github.com/qrave1/RoomSync/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomSync/internal/usecase"
)

func fastSync() config.SyncConfig {
	return config.SyncConfig{
		ActivityInterval:      50 * time.Millisecond,
		HostResyncInterval:    100 * time.Millisecond,
		TracksRetryInterval:   50 * time.Millisecond,
		PresenceTTL:           2 * time.Second,
		PresenceSweepInterval: 50 * time.Millisecond,
		ReconnectDelay:        20 * time.Millisecond,
	}
}

func startServer(t *testing.T) string {
	t.Helper()

	cfg := &config.Config{Debug: true, MaxMessagesPerSecond: 1000, Sync: fastSync()}
	wsRepo := memory.NewWSConnectionRepository()
	syncUsecase := usecase.NewSyncUsecase(memory.NewRoomRepository(), wsRepo, cfg.Sync.PresenceTTL)

	e := echo.New()
	e.GET("/ws", handlers.NewWebSocketHandler(cfg, syncUsecase, wsRepo).Handle)

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		wsRepo.CloseAll()
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func start(t *testing.T, a *agent.Agent) <-chan error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- a.Run(ctx)
		close(finished)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
		}
	})

	return done
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}

var queue = []models.Track{
	{ID: "a1", Name: "Intro", Artist: "Band", URL: "/api/music?file=intro.mp3"},
	{ID: "b2", Name: "Outro", Artist: "Band", URL: "/api/music?file=outro.mp3"},
}

func TestE2E_TwoTrackConvergence(t *testing.T) {
	url := startServer(t)

	host := agent.New(agent.Config{RoomCode: "482913", IsHost: true, Username: "host", Sync: fastSync()}, agent.NewWSDialer(url, nil))
	require.NoError(t, host.SetTracks(queue))
	start(t, host)
	eventually(t, func() bool { return host.State() == agent.StateConnected })

	guest := agent.New(agent.Config{RoomCode: "482913", Username: "guest", Sync: fastSync()}, agent.NewWSDialer(url, nil))
	start(t, guest)

	eventually(t, func() bool { return len(guest.Tracks()) == 2 })
	assert.Equal(t, queue, guest.Tracks())
}

func TestE2E_LateHost(t *testing.T) {
	url := startServer(t)

	guest := agent.New(agent.Config{RoomCode: "482913", Username: "guest", Sync: fastSync()}, agent.NewWSDialer(url, nil))
	start(t, guest)
	eventually(t, func() bool { return guest.State() == agent.StateConnected })

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, guest.Tracks())

	host := agent.New(agent.Config{RoomCode: "482913", IsHost: true, Username: "host", Sync: fastSync()}, agent.NewWSDialer(url, nil))
	require.NoError(t, host.SetTracks(queue))
	start(t, host)

	eventually(t, func() bool { return len(guest.Tracks()) == 2 })
}

func TestE2E_LargeQueueWithCovers(t *testing.T) {
	url := startServer(t)

	cover := "data:image/jpeg;base64," + strings.Repeat("A", 100_000)

	tracks := make([]models.Track, 12)
	for i := range tracks {
		tracks[i] = models.Track{
			ID:    fmt.Sprintf("t%d", i),
			Name:  fmt.Sprintf("Track %d", i),
			Cover: cover,
			URL:   fmt.Sprintf("/api/music?file=%d.mp3", i),
		}
	}

	host := agent.New(agent.Config{RoomCode: "482913", IsHost: true, Sync: fastSync()}, agent.NewWSDialer(url, nil))
	require.NoError(t, host.SetTracks(tracks))
	start(t, host)

	guest := agent.New(agent.Config{RoomCode: "482913", Sync: fastSync()}, agent.NewWSDialer(url, nil))
	start(t, guest)

	eventually(t, func() bool { return len(guest.Tracks()) == len(tracks) })
	assert.Equal(t, tracks, guest.Tracks())
	assert.Equal(t, agent.StateConnected, host.State())
}

func TestE2E_EmptyPushDoesNotRegress(t *testing.T) {
	url := startServer(t)

	host := agent.New(agent.Config{RoomCode: "482913", IsHost: true, Sync: fastSync()}, agent.NewWSDialer(url, nil))
	require.NoError(t, host.SetTracks(queue))
	start(t, host)

	guest := agent.New(agent.Config{RoomCode: "482913", Sync: fastSync()}, agent.NewWSDialer(url, nil))
	start(t, guest)
	eventually(t, func() bool { return len(guest.Tracks()) == 2 })

	// второй "хост" шлет пустой список напрямую
	rogue, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer rogue.Close()

	for _, msg := range []struct {
		msgType string
		data    any
	}{
		{events.TypeJoinRoom, events.JoinRoomEvent{RoomCode: "482913", IsHost: true}},
		{events.TypeSyncTracks, events.SyncTracksEvent{RoomCode: "482913", Tracks: []byte(`[]`)}},
	} {
		m, err := events.NewMessage(msg.msgType, msg.data)
		require.NoError(t, err)
		require.NoError(t, rogue.WriteJSON(m))
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, queue, guest.Tracks())
}

func TestE2E_Presence(t *testing.T) {
	url := startServer(t)

	host := agent.New(agent.Config{RoomCode: "482913", IsHost: true, Username: "host", Sync: fastSync()}, agent.NewWSDialer(url, nil))
	start(t, host)

	guest := agent.New(agent.Config{RoomCode: "482913", Username: "guest", Sync: fastSync()}, agent.NewWSDialer(url, nil))
	start(t, guest)

	eventually(t, func() bool {
		return host.State() == agent.StateConnected && guest.State() == agent.StateConnected
	})

	require.NoError(t, host.ReportActivity("a1", true))
	require.NoError(t, guest.ReportActivity("b2", false))

	eventually(t, func() bool { return len(guest.Presence()) == 1 && len(host.Presence()) == 1 })

	assert.Equal(t, "host", guest.Presence()[0].Username)
	assert.Equal(t, "a1", guest.Presence()[0].TrackID)
	assert.True(t, guest.Presence()[0].IsPlaying)

	// свой статус себе не приходит
	assert.Equal(t, "guest", host.Presence()[0].Username)
}

func TestE2E_Disband(t *testing.T) {
	url := startServer(t)

	host := agent.New(agent.Config{RoomCode: "100200", IsHost: true, Username: "host", Sync: fastSync()}, agent.NewWSDialer(url, nil))
	require.NoError(t, host.SetTracks(queue))
	hostDone := start(t, host)

	var disbanded atomic.Int32
	guest := agent.New(agent.Config{RoomCode: "100200", Username: "guest", Sync: fastSync()}, agent.NewWSDialer(url, nil),
		agent.WithOnStateChanged(func(s agent.State) {
			if s == agent.StateDisbanded {
				disbanded.Add(1)
			}
		}),
	)
	guestDone := start(t, guest)

	eventually(t, func() bool { return len(guest.Tracks()) == 2 })

	require.NoError(t, host.Disband())

	select {
	case err := <-guestDone:
		assert.ErrorIs(t, err, agent.ErrRoomDisbanded)
	case <-time.After(3 * time.Second):
		t.Fatal("guest did not observe disband")
	}

	select {
	case err := <-hostDone:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("host did not stop")
	}

	assert.Equal(t, agent.StateIdle, host.State())
	assert.Equal(t, agent.StateDisbanded, guest.State())

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, disbanded.Load())

	guest.Acknowledge()
	assert.Equal(t, agent.StateIdle, guest.State())
	assert.Empty(t, guest.Tracks())
}
