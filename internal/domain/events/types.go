package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Типы сообщений протокола синхронизации
const (
	TypeJoinRoom          = "join-room"
	TypeUserJoined        = "user-joined"
	TypeRequestTracks     = "request-tracks"
	TypeTracksRequested   = "tracks-requested"
	TypeSyncTracks        = "sync-tracks"
	TypeReceiveTracks     = "receive-tracks"
	TypeUpdateActivity    = "update-activity"
	TypeActivityBroadcast = "activity-broadcast"
	TypePresenceSnapshot  = "presence-snapshot"
	TypeDisbandRoom       = "disband-room"
	TypeRoomDisbanded     = "room-disbanded"

	TypeSession = "session"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeError   = "error"
)

// Message - общее событие
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage упаковывает data в Message
func NewMessage(msgType string, data any) (Message, error) {
	msg := Message{Type: msgType}
	if data == nil {
		return msg, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg.Data = raw

	return msg, nil
}

// JoinRoomEvent - клиент входит в комнату
type JoinRoomEvent struct {
	RoomCode string `json:"roomCode"`
	IsHost   bool   `json:"isHost"`
}

// UserJoinedEvent - рассылается всей комнате после каждого входа
type UserJoinedEvent struct {
	MemberID uuid.UUID `json:"memberId"`
	IsHost   bool      `json:"isHost"`
}

// SyncTracksEvent - полный список хоста, сервер его не разбирает
type SyncTracksEvent struct {
	RoomCode string          `json:"roomCode"`
	Tracks   json.RawMessage `json:"tracks"`
}

type UpdateActivityEvent struct {
	RoomCode  string `json:"roomCode"`
	Username  string `json:"username"`
	TrackID   string `json:"trackId"`
	IsPlaying bool   `json:"isPlaying"`
}

type ActivityBroadcastEvent struct {
	MemberID  uuid.UUID `json:"memberId"`
	Username  string    `json:"username"`
	TrackID   string    `json:"trackId"`
	IsPlaying bool      `json:"isPlaying"`
}

// PresenceSnapshotEvent - все известные статусы комнаты одним сообщением, уходит только вошедшему
type PresenceSnapshotEvent struct {
	Entries []ActivityBroadcastEvent `json:"entries"`
}

// SessionEvent - идентификатор соединения для нового клиента
type SessionEvent struct {
	MemberID uuid.UUID `json:"memberId"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// TrackCount - число треков в списке, не-массив считается пустым
func TrackCount(tracks json.RawMessage) int {
	if len(tracks) == 0 {
		return 0
	}

	var items []json.RawMessage
	if err := json.Unmarshal(tracks, &items); err != nil {
		return 0
	}

	return len(items)
}
