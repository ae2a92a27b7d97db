package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/RoomSync/internal/domain/events"
)

// Room - состояние комнаты, своих локов нет
type Room struct {
	Code    string
	Members map[uuid.UUID]*Member

	// HostID - последний участник, заявивший себя хостом
	HostID uuid.UUID

	// Tracks - последний непустой список как есть
	Tracks json.RawMessage

	Presence map[uuid.UUID]*PresenceEntry

	CreatedAt time.Time
}

type Member struct {
	ID       uuid.UUID `json:"id"`
	IsHost   bool      `json:"is_host"`
	JoinedAt time.Time `json:"joined_at"`
}

func NewRoom(code string) *Room {
	return &Room{
		Code:      code,
		Members:   make(map[uuid.UUID]*Member),
		Presence:  make(map[uuid.UUID]*PresenceEntry),
		CreatedAt: time.Now(),
	}
}

// AddMember добавляет участника, повторный вход сохраняет прежнюю запись
func (r *Room) AddMember(m *Member) (stored *Member, rejoined bool) {
	if existing, ok := r.Members[m.ID]; ok {
		return existing, true
	}

	r.Members[m.ID] = m
	if m.IsHost {
		r.HostID = m.ID
	}

	return m, false
}

func (r *Room) RemoveMember(id uuid.UUID) bool {
	if _, ok := r.Members[id]; !ok {
		return false
	}

	delete(r.Members, id)
	delete(r.Presence, id)

	if r.HostID == id {
		r.HostID = uuid.Nil
	}

	return true
}

func (r *Room) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Members))
	for id := range r.Members {
		ids = append(ids, id)
	}

	return ids
}

func (r *Room) IsEmpty() bool {
	return len(r.Members) == 0
}

func (r *Room) HasMember(id uuid.UUID) bool {
	_, ok := r.Members[id]
	return ok
}

// ReplaceTracks целиком заменяет кэш, пустой список игнорируется
func (r *Room) ReplaceTracks(tracks json.RawMessage) bool {
	if events.TrackCount(tracks) == 0 {
		return false
	}

	r.Tracks = append(json.RawMessage(nil), tracks...)

	return true
}

func (r *Room) HasTracks() bool {
	return events.TrackCount(r.Tracks) > 0
}

func (r *Room) UpsertPresence(entry *PresenceEntry) {
	r.Presence[entry.MemberID] = entry
}

// ExpirePresence удаляет статусы старше ttl
func (r *Room) ExpirePresence(now time.Time, ttl time.Duration) int {
	expired := 0
	for id, entry := range r.Presence {
		if entry.Expired(now, ttl) {
			delete(r.Presence, id)
			expired++
		}
	}

	return expired
}

// ResetState сбрасывает треки и статусы, участники остаются
func (r *Room) ResetState() {
	r.Tracks = nil
	r.Presence = make(map[uuid.UUID]*PresenceEntry)
}
