package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/qrave1/RoomSync/internal/domain/models"
)

// RoomRepository - реестр комнат. Колбэки выполняются под локом комнаты
type RoomRepository interface {
	// Join создает комнату при необходимости и переносит участника из прошлой
	Join(ctx context.Context, code string, member *models.Member, fn func(room *models.Room, stored *models.Member, rejoined bool))

	// Leave убирает участника из его комнаты
	Leave(ctx context.Context, memberID uuid.UUID, fn func(room *models.Room)) (code string, ok bool)

	// Update вызывает fn для существующей комнаты
	Update(ctx context.Context, code string, fn func(room *models.Room)) bool

	RoomOf(ctx context.Context, memberID uuid.UUID) (string, bool)

	ForEach(ctx context.Context, fn func(room *models.Room))

	Count() int
}

type roomEntry struct {
	mu      sync.Mutex
	room    *models.Room
	removed bool
}

type roomRepository struct {
	// rooms хранит map[room_code]*roomEntry
	rooms map[string]*roomEntry

	// memberRooms хранит map[member_id]room_code
	memberRooms map[uuid.UUID]string

	mu sync.RWMutex
}

func NewRoomRepository() RoomRepository {
	return &roomRepository{
		rooms:       make(map[string]*roomEntry),
		memberRooms: make(map[uuid.UUID]string),
	}
}

// Join и Leave берут лок комнаты под локом индекса, Update и ForEach - только лок комнаты

func (r *roomRepository) Join(
	ctx context.Context,
	code string,
	member *models.Member,
	fn func(room *models.Room, stored *models.Member, rejoined bool),
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.memberRooms[member.ID]; ok && prev != code {
		r.leaveLocked(member.ID, prev, nil)
	}

	entry, ok := r.rooms[code]
	if !ok {
		entry = &roomEntry{room: models.NewRoom(code)}
		r.rooms[code] = entry
	}
	r.memberRooms[member.ID] = code

	entry.mu.Lock()
	defer entry.mu.Unlock()

	stored, rejoined := entry.room.AddMember(member)

	if fn != nil {
		fn(entry.room, stored, rejoined)
	}
}

func (r *roomRepository) Leave(ctx context.Context, memberID uuid.UUID, fn func(room *models.Room)) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.memberRooms[memberID]
	if !ok {
		return "", false
	}

	r.leaveLocked(memberID, code, fn)

	return code, true
}

func (r *roomRepository) leaveLocked(memberID uuid.UUID, code string, fn func(room *models.Room)) {
	delete(r.memberRooms, memberID)

	entry, ok := r.rooms[code]
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.room.RemoveMember(memberID)

	if fn != nil {
		fn(entry.room)
	}

	// Удаляем комнату, если она пустая
	if entry.room.IsEmpty() {
		entry.removed = true
		delete(r.rooms, code)
	}
}

func (r *roomRepository) Update(ctx context.Context, code string, fn func(room *models.Room)) bool {
	r.mu.RLock()
	entry, ok := r.rooms[code]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.removed {
		return false
	}

	fn(entry.room)

	return true
}

func (r *roomRepository) RoomOf(ctx context.Context, memberID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.memberRooms[memberID]
	return code, ok
}

func (r *roomRepository) ForEach(ctx context.Context, fn func(room *models.Room)) {
	r.mu.RLock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, entry := range r.rooms {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		entry.mu.Lock()
		if !entry.removed {
			fn(entry.room)
		}
		entry.mu.Unlock()
	}
}

func (r *roomRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
