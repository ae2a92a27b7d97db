package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/RoomSync/internal/domain/models"
)

// Board - локальная доска активности участников комнаты.
// Статус старше ttl не виден и до очередного Sweep
type Board struct {
	mu      sync.Mutex
	entries map[uuid.UUID]models.PresenceEntry
	ttl     time.Duration
}

func NewBoard(ttl time.Duration) *Board {
	return &Board{
		entries: make(map[uuid.UUID]models.PresenceEntry),
		ttl:     ttl,
	}
}

func (b *Board) Upsert(entry models.PresenceEntry, now time.Time) {
	entry.UpdatedAt = now

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[entry.MemberID] = entry
}

// Snapshot возвращает живые статусы по username, затем по member id
func (b *Board) Snapshot(now time.Time) []models.PresenceEntry {
	b.mu.Lock()
	out := make([]models.PresenceEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		if entry.Expired(now, b.ttl) {
			continue
		}
		out = append(out, entry)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].MemberID.String() < out[j].MemberID.String()
	})

	return out
}

// Sweep удаляет устаревшие статусы
func (b *Board) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, entry := range b.entries {
		if entry.Expired(now, b.ttl) {
			delete(b.entries, id)
			removed++
		}
	}

	return removed
}

func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[uuid.UUID]models.PresenceEntry)
}
