package models

import (
	"time"

	"github.com/google/uuid"
)

// PresenceEntry - что сейчас играет у участника комнаты
type PresenceEntry struct {
	MemberID  uuid.UUID `json:"memberId"`
	Username  string    `json:"username"`
	TrackID   string    `json:"trackId"`
	IsPlaying bool      `json:"isPlaying"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired - статус молчит дольше ttl
func (p *PresenceEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.UpdatedAt) > ttl
}
