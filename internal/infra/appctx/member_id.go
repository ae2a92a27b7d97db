package appctx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const memberIDKey ctxKey = "memberID"

// WithMemberID добавляет memberID в контекст
func WithMemberID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, memberIDKey, id)
}

// MemberID извлекает memberID из контекста
func MemberID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(memberIDKey).(uuid.UUID)
	return id, ok
}
