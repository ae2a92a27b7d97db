package agent

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	minRoomCode  = 100000
	roomCodeSpan = 900000
)

// NewRoomCode генерирует шестизначный код в [100000, 999999]
func NewRoomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(roomCodeSpan))
	if err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}

	return fmt.Sprintf("%d", minRoomCode+n.Int64()), nil
}
