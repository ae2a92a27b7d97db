package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	t.Run("with payload", func(t *testing.T) {
		msg, err := NewMessage(TypeJoinRoom, JoinRoomEvent{RoomCode: "482913", IsHost: true})
		require.NoError(t, err)

		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"join-room","data":{"roomCode":"482913","isHost":true}}`, string(raw))
	})

	t.Run("without payload", func(t *testing.T) {
		msg, err := NewMessage(TypeRoomDisbanded, nil)
		require.NoError(t, err)

		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"room-disbanded"}`, string(raw))
	})

	t.Run("bare string payload", func(t *testing.T) {
		msg, err := NewMessage(TypeRequestTracks, "100200")
		require.NoError(t, err)

		assert.Equal(t, `"100200"`, string(msg.Data))
	})
}

func TestTrackCount(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want int
	}{
		"missing":   {raw: "", want: 0},
		"null":      {raw: "null", want: 0},
		"empty":     {raw: "[]", want: 0},
		"two":       {raw: `[{"id":"a"},{"id":"b"}]`, want: 2},
		"not array": {raw: `{"id":"a"}`, want: 0},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, TrackCount(json.RawMessage(tc.raw)))
		})
	}
}
