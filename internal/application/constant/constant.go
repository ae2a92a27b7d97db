package constant

// Ключи атрибутов для slog
const (
	Error       = "error"
	MemberID    = "member_id"
	RoomCode    = "room_code"
	MessageType = "message_type"
	FileName    = "file_name"
	IsHost      = "is_host"
	State       = "state"
)
