package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/qrave1/RoomSync/internal/application/config"
	"github.com/qrave1/RoomSync/internal/application/constant"
	"github.com/qrave1/RoomSync/internal/application/metric"
	"github.com/qrave1/RoomSync/internal/domain/events"
	"github.com/qrave1/RoomSync/internal/infra/adapters/memory"
	"github.com/qrave1/RoomSync/internal/infra/appctx"
	"github.com/qrave1/RoomSync/internal/usecase"
)

const (
	pongWait = 60 * time.Second

	defaultMaxMessageSize = 200_000_000
)

var errUnknownMessageType = errors.New("unknown message type")

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	syncUsecase usecase.SyncUsecase

	wsConnRepo memory.WebsocketConnectionRepository

	messagesPerSecond int
	maxMessageSize    int64
}

func NewWebSocketHandler(
	cfg *config.Config,
	syncUsecase usecase.SyncUsecase,
	wsConnRepo memory.WebsocketConnectionRepository,
) *WebSocketHandler {
	maxMessageSize := cfg.MaxMessageSize
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxMessageSize
	}

	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				origin := r.Header.Get("Origin")

				// Нативные клиенты (agent) Origin не шлют
				return origin == "" || origin == cfg.Domain
			},
		},
		syncUsecase:       syncUsecase,
		wsConnRepo:        wsConnRepo,
		messagesPerSecond: cfg.MaxMessagesPerSecond,
		maxMessageSize:    maxMessageSize,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return err
	}
	defer ws.Close()

	// Идентичность живет ровно одно соединение
	memberID := uuid.New()
	ctx := appctx.WithMemberID(c.Request().Context(), memberID)

	h.wsConnRepo.Add(memberID, ws)
	defer h.wsConnRepo.Remove(memberID)

	ws.SetReadLimit(h.maxMessageSize)

	err = ws.SetReadDeadline(time.Now().Add(pongWait))
	if err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.syncUsecase.HandleConnect(ctx, memberID)

	limiter := rate.NewLimiter(rate.Limit(h.messagesPerSecond), h.messagesPerSecond)

	for {
		select {
		case <-ctx.Done():
			h.syncUsecase.HandleLeave(context.WithoutCancel(ctx), memberID)
			return nil
		default:
			_, raw, err := ws.ReadMessage()
			if err != nil {
				h.handleWebsocketError(ctx, err)

				h.syncUsecase.HandleLeave(context.WithoutCancel(ctx), memberID)

				return nil
			}

			if !limiter.Allow() {
				metric.IncrementWSRateLimited()
				h.replyError(memberID, "rate limit exceeded")

				continue
			}

			msg := new(events.Message)

			if err = json.Unmarshal(raw, msg); err != nil {
				slog.Warn("unmarshal websocket message", slog.Any(constant.MemberID, memberID), slog.Any(constant.Error, err))
				h.replyError(memberID, "invalid message")

				continue
			}

			if err = h.handleMessage(ctx, msg); err != nil {
				slog.Warn(
					"handle message",
					slog.Any(constant.MemberID, memberID),
					slog.String(constant.MessageType, msg.Type),
					slog.Any(constant.Error, err),
				)
				h.replyError(memberID, errorText(err))
			}
		}
	}
}

func (h *WebSocketHandler) handleMessage(
	ctx context.Context,
	msg *events.Message,
) error {
	memberID, ok := appctx.MemberID(ctx)
	if !ok {
		return fmt.Errorf("get member id from context")
	}

	metric.RecordSyncMessage(msg.Type)

	switch msg.Type {
	case events.TypeJoinRoom:
		var joinEvent events.JoinRoomEvent

		if err := json.Unmarshal(msg.Data, &joinEvent); err != nil {
			return fmt.Errorf("unmarshal join event: %w", err)
		}

		if err := h.syncUsecase.HandleJoin(ctx, memberID, joinEvent); err != nil {
			return fmt.Errorf("handle join: %w", err)
		}

	case events.TypeRequestTracks:
		code, err := decodeRoomCode(msg.Data)
		if err != nil {
			return fmt.Errorf("unmarshal request tracks: %w", err)
		}

		if err = h.syncUsecase.HandleRequestTracks(ctx, memberID, code); err != nil {
			return fmt.Errorf("handle request tracks: %w", err)
		}

	case events.TypeSyncTracks:
		var syncEvent events.SyncTracksEvent

		if err := json.Unmarshal(msg.Data, &syncEvent); err != nil {
			return fmt.Errorf("unmarshal sync tracks: %w", err)
		}

		if err := h.syncUsecase.HandleSyncTracks(ctx, memberID, syncEvent); err != nil {
			return fmt.Errorf("handle sync tracks: %w", err)
		}

	case events.TypeUpdateActivity:
		var activity events.UpdateActivityEvent

		if err := json.Unmarshal(msg.Data, &activity); err != nil {
			return fmt.Errorf("unmarshal update activity: %w", err)
		}

		if err := h.syncUsecase.HandleUpdateActivity(ctx, memberID, activity); err != nil {
			return fmt.Errorf("handle update activity: %w", err)
		}

	case events.TypeDisbandRoom:
		code, err := decodeRoomCode(msg.Data)
		if err != nil {
			return fmt.Errorf("unmarshal disband room: %w", err)
		}

		if err = h.syncUsecase.HandleDisband(ctx, memberID, code); err != nil {
			return fmt.Errorf("handle disband: %w", err)
		}

	case events.TypePing:
		h.syncUsecase.HandlePing(ctx, memberID)

	default:
		return errUnknownMessageType
	}

	return nil
}

func (h *WebSocketHandler) replyError(memberID uuid.UUID, text string) {
	msg, err := events.NewMessage(events.TypeError, events.ErrorEvent{Message: text})
	if err != nil {
		return
	}

	h.wsConnRepo.Write(memberID, msg)
}

func (h *WebSocketHandler) handleWebsocketError(ctx context.Context, err error) {
	memberID, ok := appctx.MemberID(ctx)
	if !ok {
		memberID = uuid.Nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("member disconnected from websocket", slog.Any(constant.MemberID, memberID))
		default:
			slog.Warn("websocket closed", slog.Any(constant.MemberID, memberID), slog.Int("code", closeErr.Code))
		}
	} else {
		slog.Warn(
			"websocket read",
			slog.Any(constant.MemberID, memberID),
			slog.Any(constant.Error, err),
		)
	}
}

// decodeRoomCode принимает и строку, и {"roomCode": "..."}
func decodeRoomCode(data json.RawMessage) (string, error) {
	var code string
	if err := json.Unmarshal(data, &code); err == nil {
		return code, nil
	}

	var wrapped struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return "", err
	}

	return wrapped.RoomCode, nil
}

func errorText(err error) string {
	switch {
	case errors.Is(err, usecase.ErrRoomCodeRequired):
		return usecase.ErrRoomCodeRequired.Error()
	case errors.Is(err, errUnknownMessageType):
		return errUnknownMessageType.Error()
	default:
		return "invalid payload"
	}
}
