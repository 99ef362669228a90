package websocket

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/service/dialogue"
)

// ChatStreamHandler is the duplex websocket surface of a conversation: user
// inputs come in as JSON frames, session events flow back through the hub
// registered for the same caller.
type ChatStreamHandler struct {
	dialogue *dialogue.Service
	hub      *Hub
	logger   *zap.Logger
}

func NewChatStreamHandler(dialogue *dialogue.Service, hub *Hub, logger *zap.Logger) *ChatStreamHandler {
	return &ChatStreamHandler{
		dialogue: dialogue,
		hub:      hub,
		logger:   logger,
	}
}

type inboundFrame struct {
	Action   string `json:"action"`
	Type     string `json:"type"`
	Value    string `json:"value"`
	Language string `json:"language"`
}

func (h *ChatStreamHandler) HandleChatStream(c *websocket.Conn) {
	callerID, ok := c.Locals("user_id").(string)
	if !ok || callerID == "" {
		c.Close()
		return
	}

	client := &Client{hub: h.hub, conn: c, send: make(chan []byte, 256), callerID: callerID}
	h.hub.register <- client
	go client.writePump()

	defer func() {
		h.hub.unregister <- client
		c.Close()
	}()

	ctx := context.Background()
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug("Skipping malformed chat frame",
				zap.String("caller_id", callerID),
				zap.Error(err))
			continue
		}

		if err := h.handleFrame(ctx, callerID, frame); err != nil {
			h.logger.Warn("Chat frame rejected",
				zap.String("caller_id", callerID),
				zap.String("action", frame.Action),
				zap.Error(err))
			h.hub.Push(callerID, map[string]string{
				"type":  "error",
				"error": err.Error(),
			})
		}
	}
}

func (h *ChatStreamHandler) handleFrame(ctx context.Context, callerID string, frame inboundFrame) error {
	switch frame.Action {
	case "input", "":
		inputType := domain.InputText
		if frame.Type == string(domain.InputChoice) {
			inputType = domain.InputChoice
		}
		err := h.dialogue.Dispatch(ctx, callerID, domain.Input{Type: inputType, Value: frame.Value})
		if errors.Is(err, domain.ErrSessionNotFound) {
			return errors.New("no active session")
		}
		return err
	case "extend":
		if !h.dialogue.ExtendIdle(callerID) {
			return errors.New("session is not awaiting an extension")
		}
		return nil
	case "language":
		return h.dialogue.SwitchLanguage(ctx, callerID, frame.Language)
	case "reset":
		return h.dialogue.ResetSession(ctx, callerID)
	default:
		return errors.New("unknown action")
	}
}

// SetupChatRoutes wires the websocket upgrade path. The auth middleware must
// run before this so user_id is present in locals.
func SetupChatRoutes(app *fiber.App, handler *ChatStreamHandler, authRequired fiber.Handler) {
	app.Use("/ws/chat", authRequired, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/chat", websocket.New(handler.HandleChatStream))
}
