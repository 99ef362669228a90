package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/service/dialogue"
)

type ChatHandler struct {
	dialogue *dialogue.Service
	log      *zap.Logger
}

func NewChatHandler(dialogue *dialogue.Service, log *zap.Logger) *ChatHandler {
	return &ChatHandler{
		dialogue: dialogue,
		log:      log,
	}
}

type StartSessionRequest struct {
	Language string `json:"language"`
}

type DispatchRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type LanguageRequest struct {
	Language string `json:"language"`
}

func (h *ChatHandler) StartSession(c *fiber.Ctx) error {
	var req StartSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Language == "" {
		req.Language = "en"
	}

	callerID, guest := callerIdentity(c)
	active, err := h.dialogue.StartSession(c.Context(), callerID, req.Language, guest)
	if err != nil {
		h.log.Error("Failed to start session", zap.String("caller_id", callerID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not start session"})
	}

	active.Mu.Lock()
	snapshot := *active.S
	active.Mu.Unlock()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"sessionId":  snapshot.ID,
		"state":      snapshot.State,
		"language":   snapshot.Language,
		"transcript": snapshot.Transcript,
		"quota": fiber.Map{
			"used": snapshot.Quota.Used,
			"max":  snapshot.Quota.Max,
		},
	})
}

func (h *ChatHandler) Dispatch(c *fiber.Ctx) error {
	var req DispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Value == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Value is required"})
	}

	inputType := domain.InputText
	if req.Type == string(domain.InputChoice) {
		inputType = domain.InputChoice
	}

	callerID, _ := callerIdentity(c)
	err := h.dialogue.Dispatch(c.Context(), callerID, domain.Input{Type: inputType, Value: req.Value})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No active session"})
		}
		h.log.Error("Dispatch failed", zap.String("caller_id", callerID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not process input"})
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// ExtendIdle acknowledges the countdown warning and keeps the session alive.
func (h *ChatHandler) ExtendIdle(c *fiber.Ctx) error {
	callerID, _ := callerIdentity(c)
	if !h.dialogue.ExtendIdle(callerID) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Session is not awaiting an extension"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) SwitchLanguage(c *fiber.Ctx) error {
	var req LanguageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Language == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Language is required"})
	}

	callerID, _ := callerIdentity(c)
	if err := h.dialogue.SwitchLanguage(c.Context(), callerID, req.Language); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No active session"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not switch language"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) ResetSession(c *fiber.Ctx) error {
	callerID, _ := callerIdentity(c)
	if err := h.dialogue.ResetSession(c.Context(), callerID); err != nil {
		h.log.Error("Reset failed", zap.String("caller_id", callerID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not reset session"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// callerIdentity reads the identity placed in locals by the auth middleware.
func callerIdentity(c *fiber.Ctx) (string, bool) {
	callerID, _ := c.Locals("user_id").(string)
	user, ok := c.Locals("user").(*domain.User)
	guest := !ok || user == nil || user.Email == ""
	return callerID, guest
}
