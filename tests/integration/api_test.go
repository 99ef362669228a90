package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/siga-mi/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/mocks"
	"github.com/seu-repo/siga-mi/internal/service/auth"
	"github.com/seu-repo/siga-mi/internal/service/dialogue"
	"github.com/seu-repo/siga-mi/internal/service/translation"
)

// TestAPI_HealthCheck tests the health endpoint
func TestAPI_HealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", result["status"])
	}
}

// TestAPI_AuthFlow tests the authentication flow
func TestAPI_AuthFlow(t *testing.T) {
	app, _ := setupTestApp(t)

	// Test registration
	t.Run("Register", func(t *testing.T) {
		payload := map[string]interface{}{
			"name":     "Test User",
			"email":    "test@example.com",
			"password": "password123",
			"language": "pt",
		}

		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			t.Errorf("Expected status 201, got %d", resp.StatusCode)
		}
	})

	// Test login
	t.Run("Login", func(t *testing.T) {
		payload := map[string]interface{}{
			"email":    "test@example.com",
			"password": "password123",
		}

		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}

		var result map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		tokens, ok := result["tokens"].(map[string]interface{})
		if !ok || tokens["accessToken"] == nil {
			t.Error("Expected accessToken in response")
		}
	})

	// Test invalid login
	t.Run("InvalidLogin", func(t *testing.T) {
		payload := map[string]interface{}{
			"email":    "test@example.com",
			"password": "wrongpassword",
		}

		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", resp.StatusCode)
		}
	})

	// Duplicate registration is rejected
	t.Run("DuplicateRegister", func(t *testing.T) {
		payload := map[string]interface{}{
			"name":     "Test User Again",
			"email":    "test@example.com",
			"password": "password456",
		}

		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Expected status 409, got %d", resp.StatusCode)
		}
	})
}

// TestAPI_GuestFlow tests the anonymous caller flow
func TestAPI_GuestFlow(t *testing.T) {
	app, _ := setupTestApp(t)

	// Mint a guest identity
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/guest", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}

	var guest map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&guest); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if guest["accessToken"] == "" {
		t.Fatal("Expected accessToken in guest response")
	}
	if guest["callerId"] == "" {
		t.Fatal("Expected callerId in guest response")
	}

	// The guest token authenticates without a user record
	t.Run("GuestMe", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+guest["accessToken"])

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}

		var user map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if user["tier"] != "free" {
			t.Errorf("Expected guest tier 'free', got '%v'", user["tier"])
		}
	})

	// No token is rejected
	t.Run("MissingToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", resp.StatusCode)
		}
	})
}

// TestAPI_ChatFlow tests session lifecycle over the HTTP surface
func TestAPI_ChatFlow(t *testing.T) {
	app, env := setupTestApp(t)
	defer env.dialogue.Shutdown()

	token := getGuestToken(t, app)

	// Start a session
	t.Run("StartSession", func(t *testing.T) {
		payload := map[string]string{"language": "en"}
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/session", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d", resp.StatusCode)
		}

		var result map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if result["sessionId"] == "" {
			t.Error("Expected sessionId in response")
		}

		transcript, ok := result["transcript"].([]interface{})
		if !ok || len(transcript) == 0 {
			t.Error("Expected a non-empty welcome transcript")
		}

		quota, ok := result["quota"].(map[string]interface{})
		if !ok {
			t.Fatal("Expected quota in response")
		}
		if quota["max"].(float64) != 5 {
			t.Errorf("Expected quota max 5, got %v", quota["max"])
		}
	})

	// Answer the destination prompt
	t.Run("DispatchChoice", func(t *testing.T) {
		payload := map[string]string{"type": "choice", "value": "usa"}
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/input", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("Expected status 202, got %d", resp.StatusCode)
		}
	})

	// Input without a session is a 404
	t.Run("DispatchWithoutSession", func(t *testing.T) {
		stray := getGuestToken(t, app)

		payload := map[string]string{"value": "hello"}
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/input", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+stray)

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", resp.StatusCode)
		}
	})

	// Extend is refused when no countdown is running
	t.Run("ExtendWithoutWarning", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/extend", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Expected status 409, got %d", resp.StatusCode)
		}
	})

	// Reset tears the session down
	t.Run("ResetSession", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/chat/session", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("Expected status 204, got %d", resp.StatusCode)
		}
	})
}

type apiTestEnv struct {
	dialogue *dialogue.Service
	users    *userRepoStub
}

// userRepoStub is an in-memory user repository for API tests.
type userRepoStub struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]*domain.User),
	}
}

func getGuestToken(t *testing.T, app *fiber.App) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/guest", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to get guest token: %v", err)
	}
	defer resp.Body.Close()

	var result map[string]string
	json.NewDecoder(resp.Body).Decode(&result)

	if result["accessToken"] == "" {
		t.Fatal("Guest endpoint returned no token")
	}
	return result["accessToken"]
}

// setupTestApp wires the real handlers against in-memory collaborators.
func setupTestApp(t *testing.T) (*fiber.App, *apiTestEnv) {
	t.Helper()
	log := zap.NewNop()

	users := newUserRepoStub()
	userRepo := &mocks.MockUserRepository{}
	userRepo.SaveFunc = func(ctx context.Context, user *domain.User) error {
		users.mu.Lock()
		defer users.mu.Unlock()
		if _, exists := users.byEmail[user.Email]; exists {
			return errors.New("email already registered")
		}
		if user.ID == "" {
			user.ID = uuid.New().String()
		}
		copied := *user
		users.byID[user.ID] = &copied
		users.byEmail[user.Email] = &copied
		return nil
	}
	userRepo.FindByIDFunc = func(ctx context.Context, id string) (*domain.User, error) {
		users.mu.Lock()
		defer users.mu.Unlock()
		return users.byID[id], nil
	}
	userRepo.FindByEmailFunc = func(ctx context.Context, email string) (*domain.User, error) {
		users.mu.Lock()
		defer users.mu.Unlock()
		return users.byEmail[email], nil
	}

	authService := auth.NewService(userRepo, mocks.NewMockCache(), "integration-test-secret", log)

	translator := translation.NewService(mocks.NewMockTranslationStore(), log)
	dialogueService := dialogue.NewService(
		mocks.NewMockSessionStore(),
		&mocks.MockAnsweringClient{},
		&mocks.MockAvatarClient{},
		&mocks.MockReportRenderer{},
		&mocks.MockTierAuthority{},
		&mocks.MockEscalationService{},
		translator,
		mocks.NewMockEventSink(),
		mocks.NewMockMessageQueue(),
		dialogue.Config{
			IdleDuration:  time.Minute,
			WarningWindow: time.Second,
			AskTimeout:    time.Second,
			DefaultQuota:  5,
		},
		log,
	)

	authHandler := handlers.NewAuthHandler(authService, log)
	chatHandler := handlers.NewChatHandler(dialogueService, log)
	authRequired := middleware.AuthRequired(authService)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	v1 := app.Group("/api/v1")
	v1.Post("/auth/login", authHandler.Login)
	v1.Post("/auth/register", authHandler.Register)
	v1.Post("/auth/refresh", authHandler.RefreshToken)
	v1.Post("/auth/guest", authHandler.Guest)

	protected := v1.Group("", authRequired)
	protected.Get("/auth/me", authHandler.Me)
	protected.Post("/chat/session", chatHandler.StartSession)
	protected.Delete("/chat/session", chatHandler.ResetSession)
	protected.Post("/chat/input", chatHandler.Dispatch)
	protected.Post("/chat/extend", chatHandler.ExtendIdle)
	protected.Post("/chat/language", chatHandler.SwitchLanguage)

	return app, &apiTestEnv{dialogue: dialogueService, users: users}
}
