package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/ports"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
	guestTokenTTL   = 24 * time.Hour
)

type Service struct {
	userRepo  ports.UserRepository
	cache     ports.Cache
	jwtSecret []byte
	log       *zap.Logger
}

func NewService(userRepo ports.UserRepository, cache ports.Cache, jwtSecret string, log *zap.Logger) ports.AuthService {
	return &Service{
		userRepo:  userRepo,
		cache:     cache,
		jwtSecret: []byte(jwtSecret),
		log:       log,
	}
}

func (s *Service) Login(ctx context.Context, email, password string) (string, string, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return "", "", errors.New("invalid credentials")
	}
	if user == nil {
		return "", "", errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", "", errors.New("invalid credentials")
	}

	return s.generateTokens(user)
}

func (s *Service) Register(ctx context.Context, user *domain.User) error {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.Password = string(hashedPwd)
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	if user.Role == "" {
		user.Role = domain.UserRoleUser
	}
	user.Status = "Active"

	return s.userRepo.Save(ctx, user)
}

func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	token, err := jwt.Parse(refreshToken, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid refresh token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}
	userID, ok := claims["sub"].(string)
	if !ok {
		return "", errors.New("invalid user id in token")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil || user == nil {
		return "", errors.New("user not found")
	}

	return s.generateAccessToken(user)
}

func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (*domain.User, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	userID, ok := claims["sub"].(string)
	if !ok {
		return nil, errors.New("invalid sub")
	}

	if tokenType, _ := claims["type"].(string); tokenType == "guest" {
		// Guest identities never hit the user table.
		return &domain.User{ID: userID, Role: domain.UserRoleUser, Tier: "free"}, nil
	}

	return s.userRepo.FindByID(ctx, userID)
}

// GuestToken mints a signed token carrying a synthetic caller identity so
// anonymous sessions have a stable key for persistence and quota.
func (s *Service) GuestToken(ctx context.Context) (string, string, error) {
	callerID := "guest-" + uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  callerID,
		"exp":  time.Now().Add(guestTokenTTL).Unix(),
		"type": "guest",
	})
	tokenStr, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", "", err
	}

	s.log.Info("Guest session issued", zap.String("caller_id", callerID))
	return tokenStr, callerID, nil
}

func (s *Service) generateTokens(user *domain.User) (string, string, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return "", "", err
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID,
		"exp":  time.Now().Add(refreshTokenTTL).Unix(),
		"type": "refresh",
	})
	refreshTokenStr, err := refreshToken.SignedString(s.jwtSecret)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshTokenStr, nil
}

func (s *Service) generateAccessToken(user *domain.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID,
		"role": user.Role,
		"exp":  time.Now().Add(accessTokenTTL).Unix(),
		"type": "access",
	})
	return token.SignedString(s.jwtSecret)
}
