package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nuid"
	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/model"
	"github.com/tasklists/project/internal/platform/auth"
	"github.com/tasklists/project/internal/session"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailRequired       = errors.New("email is required")
	ErrInvalidPassword     = errors.New("password must be at least 8 characters")
	ErrEmailTaken          = errors.New("email is already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRefreshTokenMissing = errors.New("refresh_token is required")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type Service struct {
	Repo       Repository
	AuthToken  auth.Manager
	NewID      func() string
	NewUserID  func() string
	RefreshTTL time.Duration
	Now        func() time.Time
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:       repo,
		AuthToken:  tokenManager,
		NewID:      nuid.Next,
		NewUserID:  func() string { return uuid.NewString() },
		RefreshTTL: 30 * 24 * time.Hour,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func NewTokenManager(secret string, ttl time.Duration) auth.Manager {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return auth.NewManager(secret, ttl)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if normalizeEmail(email) == "" {
		return ErrEmailRequired
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

// SignUp registers a user with an empty full name.
func (s *Service) SignUp(ctx context.Context, email, password string) (AuthResponse, error) {
	return s.Register(ctx, email, password, "")
}

func (s *Service) Register(ctx context.Context, email, password, fullName string) (AuthResponse, error) {
	if err := validateCredentials(email, password); err != nil {
		return AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u := User{
		ID:           s.NewUserID(),
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
	}
	if err := s.Repo.CreateUser(ctx, u, strings.TrimSpace(fullName)); err != nil {
		if errors.Is(err, backend.ErrConflict) {
			return AuthResponse{}, ErrEmailTaken
		}
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (AuthResponse, error) {
	addr := normalizeEmail(email)
	if addr == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueSession(ctx, u)
}

// Refresh exchanges a refresh token for a new session and revokes it.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AuthResponse{}, ErrRefreshTokenMissing
	}

	token, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidRefreshToken
		}
		return AuthResponse{}, err
	}
	if !token.Active(s.Now()) {
		return AuthResponse{}, ErrInvalidRefreshToken
	}
	if err := s.Repo.RevokeRefreshToken(ctx, token.TokenID, s.Now()); err != nil {
		return AuthResponse{}, err
	}

	u, err := s.Repo.FindUserByID(ctx, token.UserID)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

// SignOut revokes the refresh token. Unknown or already revoked tokens are
// not an error.
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrRefreshTokenMissing
	}
	token, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if token.RevokedAt != nil {
		return nil
	}
	return s.Repo.RevokeRefreshToken(ctx, token.TokenID, s.Now())
}

func (s *Service) Profile(ctx context.Context, userID string) (model.Profile, error) {
	return s.Repo.FindProfile(ctx, userID)
}

// Verify parses an access token and returns its claims.
func (s *Service) Verify(accessToken string) (auth.Claims, error) {
	return s.AuthToken.Parse(accessToken)
}

func (s *Service) issueSession(ctx context.Context, user User) (AuthResponse, error) {
	accessToken, expires, err := s.AuthToken.Sign(user.ID, user.Email)
	if err != nil {
		return AuthResponse{}, err
	}

	refreshToken := s.NewID() + "." + s.NewID()
	token := RefreshToken{
		TokenID:   s.NewID(),
		UserID:    user.ID,
		TokenHash: hashRefreshToken(refreshToken),
		ExpiresAt: s.Now().Add(s.RefreshTTL),
	}
	if err := s.Repo.CreateRefreshToken(ctx, token); err != nil {
		return AuthResponse{}, err
	}

	return AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Email:        user.Email,
		ExpiresAt:    expires,
	}, nil
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Sessions adapts the service to session.Authenticator.
func (s *Service) Sessions() session.Authenticator {
	return sessionAuth{s}
}

type sessionAuth struct {
	svc *Service
}

func (a sessionAuth) SignUp(ctx context.Context, email, password string) (session.Session, error) {
	resp, err := a.svc.SignUp(ctx, email, password)
	return toSession(resp), err
}

func (a sessionAuth) SignIn(ctx context.Context, email, password string) (session.Session, error) {
	resp, err := a.svc.SignIn(ctx, email, password)
	return toSession(resp), err
}

func (a sessionAuth) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	resp, err := a.svc.Refresh(ctx, refreshToken)
	return toSession(resp), err
}

func (a sessionAuth) SignOut(ctx context.Context, refreshToken string) error {
	return a.svc.SignOut(ctx, refreshToken)
}

func toSession(resp AuthResponse) session.Session {
	return session.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.UserID,
		Email:        resp.Email,
		ExpiresAt:    resp.ExpiresAt,
	}
}
