package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/outs/outs-auth-go/internal/crypto"
	"github.com/outs/outs-auth-go/internal/model"
	"github.com/outs/outs-auth-go/internal/observability"
	"github.com/outs/outs-auth-go/internal/repository"
)

// TokenService mints and checks bearer tokens.
type TokenService interface {
	IssuePair(user *model.User, now time.Time) (crypto.TokenPair, error)
	Verify(kind crypto.TokenKind, token string) (*crypto.Claims, bool)
}

const dummyPassword = "outs-auth-dummy-password"

// AuthService handles authentication business logic.
type AuthService struct {
	repo      repository.UserRepository
	hasher    crypto.Hasher
	tokens    TokenService
	logger    *slog.Logger
	metrics   *observability.Metrics
	validator *validator.Validate
	now       func() time.Time

	dummyMu   sync.Mutex
	dummyHash string
}

// NewAuthService creates a new AuthService. metrics may be nil.
func NewAuthService(repo repository.UserRepository, hasher crypto.Hasher, tokens TokenService, logger *slog.Logger, metrics *observability.Metrics) *AuthService {
	return &AuthService{
		repo:      repo,
		hasher:    hasher,
		tokens:    tokens,
		logger:    logger,
		metrics:   metrics,
		validator: validator.New(),
		now:       time.Now,
	}
}

// Login checks the password and starts a new session, replacing any
// refresh token previously on record for the user.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (resp model.AuthResponse, err error) {
	defer func() { s.record(ctx, "login", err) }()

	if err := s.validator.Struct(req); err != nil {
		return model.AuthResponse{}, ErrMissingCredentials
	}

	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Burn a hash comparison so unknown emails cost the same as wrong passwords.
			s.hasher.Verify(ctx, req.Password, s.dummy(ctx))
			return model.AuthResponse{}, ErrInvalidCredentials
		}
		return model.AuthResponse{}, fmt.Errorf("look up user by email: %w", err)
	}

	if !s.hasher.Verify(ctx, req.Password, user.PasswordHash) {
		return model.AuthResponse{}, ErrInvalidCredentials
	}

	return s.startSession(ctx, user)
}

// Refresh exchanges a refresh token for a new pair. The presented token must
// match the hash on record, so a rotated or revoked token is rejected.
func (s *AuthService) Refresh(ctx context.Context, req model.RefreshRequest) (resp model.AuthResponse, err error) {
	defer func() { s.record(ctx, "refresh", err) }()

	if err := s.validator.Struct(req); err != nil {
		return model.AuthResponse{}, ErrMissingRefreshToken
	}

	claims, ok := s.tokens.Verify(crypto.RefreshToken, req.RefreshToken)
	if !ok {
		return model.AuthResponse{}, ErrInvalidRefreshToken
	}

	user, err := s.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.AuthResponse{}, ErrUserNotFound
		}
		return model.AuthResponse{}, fmt.Errorf("look up user by id: %w", err)
	}

	if !user.HasActiveSession() {
		return model.AuthResponse{}, ErrNoRefreshTokenOnRecord
	}
	if !s.hasher.Verify(ctx, req.RefreshToken, *user.CurrentHashedRefreshToken) {
		return model.AuthResponse{}, ErrInvalidRefreshToken
	}

	return s.startSession(ctx, user)
}

// Logout clears the stored refresh token hash. Logging out twice is fine.
func (s *AuthService) Logout(ctx context.Context, userID string) (err error) {
	defer func() { s.record(ctx, "logout", err) }()

	if err := s.repo.SetRefreshTokenHash(ctx, userID, nil); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

// Me returns the public view of the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (resp model.UserResponse, err error) {
	defer func() { s.record(ctx, "me", err) }()

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserResponse{}, ErrUserNotFound
		}
		return model.UserResponse{}, fmt.Errorf("look up user by id: %w", err)
	}
	return model.NewUserResponse(user), nil
}

// CreateUser provisions an account with a hashed password.
func (s *AuthService) CreateUser(ctx context.Context, req model.CreateUserRequest) (resp model.UserResponse, err error) {
	defer func() { s.record(ctx, "create_user", err) }()

	req.Email = repository.NormalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return model.UserResponse{}, fmt.Errorf("%w: %s", ErrInvalidUserInput, err.Error())
	}

	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return model.UserResponse{}, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         req.Role,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.UserResponse{}, ErrEmailTaken
		}
		return model.UserResponse{}, fmt.Errorf("create user: %w", err)
	}

	return model.NewUserResponse(user), nil
}

func (s *AuthService) startSession(ctx context.Context, user *model.User) (model.AuthResponse, error) {
	pair, err := s.tokens.IssuePair(user, s.now())
	if err != nil {
		return model.AuthResponse{}, fmt.Errorf("issue tokens: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, pair.RefreshToken)
	if err != nil {
		return model.AuthResponse{}, fmt.Errorf("hash refresh token: %w", err)
	}

	if err := s.repo.SetRefreshTokenHash(ctx, user.ID, &hash); err != nil {
		return model.AuthResponse{}, fmt.Errorf("store refresh token: %w", err)
	}

	return model.AuthResponse{
		User:         model.NewUserResponse(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// dummy returns a hash to verify against when the email is unknown, so the
// lookup costs as much as a wrong password. The hash is built detached from
// the request's cancellation and a failed attempt is retried on the next call.
func (s *AuthService) dummy(ctx context.Context) string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()

	if s.dummyHash == "" {
		hash, err := s.hasher.Hash(context.WithoutCancel(ctx), dummyPassword)
		if err != nil {
			s.logger.WarnContext(ctx, "dummy hash unavailable", "error", err)
			return ""
		}
		s.dummyHash = hash
	}
	return s.dummyHash
}

func (s *AuthService) record(ctx context.Context, operation string, err error) {
	code := ErrorCode(err)
	s.metrics.AuthEvent(operation, code)

	switch {
	case err == nil:
		s.logger.DebugContext(ctx, "auth operation succeeded", "operation", operation)
	case code == CodeInternal:
		s.logger.ErrorContext(ctx, "auth operation failed", "operation", operation, "code", code, "error", err)
	default:
		s.logger.WarnContext(ctx, "auth operation rejected", "operation", operation, "code", code, "reason", err.Error())
	}
}
