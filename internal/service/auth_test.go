package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outs/outs-auth-go/internal/crypto"
	"github.com/outs/outs-auth-go/internal/model"
	"github.com/outs/outs-auth-go/internal/observability"
	"github.com/outs/outs-auth-go/internal/repository"
)

// memRepo is an in-memory UserRepository.
type memRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	failGet error
	failSet error
}

func newMemRepo() *memRepo {
	return &memRepo{byID: make(map[string]*model.User)}
}

func (r *memRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Email = repository.NormalizeEmail(user.Email)
	for _, u := range r.byID {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = "user"
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}

func (r *memRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failGet != nil {
		return nil, r.failGet
	}
	email = repository.NormalizeEmail(email)
	for _, u := range r.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failGet != nil {
		return nil, r.failGet
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) SetRefreshTokenHash(_ context.Context, id string, hash *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failSet != nil {
		return r.failSet
	}
	u, ok := r.byID[id]
	if !ok {
		return nil
	}
	if hash == nil {
		u.CurrentHashedRefreshToken = nil
	} else {
		h := *hash
		u.CurrentHashedRefreshToken = &h
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (r *memRepo) storedHash(id string) *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id].CurrentHashedRefreshToken
}

func (r *memRepo) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

type testEnv struct {
	svc    *AuthService
	repo   *memRepo
	hasher crypto.Hasher
	tokens *crypto.TokenIssuer
	user   *model.User
}

const testPassword = "right-password"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newMemRepo()
	hasher := crypto.NewBcryptHasher(4)
	tokens := crypto.NewTokenIssuer(crypto.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     10 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAuthService(repo, hasher, tokens, logger, observability.NewMetrics())

	hash, err := hasher.Hash(context.Background(), testPassword)
	require.NoError(t, err)
	name := "Ada"
	user := &model.User{Email: "a@b.com", PasswordHash: hash, Name: &name, Role: "admin"}
	require.NoError(t, repo.Create(context.Background(), user))

	return &testEnv{svc: svc, repo: repo, hasher: hasher, tokens: tokens, user: user}
}

func (e *testEnv) login(t *testing.T) model.AuthResponse {
	t.Helper()

	resp, err := e.svc.Login(context.Background(), model.LoginRequest{Email: "a@b.com", Password: testPassword})
	require.NoError(t, err)
	return resp
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.login(t)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, env.user.ID, resp.User.ID)
	assert.Equal(t, "a@b.com", resp.User.Email)
	assert.Equal(t, "admin", resp.User.Role)

	claims, ok := env.tokens.Verify(crypto.AccessToken, resp.AccessToken)
	require.True(t, ok)
	assert.Equal(t, env.user.ID, claims.Subject)

	stored := env.repo.storedHash(env.user.ID)
	require.NotNil(t, stored)
	assert.True(t, env.hasher.Verify(ctx, resp.RefreshToken, *stored))
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		req     model.LoginRequest
		wantErr error
	}{
		{"missing email", model.LoginRequest{Password: "x"}, ErrMissingCredentials},
		{"missing password", model.LoginRequest{Email: "a@b.com"}, ErrMissingCredentials},
		{"unknown email", model.LoginRequest{Email: "nobody@b.com", Password: testPassword}, ErrInvalidCredentials},
		{"wrong password", model.LoginRequest{Email: "a@b.com", Password: "wrong"}, ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Login(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLogin_EmailIsNormalized(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Login(context.Background(), model.LoginRequest{Email: "  A@B.COM ", Password: testPassword})
	assert.NoError(t, err)
}

func TestLogin_ReplacesPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.login(t)
	second := env.login(t)

	_, err := env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: second.RefreshToken})
	assert.NoError(t, err)
}

func TestLogin_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.repo.failGet = errors.New("connection reset")

	_, err := env.svc.Login(context.Background(), model.LoginRequest{Email: "a@b.com", Password: testPassword})
	require.Error(t, err)
	assert.Equal(t, CodeInternal, ErrorCode(err))
}

func TestRefresh_Rotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	initial := env.login(t)

	rotated, err := env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: initial.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, initial.RefreshToken, rotated.RefreshToken)
	assert.NotEqual(t, initial.AccessToken, rotated.AccessToken)
	assert.Equal(t, env.user.ID, rotated.User.ID)

	_, err = env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: initial.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "replayed token must be rejected")

	_, err = env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: rotated.RefreshToken})
	assert.NoError(t, err)
}

func TestRefresh_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.login(t)

	t.Run("empty token", func(t *testing.T) {
		_, err := env.svc.Refresh(ctx, model.RefreshRequest{})
		assert.ErrorIs(t, err, ErrMissingRefreshToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: "garbage"})
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("access token presented", func(t *testing.T) {
		_, err := env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: session.AccessToken})
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("expired token", func(t *testing.T) {
		old, err := env.tokens.Issue(crypto.RefreshToken, env.user, time.Now().Add(-8*24*time.Hour))
		require.NoError(t, err)
		_, err = env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: old})
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("user deleted", func(t *testing.T) {
		ghost := &model.User{ID: uuid.NewString(), Email: "ghost@b.com"}
		token, err := env.tokens.Issue(crypto.RefreshToken, ghost, time.Now())
		require.NoError(t, err)
		_, err = env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: token})
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.Equal(t, CodeNotFound, ErrorCode(err))
	})
}

func TestLogout_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.login(t)

	require.NoError(t, env.svc.Logout(ctx, env.user.ID))
	require.NoError(t, env.svc.Logout(ctx, env.user.ID))
	assert.Nil(t, env.repo.storedHash(env.user.ID))

	_, err := env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: session.RefreshToken})
	assert.ErrorIs(t, err, ErrNoRefreshTokenOnRecord)
}

func TestLogout_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.repo.failSet = errors.New("disk full")

	err := env.svc.Logout(context.Background(), env.user.ID)
	require.Error(t, err)
	assert.Equal(t, CodeInternal, ErrorCode(err))
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.svc.Me(ctx, env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", resp.Email)
	require.NotNil(t, resp.Name)
	assert.Equal(t, "Ada", *resp.Name)

	env.repo.delete(env.user.ID)
	_, err = env.svc.Me(ctx, env.user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRefresh_ConcurrentRotationLeavesOneValidToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.login(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []model.AuthResponse
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: session.RefreshToken})
			if err == nil {
				mu.Lock()
				results = append(results, resp)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.NotEmpty(t, results)

	stored := env.repo.storedHash(env.user.ID)
	require.NotNil(t, stored)

	valid := 0
	for _, r := range results {
		if env.hasher.Verify(ctx, r.RefreshToken, *stored) {
			valid++
		}
	}
	assert.Equal(t, 1, valid, "exactly one rotated token survives")

	_, err := env.svc.Refresh(ctx, model.RefreshRequest{RefreshToken: session.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.svc.CreateUser(ctx, model.CreateUserRequest{Email: " New@Example.com ", Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", resp.Email)
	assert.Equal(t, "user", resp.Role)

	_, err = env.svc.Login(ctx, model.LoginRequest{Email: "new@example.com", Password: "long-enough"})
	assert.NoError(t, err)

	_, err = env.svc.CreateUser(ctx, model.CreateUserRequest{Email: "new@example.com", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	tests := map[string]model.CreateUserRequest{
		"bad email":      {Email: "not-an-email", Password: "long-enough"},
		"short password": {Email: "x@example.com", Password: "short"},
		"bad role":       {Email: "y@example.com", Password: "long-enough", Role: "root"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.CreateUser(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidUserInput)
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, CodeOK},
		{ErrMissingCredentials, CodeMissingFields},
		{ErrInvalidCredentials, CodeInvalidCredentials},
		{ErrMissingRefreshToken, CodeInvalidToken},
		{ErrInvalidRefreshToken, CodeInvalidToken},
		{ErrNoRefreshTokenOnRecord, CodeInvalidToken},
		{ErrUserNotFound, CodeNotFound},
		{ErrEmailTaken, CodeConflict},
		{errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), "%v", tt.err)
	}
}

// flakyHasher fails the first n Hash calls and otherwise delegates.
type flakyHasher struct {
	crypto.Hasher
	mu       sync.Mutex
	failures int
	verified []string
}

func (f *flakyHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return "", errors.New("hasher busy")
	}
	f.mu.Unlock()
	return f.Hasher.Hash(ctx, plaintext)
}

func (f *flakyHasher) Verify(ctx context.Context, plaintext, encodedHash string) bool {
	f.mu.Lock()
	f.verified = append(f.verified, encodedHash)
	f.mu.Unlock()
	return f.Hasher.Verify(ctx, plaintext, encodedHash)
}

func TestLogin_UnknownEmailAfterCancelledRequest(t *testing.T) {
	hasher, err := crypto.NewHasher(crypto.HasherConfig{Algorithm: "bcrypt", BcryptCost: 4, Concurrency: 2})
	require.NoError(t, err)
	svc := NewAuthService(newMemRepo(), hasher, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.Login(cancelled, model.LoginRequest{Email: "ghost@example.com", Password: "whatever"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, strings.HasPrefix(svc.dummyHash, "$2"), "dummy hash must survive a cancelled first request")

	first := svc.dummyHash
	_, err = svc.Login(context.Background(), model.LoginRequest{Email: "ghost@example.com", Password: "whatever"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, first, svc.dummyHash)
}

func TestLogin_DummyHashRetriedAfterFailure(t *testing.T) {
	hasher := &flakyHasher{Hasher: crypto.NewBcryptHasher(4), failures: 1}
	svc := NewAuthService(newMemRepo(), hasher, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	req := model.LoginRequest{Email: "ghost@example.com", Password: "whatever"}

	_, err := svc.Login(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, svc.dummyHash)

	_, err = svc.Login(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	require.NotEmpty(t, svc.dummyHash)

	require.Len(t, hasher.verified, 2)
	assert.Equal(t, svc.dummyHash, hasher.verified[1])
}
