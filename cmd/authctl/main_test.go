package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outs/outs-auth-go/internal/repository"
	"github.com/outs/outs-auth-go/internal/service"
)

func setupEnv(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "auth.db")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DATABASE_URL", dbPath)
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("HASH_ALGORITHM", "bcrypt")
	return dbPath
}

func TestRun_MigrateAndCreateUser(t *testing.T) {
	dbPath := setupEnv(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"migrate", "up"}, nil, &out))
	assert.Contains(t, out.String(), "applied")

	out.Reset()
	err := run(ctx, []string{"create-user", "-email", " Ada@Example.com ", "-name", "Ada", "-password-stdin"},
		strings.NewReader("correct-horse\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "ada@example.com")
	assert.NotContains(t, out.String(), "correct-horse")

	store, err := repository.Open(ctx, "sqlite", dbPath)
	require.NoError(t, err)
	defer store.Close()

	user, err := store.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user", user.Role)
	require.NotNil(t, user.Name)
	assert.Equal(t, "Ada", *user.Name)
	assert.True(t, strings.HasPrefix(user.PasswordHash, "$2"))

	err = run(ctx, []string{"create-user", "-email", "ada@example.com", "-password-stdin"},
		strings.NewReader("another-pass\n"), &out)
	assert.ErrorIs(t, err, service.ErrEmailTaken)
}

func TestRun_CreateUserGeneratedPassword(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"migrate", "up"}, nil, &out))

	out.Reset()
	require.NoError(t, run(ctx, []string{"create-user", "-email", "ops@example.com", "-role", "admin", "-generate", "16"}, nil, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "role admin")
	password, ok := strings.CutPrefix(lines[1], "password: ")
	require.True(t, ok)
	assert.Len(t, password, 16)
}

func TestRun_CreateUserRejectsInvalidInput(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"migrate", "up"}, nil, &out))

	err := run(ctx, []string{"create-user", "-email", "not-an-email", "-password-stdin"},
		strings.NewReader("long-enough-password\n"), &out)
	assert.ErrorIs(t, err, service.ErrInvalidUserInput)

	err = run(ctx, []string{"create-user", "-email", "a@b.com", "-role", "root", "-password-stdin"},
		strings.NewReader("long-enough-password\n"), &out)
	assert.ErrorIs(t, err, service.ErrInvalidUserInput)

	err = run(ctx, []string{"create-user", "-email", "a@b.com", "-password-stdin"},
		strings.NewReader("\n"), &out)
	assert.EqualError(t, err, "empty password")
}

func TestRun_MigrateStatusAndDown(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"migrate", "status"}, nil, &out))
	assert.Contains(t, out.String(), "pending")

	require.NoError(t, run(ctx, []string{"migrate", "up"}, nil, &out))

	out.Reset()
	require.NoError(t, run(ctx, []string{"migrate", "down"}, nil, &out))
	assert.Contains(t, out.String(), "pending")

	assert.Error(t, run(ctx, []string{"migrate", "sideways"}, nil, &out))
	assert.Error(t, run(ctx, []string{"migrate"}, nil, &out))
}

func TestRun_Hash(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"hash", "-stdin"}, strings.NewReader("s3cret"), &out))
	assert.True(t, strings.HasPrefix(out.String(), "$2"))
}

func TestRun_UnknownCommand(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	assert.Error(t, run(context.Background(), nil, nil, &out))
	assert.Contains(t, out.String(), "usage: authctl")

	assert.EqualError(t, run(context.Background(), []string{"frobnicate"}, nil, &out), `unknown command "frobnicate"`)
	assert.NoError(t, run(context.Background(), []string{"help"}, nil, &out))
}
