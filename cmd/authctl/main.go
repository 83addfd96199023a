// Command authctl is the operator tool for the auth service: it applies
// database migrations, provisions users and hashes secrets.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/outs/outs-auth-go/internal/config"
	"github.com/outs/outs-auth-go/internal/crypto"
	"github.com/outs/outs-auth-go/internal/model"
	"github.com/outs/outs-auth-go/internal/repository"
	"github.com/outs/outs-auth-go/internal/service"
)

const usage = `usage: authctl <command> [flags]

commands:
  migrate up|down|status   apply, roll back or list schema migrations
  create-user              create a user account
  hash                     print the hash of a secret read from stdin or a prompt
`

func main() {
	config.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch args[0] {
	case "migrate":
		return runMigrate(ctx, cfg, args[1:], stdout)
	case "create-user":
		return runCreateUser(ctx, cfg, args[1:], stdin, stdout)
	case "hash":
		return runHash(ctx, cfg, args[1:], stdin, stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runMigrate(ctx context.Context, cfg *config.Config, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("migrate needs one of: up, down, status")
	}

	store, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	switch args[0] {
	case "up":
		if err := store.Migrate(ctx, repository.MigrateUp); err != nil {
			return err
		}
	case "down":
		if err := store.Migrate(ctx, repository.MigrateDown); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate direction %q", args[0])
	}

	states, err := store.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, st := range states {
		applied := "pending"
		if st.Applied {
			applied = "applied " + st.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(stdout, "%05d  %-28s  %s\n", st.Version, st.Path, applied)
	}
	return nil
}

func runCreateUser(ctx context.Context, cfg *config.Config, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(stdout)
	email := fs.String("email", "", "email address (required)")
	name := fs.String("name", "", "display name")
	role := fs.String("role", "user", "role: user or admin")
	passwordStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	generate := fs.Int("generate", 0, "generate a random password of this length and print it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		password string
		err      error
	)
	switch {
	case *generate > 0:
		password, err = crypto.GeneratePassword(*generate)
	case *passwordStdin:
		password, err = readLine(stdin)
	default:
		password, err = promptPassword(stdout)
	}
	if err != nil {
		return err
	}

	store, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	hasher, err := crypto.NewHasher(crypto.HasherConfig{Algorithm: cfg.HashAlgorithm, BcryptCost: cfg.BcryptCost})
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewAuthService(store, hasher, nil, logger, nil)

	req := model.CreateUserRequest{Email: *email, Password: password, Role: *role}
	if *name != "" {
		req.Name = name
	}

	user, err := svc.CreateUser(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "created user %s (%s, role %s)\n", user.ID, user.Email, user.Role)
	if *generate > 0 {
		fmt.Fprintf(stdout, "password: %s\n", password)
	}
	return nil
}

func runHash(ctx context.Context, cfg *config.Config, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fromStdin := fs.Bool("stdin", false, "read the secret from stdin instead of prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		secret string
		err    error
	)
	if *fromStdin {
		secret, err = readLine(stdin)
	} else {
		secret, err = promptPassword(stdout)
	}
	if err != nil {
		return err
	}

	hasher, err := crypto.NewHasher(crypto.HasherConfig{Algorithm: cfg.HashAlgorithm, BcryptCost: cfg.BcryptCost})
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(ctx, secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

// promptPassword reads a password twice from the terminal without echo.
func promptPassword(stdout io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; use -password-stdin or -generate")
	}

	fmt.Fprint(stdout, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(stdout)
	if err != nil {
		return "", err
	}

	fmt.Fprint(stdout, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(stdout)
	if err != nil {
		return "", err
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("empty password")
	}
	return string(first), nil
}
