// Command spendsync-adduser creates accounts out of band. There is no public
// sign-up endpoint.
//
//	spendsync-adduser -email ana@example.com -role manager [-password ...]
//	spendsync-adduser genkey
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"

	"spendsync/cmd/identity"
	"spendsync/cmd/internal/app"
	"spendsync/cmd/internal/storage"
	"spendsync/cmd/security/token"
)

const defaultDBPath = "spendsync.db"

func main() {
	if _, err := app.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "genkey" {
		return genKey(stdout)
	}

	fs := flag.NewFlagSet("spendsync-adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	email := fs.String("email", "", "Account email (required)")
	name := fs.String("name", "", "Display name (defaults to the email local part)")
	roleFlag := fs.String("role", string(identity.RoleViewer), "Role: viewer, manager or admin")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	dbPath := fs.String("db", app.EnvString("SPENDSYNC_SQLITE_PATH", defaultDBPath), "Path to the SQLite database file")
	dbURL := fs.String("database-url", app.EnvString("SPENDSYNC_DATABASE_URL", ""), "Postgres URL; overrides -db when set")
	schema := fs.String("schema", app.EnvString("SPENDSYNC_DB_SCHEMA", storage.DefaultSchema), "Postgres schema")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*email) == "" {
		fmt.Fprintln(stdout, "Usage: spendsync-adduser -email <email> [-role viewer|manager|admin] [-name <name>] [-password <password>] [-db <path> | -database-url <url>]")
		fmt.Fprintln(stdout, "       spendsync-adduser genkey")
		fs.PrintDefaults()
		return errors.New("missing required flags: email")
	}

	role, err := identity.ParseRole(*roleFlag)
	if err != nil {
		return fmt.Errorf("invalid role %q", *roleFlag)
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout)
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("password cannot be empty")
	}

	displayName := strings.TrimSpace(*name)
	if displayName == "" {
		displayName = strings.SplitN(strings.TrimSpace(*email), "@", 2)[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users, closeStore, err := openUsers(ctx, *dbURL, *schema, *dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer closeStore()

	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Email:       *email,
		DisplayName: displayName,
		Password:    password,
		Role:        role,
		Now:         time.Now().UTC(),
	})
	switch {
	case identity.IsConflict(err):
		return fmt.Errorf("user %s already exists", strings.TrimSpace(*email))
	case err != nil:
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(stdout, "User %s created successfully with ID %s (role %s)\n", u.Email, u.ID, u.Role)
	return nil
}

func openUsers(ctx context.Context, dbURL, schema, dbPath string) (identity.Store, func(), error) {
	if strings.TrimSpace(dbURL) == "" {
		db, err := storage.OpenSQLite(ctx, dbPath)
		if err != nil {
			return nil, nil, err
		}
		users, err := identity.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return users, func() { _ = db.Close() }, nil
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.ApplyPostgres(ctx, pool, schema); err != nil {
		pool.Close()
		return nil, nil, err
	}
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return users, pool.Close, nil
}

// genKey prints fresh signing and token-digest secrets in dotenv form.
func genKey(stdout io.Writer) error {
	hmacKey := make([]byte, token.MinHMACKeyBytes)
	if _, err := rand.Read(hmacKey); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "SPENDSYNC_PASETO_V4_SECRET_KEY_HEX=%s\n", paseto.NewV4AsymmetricSecretKey().ExportHex())
	fmt.Fprintf(stdout, "%s=%s\n", token.HMACEnvKey, hex.EncodeToString(hmacKey))
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
