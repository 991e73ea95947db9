// Command seed bootstraps an administrator account: it registers the user
// through the normal registration path (or reuses an existing account) and
// grants the admin role.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"starterkit.dev/internal/auth"
	"starterkit.dev/internal/config"
	"starterkit.dev/internal/obs"
	"starterkit.dev/internal/store/pg"
	"starterkit.dev/internal/users"
)

func main() {
	var (
		name     = flag.String("name", "Administrator", "Display name for a new account")
		email    = flag.String("email", os.Getenv("SEED_ADMIN_EMAIL"), "Admin email")
		password = flag.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "Admin password (new accounts only)")
	)
	flag.Parse()

	if err := run(*name, *email, *password); err != nil {
		obs.Logger().Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(name, email, password string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetLogger(obs.NewLogger(os.Stderr, obs.ParseLevel(cfg.LogLevel)))
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}
	if email == "" {
		return errors.New("usage: seed -email admin@example.com -password Secret123")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(ctx, cfg.DatabaseURL, cfg.StoreOptions())
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := auth.NewTokenService(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer), auth.WithDefaultTTL(cfg.JWTTTL))
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(store, auth.NewHasher(cfg.BcryptCost), tokens)
	if err != nil {
		return err
	}
	userSvc := users.NewService(store)

	userID, err := ensureUser(ctx, authSvc, store, name, email, password)
	if err != nil {
		return err
	}
	if err := userSvc.AssignRole(ctx, "", userID, auth.RoleAdmin); err != nil {
		return fmt.Errorf("assign admin role: %w", err)
	}
	roles, err := userSvc.Roles(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("admin ready: %s (%s) roles=%v\n", auth.NormalizeEmail(email), userID, roles)
	return nil
}

func ensureUser(ctx context.Context, svc *auth.Service, store auth.Store, name, email, password string) (string, error) {
	existing, err := store.Users().FindByEmail(ctx, auth.NormalizeEmail(email))
	switch {
	case err == nil:
		return existing.ID, nil
	case !errors.Is(err, auth.ErrNotFound):
		return "", err
	}
	session, err := svc.Register(ctx, auth.RegisterInput{Name: name, Email: email, Password: password})
	if err != nil {
		return "", fmt.Errorf("register admin: %w", err)
	}
	return session.User.ID, nil
}
