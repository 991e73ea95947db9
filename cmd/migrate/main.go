package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"starterkit.dev/internal/config"
	"starterkit.dev/internal/migrate"
	"starterkit.dev/internal/obs"
	"starterkit.dev/internal/store/pg"
)

func main() {
	cfg, err := config.LoadDatabase()
	if err != nil {
		fail(err)
	}
	obs.SetLogger(obs.NewLogger(os.Stderr, obs.ParseLevel(cfg.LogLevel)))

	var (
		dsn            = flag.String("dsn", cfg.DatabaseURL, "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", cfg.MigrationsDir, "Path to SQL migrations")
		seedsPath      = flag.String("seeds", cfg.SeedsDir, "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		fail(errors.New("missing DSN: provide via -dsn or DATABASE_URL"))
	}
	if flag.NArg() == 0 {
		fail(errors.New("usage: migrate [up|down|seed|status]"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(ctx, *dsn, cfg.StoreOptions())
	if err != nil {
		fail(err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), os.DirFS(*migrationsPath), os.DirFS(*seedsPath))

	switch flag.Arg(0) {
	case "up":
		var ran []string
		if ran, err = mgr.Up(ctx); err == nil {
			fmt.Printf("applied %d migration(s)\n", len(ran))
		}
	case "down":
		var name string
		if name, err = mgr.Down(ctx); err == nil {
			fmt.Printf("rolled back %s\n", name)
		}
	case "seed":
		var ran []string
		if ran, err = mgr.Seed(ctx); err == nil {
			fmt.Printf("applied %d seed file(s)\n", len(ran))
		}
	case "status":
		var applied, pending []string
		if applied, pending, err = mgr.Status(ctx); err == nil {
			for _, name := range applied {
				fmt.Println("applied ", name)
			}
			for _, name := range pending {
				fmt.Println("pending ", name)
			}
		}
	default:
		err = fmt.Errorf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		store.Close()
		fail(fmt.Errorf("migrate %s: %w", flag.Arg(0), err))
	}
}

func fail(err error) {
	obs.Logger().Error("migrate failed", slog.String("error", err.Error()))
	os.Exit(1)
}
