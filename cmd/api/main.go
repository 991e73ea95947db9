package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"starterkit.dev/internal/auth"
	"starterkit.dev/internal/config"
	"starterkit.dev/internal/httpapi"
	"starterkit.dev/internal/obs"
	"starterkit.dev/internal/store/pg"
	"starterkit.dev/internal/users"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := obs.NewLogger(os.Stdout, obs.ParseLevel(cfg.LogLevel)).With("env", cfg.Env)
	obs.SetLogger(logger)
	obs.SetBuild(version, commit)

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	opts := httpapi.Options{
		Version:       version,
		Development:   cfg.IsDevelopment(),
		RateBurst:     cfg.RateLimitBurst,
		RatePerSecond: cfg.RateLimitPerSecond,
		TrustProxy:    cfg.TrustProxyHeaders,
	}
	if cfg.RateLimitRedisAddr != "" {
		limiter, err := httpapi.NewRedisLimiter(cfg.RateLimitRedisAddr, cfg.RateLimitRedisPassword, cfg.RateLimitRedisDB,
			cfg.RateLimitBurst, time.Second, logger)
		if err != nil {
			return err
		}
		opts.Limiter = limiter
		logger.Info("rate limiter backed by redis", "addr", cfg.RateLimitRedisAddr)
	}

	probe := httpapi.ReadyProbe{Store: store}
	api := httpapi.New(authSvc, userSvc, probe, opts)
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCHealth(probe)
		health.Register(grpcSrv)
		go health.Run(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
