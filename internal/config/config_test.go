package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noDotenv(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadFile(noDotenv(t))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Env != "development" || !cfg.IsDevelopment() {
		t.Fatalf("unexpected env: %q", cfg.Env)
	}
	if cfg.HTTPAddr != ":8080" || cfg.JWTTTL != time.Hour || cfg.BcryptCost != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DBMaxOpenConns != 10 || cfg.DBConnMaxIdleTime != 30*time.Second || cfg.DBConnectTimeout != 2*time.Second {
		t.Fatalf("unexpected pool defaults: %+v", cfg)
	}
	if cfg.TrustProxyHeaders {
		t.Fatalf("proxy headers must not be trusted by default")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadFile(noDotenv(t)); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}

func TestLoadRejectsDevSecretInProduction(t *testing.T) {
	t.Setenv("JWT_SECRET", DevSecret)
	t.Setenv("APP_ENV", "Production")
	if _, err := LoadFile(noDotenv(t)); err == nil {
		t.Fatal("expected error for default secret in production")
	}
}

func TestLoadRejectsBadBcryptCost(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("BCRYPT_COST", "40")
	if _, err := LoadFile(noDotenv(t)); err == nil {
		t.Fatal("expected error for BCRYPT_COST=40")
	}
}

func TestLoadReadsDotenvAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "JWT_SECRET=from-file\nJWT_TTL=15m\nHTTP_ADDR=:9090\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("HTTP_ADDR", ":7070")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.JWTSecret != "from-file" || cfg.JWTTTL != 15*time.Minute {
		t.Fatalf("dotenv values not applied: %+v", cfg)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Fatalf("env should override dotenv, got %q", cfg.HTTPAddr)
	}
}

func TestLoadRejectsMalformedDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("JWT_SECRET=from-file\nthis line is not an assignment\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("JWT_SECRET", "s3cret")

	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected parse error for malformed .env")
	}
}

func TestLoadDatabaseSkipsSecretCheck(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/starterkit")

	cfg, err := LoadDatabase()
	if err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/starterkit" || cfg.MigrationsDir != "ops/migrations/sql" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if opts := cfg.StoreOptions(); opts.MaxOpenConns != 10 || opts.ConnectTimeout != 2*time.Second {
		t.Fatalf("unexpected store options: %+v", opts)
	}
}
