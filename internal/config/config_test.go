package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
port: "8084"
databaseURL: "postgres://localhost/jhpc"
authServiceURL: "http://localhost:8081"
jwtSecret: "secret"
`

func TestLoad(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
logLevel: debug
rateLimit: 10
rateWindow: 1m
sessionTTL: 45m
trustedProxies: ["10.0.0.0/8"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8084" || cfg.LogLevel != "debug" || cfg.RateLimit != 10 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.TrustedProxies) != 1 {
		t.Fatalf("trustedProxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "from-env" {
		t.Fatalf("jwtSecret = %q", cfg.JWTSecret)
	}
	if cfg.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("redisAddr = %q", cfg.RedisAddr)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `
port: "8084"
databaseURL: "postgres://localhost/jhpc"
authServiceURL: "http://localhost:8081"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing jwtSecret")
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDuration("", 30*time.Minute); err != nil || d != 30*time.Minute {
		t.Fatalf("empty: d=%v err=%v", d, err)
	}
	if d, err := ParseDuration("90s", 0); err != nil || d != 90*time.Second {
		t.Fatalf("90s: d=%v err=%v", d, err)
	}
	if _, err := ParseDuration("soon", 0); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseDuration("-1m", 0); err == nil {
		t.Fatal("expected error for non-positive duration")
	}
}
