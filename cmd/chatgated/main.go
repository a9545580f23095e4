package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joeyhaverhals/jhpc-new/internal/authclient"
	"github.com/joeyhaverhals/jhpc-new/internal/config"
	"github.com/joeyhaverhals/jhpc-new/internal/policystore"
	"github.com/joeyhaverhals/jhpc-new/internal/ratelimit"
	"github.com/joeyhaverhals/jhpc-new/internal/server"
	"github.com/joeyhaverhals/jhpc-new/internal/session"
	"github.com/joeyhaverhals/jhpc-new/internal/usertoken"
	"github.com/joeyhaverhals/jhpc-new/internal/util"
)

func main() {
	configPath := flag.String("config", config.ConfigPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	jwtLeeway, err := config.ParseDuration(cfg.JWTLeeway, 30*time.Second)
	if err != nil {
		util.Fatal("failed to parse jwt leeway", "err", err)
	}
	sessionTTL, err := config.ParseDuration(cfg.SessionTTL, 30*time.Minute)
	if err != nil {
		util.Fatal("failed to parse session ttl", "err", err)
	}
	rateWindow, err := config.ParseDuration(cfg.RateWindow, time.Minute)
	if err != nil {
		util.Fatal("failed to parse rate window", "err", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		Leeway: jwtLeeway,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	policies, err := policystore.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init policy store", "err", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" && cfg.RateLimit > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.RateLimit, rateWindow)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	httpServer := server.New(server.Config{
		Sessions:       session.NewManager(sessionTTL),
		Policies:       policies,
		Auth:           authclient.NewClient(cfg.AuthServiceURL),
		TokenVerifier:  tokenVerifier,
		Limiter:        limiter,
		TrustedProxies: trusted,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second, // dispatch round trips can be slow
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("chatgated listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
