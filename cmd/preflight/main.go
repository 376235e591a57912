// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/repo/postgres"
	"github.com/hamed0406/sitewatch/internal/repo/sqlite"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	if err := godotenv.Load(); err == nil {
		ok(".env loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err.Error())
	}
	ok("config valid")

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty (mutating routes are open).")
	}
	if len(cfg.PublicAPIKeys) == 0 && len(cfg.AdminAPIKeys) == 0 {
		warn("no API keys configured (read routes are open).")
	}
	// Sanity-check lists (no spaces inside keys).
	for name, keys := range map[string][]string{"ADMIN_API_KEYS": cfg.AdminAPIKeys, "PUBLIC_API_KEYS": cfg.PublicAPIKeys} {
		for _, k := range keys {
			if strings.ContainsAny(k, " \t") {
				warn(name + " contains a key with spaces; use comma-separated keys, e.g. key1,key2")
			}
		}
	}
	ok("API_ADDR=" + cfg.Addr)

	if cfg.TelegramToken == "" && cfg.SlackWebhook == "" && cfg.WebhookURL == "" {
		warn("no notification channel configured; incidents will only be logged and audited.")
	}
	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		warn("WEBHOOK_URL set without WEBHOOK_SECRET; payloads will be unsigned.")
	}
	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; the API allows any origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch {
	case cfg.DatabaseURL != "":
		s, err := postgres.New(ctx, cfg.DatabaseURL, zap.NewNop())
		if err != nil {
			fail("postgres: " + err.Error())
		}
		_ = s.Close()
		ok("postgres reachable and migrated")
	case cfg.UsesMemoryStore():
		warn("in-memory store selected; nothing survives a restart.")
	default:
		s, err := sqlite.New(ctx, cfg.SQLitePath, zap.NewNop())
		if err != nil {
			fail("sqlite: " + err.Error())
		}
		_ = s.Close()
		ok("sqlite ready at " + cfg.SQLitePath)
	}

	ok("preflight passed")
}
