package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	AuthSecret string

	CORSOrigins []string

	// ReleaseSkew absorbs clock/transport skew when comparing now against
	// release_scores_at.
	ReleaseSkew time.Duration
}

func FromEnv() Config {
	return Config{
		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		DBDriver:    envOr("DB_DRIVER", "sqlite"),
		DBDSN:       envOr("DB_DSN", ""),
		AuthSecret:  envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),
		ReleaseSkew: time.Duration(envInt("RELEASE_SKEW_MS", 1000)) * time.Millisecond,
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil && v >= 0 {
		return v
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
