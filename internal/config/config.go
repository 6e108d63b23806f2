package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	DBPath        string
	LogLevel      string
	OracleBaseURL string
	OracleTimeout time.Duration
	RateLimits    RateLimits
}

type RateLimits struct {
	PostPerFiveMinutes int
	LikePerHour        int
	FollowPerDay       int
	RegisterPerIPHour  int
}

func Load() Config {
	addr := envString("SLASHPOST_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	cfg := Config{
		Addr:          addr,
		DBPath:        envString("SLASHPOST_DB", "slashpost.db"),
		LogLevel:      envString("SLASHPOST_LOG_LEVEL", "info"),
		OracleBaseURL: envString("SLASHPOST_ORACLE_URL", ""),
		OracleTimeout: envDuration("SLASHPOST_ORACLE_TIMEOUT", 10*time.Second),
		RateLimits: RateLimits{
			PostPerFiveMinutes: envInt("SLASHPOST_RL_POST", 1),
			LikePerHour:        envInt("SLASHPOST_RL_LIKE", 30),
			FollowPerDay:       envInt("SLASHPOST_RL_FOLLOW", 50),
			RegisterPerIPHour:  envInt("SLASHPOST_RL_REGISTER_IP", 10),
		},
	}

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
