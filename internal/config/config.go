// Package config collects process configuration from the environment once
// at startup. Components receive what they need explicitly; nothing reads
// env vars after init.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPAddr  string
	DataDir   string
	HistoryDB string

	ResultTTL   time.Duration
	PollBlock   time.Duration
	WorkerCount int
}

func FromEnv() Config {
	return Config{
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getint("REDIS_DB", 0),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		DataDir:       getenv("DATA_DIR", "./data"),
		HistoryDB:     getenv("HISTORY_DB", "./history.db"),
		ResultTTL:     getdur("RESULT_TTL", time.Hour),
		PollBlock:     getdur("POLL_BLOCK", time.Second),
		WorkerCount:   getint("WORKER_COUNT", 1),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
