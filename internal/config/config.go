// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config collects the environment-driven settings for the realtime service.
// Defaults are chosen so a bare `go run ./cmd/server` works against local
// Postgres/Redis instances.
type Config struct {
	Port string

	// Heartbeat supervisor settings.
	HeartbeatInterval  time.Duration
	HeartbeatMissLimit int

	// Matchmaking pairing pass interval.
	MatchPassInterval time.Duration

	// Grace period before a finished room is evicted from the store.
	RoomEvictDelay time.Duration

	RedisAddr       string
	RedisDB         int
	ResultQueueName string
}

// Load reads the configuration from environment variables.
func Load() Config {
	return Config{
		Port:               GetEnv("PORT", "8080"),
		HeartbeatInterval:  time.Duration(GetEnvInt("HEARTBEAT_INTERVAL_SEC", 30)) * time.Second,
		HeartbeatMissLimit: GetEnvInt("HEARTBEAT_MISS_LIMIT", 2),
		MatchPassInterval:  time.Duration(GetEnvInt("MATCH_PASS_INTERVAL_MS", 2000)) * time.Millisecond,
		RoomEvictDelay:     time.Duration(GetEnvInt("ROOM_EVICT_DELAY_SEC", 10)) * time.Second,
		RedisAddr:          GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            GetEnvInt("REDIS_DB", 0),
		ResultQueueName:    GetEnv("RESULT_QUEUE_NAME", "match_results"),
	}
}

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt parses an environment variable as integer, else a default value.
func GetEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
