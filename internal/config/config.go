package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIURL        string
	WSURL         string
	CredentialsDB string
	StoreKey      string
	HTTPTimeout   time.Duration
	RefreshBuffer time.Duration
	Reconnects    Reconnects
}

type Reconnects struct {
	PerMinute int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	apiURL := strings.TrimRight(envString("THREADLINE_API_URL", "http://127.0.0.1:8000"), "/")
	cfg := Config{
		APIURL:        apiURL,
		WSURL:         strings.TrimRight(envString("THREADLINE_WS_URL", wsFromHTTP(apiURL)), "/"),
		CredentialsDB: envLookup("THREADLINE_CREDENTIALS_DB", defaultCredentialsDB()),
		StoreKey:      envString("THREADLINE_STORE_KEY", ""),
		HTTPTimeout:   envDuration("THREADLINE_HTTP_TIMEOUT", 30*time.Second),
		RefreshBuffer: envDuration("THREADLINE_REFRESH_BUFFER", 60*time.Second),
		Reconnects: Reconnects{
			PerMinute: envInt("THREADLINE_RECONNECTS_PER_MIN", 5),
		},
	}

	return cfg
}

func wsFromHTTP(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func defaultCredentialsDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "threadline.db"
	}
	return filepath.Join(home, ".threadline", "credentials.db")
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envLookup is envString for keys where an explicitly empty value is meaningful.
func envLookup(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
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
