// Package config provides configuration for the assistant.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the assistant configuration.
type Config struct {
	// Server settings
	HTTPPort    int
	CORSOrigins []string

	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Model
	OpenAIBaseURL string
	OpenAIAPIKey  string
	LLMModel      string
	Mode          string

	// Timeouts
	ModelTimeout time.Duration
	ToolTimeout  time.Duration
	SealTimeout  time.Duration

	// Turn limits
	MaxToolRounds int
	HistoryLimit  int
	RecallLimit   int

	// Auth
	JWTSecret          string
	SessionTTL         time.Duration
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	CookieSecure       bool

	// Tool upstreams
	PeopleAPIURL string
	GmailAPIURL  string

	// Tool policy
	PolicyFile    string
	DisabledTools []string

	// Observability
	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load loads configuration from environment variables. When CONFIG_FILE
// names a YAML file, its keys (same names as the environment variables)
// are used for anything the environment leaves unset.
func Load() (*Config, error) {
	l := &loader{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		l.file = values
	}

	cfg := &Config{
		HTTPPort:           l.getInt("HTTP_PORT", 8080),
		CORSOrigins:        l.getList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		DatabaseDriver:     l.get("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:        l.get("DATABASE_URL", "file:assistant.db?cache=shared&mode=rwc&_busy_timeout=5000"),
		OpenAIBaseURL:      l.get("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:       l.get("OPENAI_API_KEY", ""),
		LLMModel:           l.get("LLM_MODEL", "gpt-4o-mini"),
		Mode:               l.get("GOGO_MODE", ""),
		ModelTimeout:       time.Duration(l.getInt("MODEL_TIMEOUT_MS", 120000)) * time.Millisecond,
		ToolTimeout:        time.Duration(l.getInt("TOOL_TIMEOUT_MS", 15000)) * time.Millisecond,
		SealTimeout:        time.Duration(l.getInt("SEAL_TIMEOUT_MS", 5000)) * time.Millisecond,
		MaxToolRounds:      l.getInt("MAX_TOOL_ROUNDS", 5),
		HistoryLimit:       l.getInt("HISTORY_LIMIT", 20),
		RecallLimit:        l.getInt("RECALL_LIMIT", 3),
		JWTSecret:          l.get("JWT_SECRET", ""),
		SessionTTL:         time.Duration(l.getInt("SESSION_TTL_MS", 7*24*3600*1000)) * time.Millisecond,
		GoogleClientID:     l.get("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: l.get("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  l.get("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback"),
		CookieSecure:       l.getBool("COOKIE_SECURE", false),
		PeopleAPIURL:       l.get("PEOPLE_API_URL", "https://people.googleapis.com"),
		GmailAPIURL:        l.get("GMAIL_API_URL", "https://gmail.googleapis.com"),
		PolicyFile:         l.get("POLICY_FILE", ""),
		DisabledTools:      l.getList("DISABLED_TOOLS", nil),
		OTLPEndpoint:       l.get("OTLP_ENDPOINT", ""),
		OTLPInsecure:       l.getBool("OTLP_INSECURE", true),
		ServiceName:        l.get("SERVICE_NAME", "assistant"),
		LogLevel:           l.get("LOG_LEVEL", "info"),
		LogPretty:          l.getBool("LOG_PRETTY", false),
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("MAX_TOOL_ROUNDS must be at least 1")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("HISTORY_LIMIT must not be negative")
	}
	return nil
}

// MockMode reports whether the mock model is selected.
func (c *Config) MockMode() bool {
	return strings.EqualFold(c.Mode, "MOCK")
}

type loader struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			values[strings.ToUpper(k)] = strings.Join(parts, ",")
		case nil:
		default:
			values[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return values, nil
}

func (l *loader) get(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := l.file[key]; ok && val != "" {
		return val
	}
	return defaultVal
}

func (l *loader) getInt(key string, defaultVal int) int {
	if val := l.get(key, ""); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func (l *loader) getBool(key string, defaultVal bool) bool {
	if val := l.get(key, ""); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func (l *loader) getList(key string, defaultVal []string) []string {
	val := l.get(key, "")
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
