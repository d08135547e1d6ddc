package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	// LTI 1.3 tool registration
	LTIPlatformID     string
	LTIClientID       string
	LTIAuthURL        string
	LTIJWKSURL        string
	LTITokenURL       string
	LTIKID            string
	LTIPrivateKeyFile string
	LTIPublicKeyFile  string
	LTIToolLaunchURL  string
	LTIFrontendURL    string
	LTISelectionURL   string
	LTIDisplayMode    string
	LTIHTTPTimeout    time.Duration
	LTIClockSkew      time.Duration
	LTILaunchTokenTTL time.Duration

	SessionStore        string // memory|redis
	SessionTTL          time.Duration
	SessionCookieName   string
	SessionSecret       string
	SessionCookieSecure bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AdminTokenHash string // bcrypt

	CORSOrigins []string

	LogLevel  string
	LogFormat string
}

// Load reads .env (when present), the optional YAML file named by
// LTI_CONFIG_FILE, then the environment. Environment wins over the file.
func Load() (Config, error) {
	_ = godotenv.Load()
	file, err := readFile(os.Getenv("LTI_CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}
	cfg := fromLookup(file.lookup)
	return cfg, cfg.Validate()
}

// FromEnv reads the environment only.
func FromEnv() Config {
	return fromLookup(func(string) string { return "" })
}

func fromLookup(fileVal func(string) string) Config {
	get := func(k, def string) string {
		if v := os.Getenv(k); v != "" {
			return v
		}
		if v := fileVal(k); v != "" {
			return v
		}
		return def
	}
	pub := strings.TrimSuffix(get("PUBLIC_URL", "http://localhost:5000"), "/")
	frontend := strings.TrimSuffix(get("LTI_FRONTEND_URL", "http://localhost:5173"), "/")

	return Config{
		HTTPAddr:  get("HTTP_ADDR", ":5000"),
		PublicURL: pub,

		DBDriver: get("DB_DRIVER", "sqlite"),
		DBDSN:    get("DB_DSN", ""),

		LTIPlatformID:     get("LTI_PLATFORM_ID", ""),
		LTIClientID:       get("LTI_CLIENT_ID", ""),
		LTIAuthURL:        get("LTI_AUTH_URL", ""),
		LTIJWKSURL:        get("LTI_JWKS_URL", ""),
		LTITokenURL:       get("LTI_TOKEN_URL", ""),
		LTIKID:            get("LTI_KID", ""),
		LTIPrivateKeyFile: get("LTI_PRIVATE_KEY_FILE", ""),
		LTIPublicKeyFile:  get("LTI_PUBLIC_KEY_FILE", ""),
		LTIToolLaunchURL:  get("LTI_TOOL_LAUNCH_URL", pub+"/launch"),
		LTIFrontendURL:    frontend,
		LTISelectionURL:   get("LTI_SELECTION_URL", frontend+"/"),
		LTIDisplayMode:    get("LTI_DISPLAY_MODE", "viewer"),
		LTIHTTPTimeout:    durationOr(get("LTI_HTTP_TIMEOUT", ""), 10*time.Second),
		LTIClockSkew:      durationOr(get("LTI_CLOCK_SKEW", ""), 0),
		LTILaunchTokenTTL: durationOr(get("LTI_LAUNCH_TOKEN_TTL", ""), 600*time.Second),

		SessionStore:        get("SESSION_STORE", "memory"),
		SessionTTL:          durationOr(get("SESSION_TTL", ""), time.Hour),
		SessionCookieName:   get("SESSION_COOKIE_NAME", "lti_session"),
		SessionSecret:       get("SESSION_SECRET", ""),
		SessionCookieSecure: boolOr(get("SESSION_COOKIE_SECURE", ""), true),

		RedisAddr:     get("REDIS_ADDR", "localhost:6379"),
		RedisPassword: get("REDIS_PASSWORD", ""),
		RedisDB:       intOr(get("REDIS_DB", ""), 0),

		AdminTokenHash: get("ADMIN_TOKEN_HASH", ""),

		CORSOrigins: csv(get("CORS_ORIGINS", frontend)),

		LogLevel:  get("LOG_LEVEL", "info"),
		LogFormat: get("LOG_FORMAT", "json"),
	}
}

// Validate reports every missing or malformed setting at once.
func (c Config) Validate() error {
	var errs []error
	for _, r := range []struct{ key, val string }{
		{"LTI_PLATFORM_ID", c.LTIPlatformID},
		{"LTI_CLIENT_ID", c.LTIClientID},
		{"LTI_AUTH_URL", c.LTIAuthURL},
		{"LTI_JWKS_URL", c.LTIJWKSURL},
		{"LTI_TOKEN_URL", c.LTITokenURL},
	} {
		if strings.TrimSpace(r.val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}
	switch strings.ToLower(c.LTIDisplayMode) {
	case "frontend", "orthanflow", "viewer":
	default:
		errs = append(errs, fmt.Errorf("LTI_DISPLAY_MODE must be frontend or viewer, got %q", c.LTIDisplayMode))
	}
	switch c.SessionStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE must be memory or redis, got %q", c.SessionStore))
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver))
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	if c.LTIHTTPTimeout <= 0 {
		errs = append(errs, errors.New("LTI_HTTP_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// ------------------------------- YAML file -----------------------------------

// fileConfig holds env-style keys, e.g.
//
//	LTI_PLATFORM_ID: https://moodle.example.edu
//	LTI_CLIENT_ID: abc123
type fileConfig map[string]string

func readFile(path string) (fileConfig, error) {
	if strings.TrimSpace(path) == "" {
		return fileConfig{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fc, nil
}

func (f fileConfig) lookup(k string) string { return f[k] }

// --------------------------------- helpers -----------------------------------

func durationOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func boolOr(v string, def bool) bool {
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func intOr(v string, def int) int {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func csv(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
