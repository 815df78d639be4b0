package app

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"huddle/cmd/identity"
	authapi "huddle/cmd/internal/auth/api"
	"huddle/cmd/internal/auth/session"
	"huddle/cmd/internal/realtime"
	"huddle/cmd/security/password"

	env "github.com/Netflix/go-env"
)

// DefaultAllowedOrigins is the browser allowlist used when HUDDLE_ALLOWED_ORIGINS is unset.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// Config contains all runtime configuration loaded from HUDDLE_* environment variables.
type Config struct {
	HTTPAddr          string        `env:"HUDDLE_HTTP_ADDR,default=0.0.0.0:8080"`
	ReadHeaderTimeout time.Duration `env:"HUDDLE_HTTP_READ_HEADER_TIMEOUT,default=5s"`
	ReadTimeout       time.Duration `env:"HUDDLE_HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout      time.Duration `env:"HUDDLE_HTTP_WRITE_TIMEOUT,default=15s"`
	IdleTimeout       time.Duration `env:"HUDDLE_HTTP_IDLE_TIMEOUT,default=60s"`
	MaxHeaderBytes    int           `env:"HUDDLE_HTTP_MAX_HEADER_BYTES,default=1048576"`
	ShutdownTimeout   time.Duration `env:"HUDDLE_SHUTDOWN_TIMEOUT,default=10s"`

	LogLevel  string `env:"HUDDLE_LOG_LEVEL,default=info"`
	LogFormat string `env:"HUDDLE_LOG_FORMAT,default=json"`

	// Empty DatabaseURL selects the in-memory identity store.
	DatabaseURL   string `env:"HUDDLE_DATABASE_URL"`
	DBMaxConns    int    `env:"HUDDLE_DB_MAX_CONNS,default=10"`
	DBMinConns    int    `env:"HUDDLE_DB_MIN_CONNS,default=0"`
	DBSchema      string `env:"HUDDLE_DB_SCHEMA,default=huddle"`
	DBAutoMigrate bool   `env:"HUDDLE_DB_AUTO_MIGRATE,default=false"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `env:"HUDDLE_READINESS_REQUIRE_DB,default=false"`

	// Comma-separated. Shared by CORS and the websocket origin check.
	AllowedOrigins string `env:"HUDDLE_ALLOWED_ORIGINS"`

	WSOriginRequired    bool          `env:"HUDDLE_WS_ORIGIN_REQUIRED,default=true"`
	WSDevInsecure       bool          `env:"HUDDLE_WS_DEV_INSECURE,default=false"`
	WSRequireAuth       bool          `env:"HUDDLE_WS_REQUIRE_AUTH,default=true"`
	WSSendQueueSize     int           `env:"HUDDLE_WS_SEND_QUEUE,default=256"`
	WSWriteTimeout      time.Duration `env:"HUDDLE_WS_WRITE_TIMEOUT,default=5s"`
	WSHeartbeatInterval time.Duration `env:"HUDDLE_WS_HEARTBEAT_INTERVAL,default=25s"`
	WSHeartbeatTimeout  time.Duration `env:"HUDDLE_WS_HEARTBEAT_TIMEOUT,default=5s"`

	// Empty TokenSecretKeyHex generates an ephemeral key at startup.
	TokenSecretKeyHex string        `env:"HUDDLE_TOKEN_SECRET_KEY_HEX"`
	TokenIssuer       string        `env:"HUDDLE_TOKEN_ISSUER,default=huddle"`
	TokenTTL          time.Duration `env:"HUDDLE_TOKEN_TTL,default=24h"`
	TokenClockSkew    time.Duration `env:"HUDDLE_TOKEN_CLOCK_SKEW,default=30s"`

	AuthMaxBodyBytes int `env:"HUDDLE_AUTH_MAX_BODY_BYTES,default=1048576"`
	UsernameMinLen   int `env:"HUDDLE_USERNAME_MIN_LEN,default=3"`
	UsernameMaxLen   int `env:"HUDDLE_USERNAME_MAX_LEN,default=32"`

	PasswordMinLen    int `env:"HUDDLE_PASSWORD_MIN_LEN,default=6"`
	PasswordMaxLen    int `env:"HUDDLE_PASSWORD_MAX_LEN,default=256"`
	Argon2MemoryKiB   int `env:"HUDDLE_ARGON2_MEMORY_KIB,default=65536"`
	Argon2Iterations  int `env:"HUDDLE_ARGON2_ITERATIONS,default=3"`
	Argon2Parallelism int `env:"HUDDLE_ARGON2_PARALLELISM,default=0"`

	MetricsEnabled bool `env:"HUDDLE_METRICS_ENABLED,default=true"`
}

// LoadConfig loads Config from the process environment.
func LoadConfig() (Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return loadConfigFrom(es)
}

func loadConfigFrom(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot produce a working server.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("HUDDLE_HTTP_ADDR is empty"))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "text", "pretty":
	default:
		errs = append(errs, fmt.Errorf("HUDDLE_LOG_FORMAT %q: want json, text or pretty", c.LogFormat))
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("db pool: min=%d max=%d", c.DBMinConns, c.DBMaxConns))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("HUDDLE_TOKEN_TTL must be positive"))
	}
	if c.Argon2Parallelism < 0 || c.Argon2Parallelism > 255 {
		errs = append(errs, errors.New("HUDDLE_ARGON2_PARALLELISM out of range [0..255]"))
	}
	if c.Argon2MemoryKiB < 0 || c.Argon2Iterations < 0 {
		errs = append(errs, errors.New("argon2 cost must not be negative"))
	}
	if err := c.PasswordConfig().Check(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Origins returns the parsed allowlist, falling back to DefaultAllowedOrigins.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultAllowedOrigins...)
	}
	return out
}

func (c Config) GatewayConfig() realtime.GatewayConfig {
	return realtime.GatewayConfig{
		DevInsecure:       c.WSDevInsecure,
		OriginRequired:    c.WSOriginRequired,
		AllowedOrigins:    c.Origins(),
		RequireAuth:       c.WSRequireAuth,
		SendQueueSize:     c.WSSendQueueSize,
		WriteTimeout:      c.WSWriteTimeout,
		HeartbeatInterval: c.WSHeartbeatInterval,
		HeartbeatTimeout:  c.WSHeartbeatTimeout,
	}
}

// SessionConfig builds the token policy. ephemeral reports a generated key.
func (c Config) SessionConfig() (cfg session.Config, ephemeral bool) {
	cfg = session.Config{
		Issuer:               c.TokenIssuer,
		TokenTTL:             c.TokenTTL,
		ClockSkew:            c.TokenClockSkew,
		PasetoV4SecretKeyHex: strings.TrimSpace(c.TokenSecretKeyHex),
	}
	if cfg.PasetoV4SecretKeyHex == "" {
		cfg.PasetoV4SecretKeyHex = session.GenerateSecretKeyHex()
		ephemeral = true
	}
	return cfg, ephemeral
}

func (c Config) PasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Policy.MinLength = c.PasswordMinLen
	cfg.Policy.MaxLength = c.PasswordMaxLen
	if c.Argon2MemoryKiB > 0 {
		cfg.Params.MemoryKiB = uint32(c.Argon2MemoryKiB) // #nosec G115 -- Check bounds it.
	}
	if c.Argon2Iterations > 0 {
		cfg.Params.Iterations = uint32(c.Argon2Iterations) // #nosec G115 -- Check bounds it.
	}
	if c.Argon2Parallelism > 0 && c.Argon2Parallelism <= 255 {
		cfg.Params.Parallelism = uint8(c.Argon2Parallelism)
	} else if c.Argon2Parallelism == 0 {
		cfg.Params.Parallelism = uint8(min(max(runtime.NumCPU(), 1), 4)) // #nosec G115 -- clamped.
	}
	return cfg
}

func (c Config) AuthConfig() authapi.Config {
	return authapi.Config{
		MaxBodyBytes:   int64(c.AuthMaxBodyBytes),
		UsernameMinLen: c.UsernameMinLen,
		UsernameMaxLen: c.UsernameMaxLen,
	}
}

func (c Config) identityOptions() []identity.PostgresOption {
	if s := strings.TrimSpace(c.DBSchema); s != "" {
		return []identity.PostgresOption{identity.WithSchema(s)}
	}
	return nil
}
