package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gatehouse/internal/apikey/scope"
	ratelimitconfig "gatehouse/internal/ratelimit/config"
	pstrings "gatehouse/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	AdminToken  string
	// DisableAbuseControl turns off the limiters for local demos.
	DisableAbuseControl bool
	// TrustedProxies are the peers whose forwarding headers name the client.
	// Empty means the socket address is always the client.
	TrustedProxies []netip.Prefix

	JWT       JWTConfig
	Tokens    TokenExpiryConfig
	APIKeys   APIKeyConfig
	RateLimit *ratelimitconfig.Config
	Redis     RedisConfig
	Database  DatabaseConfig
}

type JWTConfig struct {
	Secret string
	Issuer string
}

// TokenExpiryConfig holds the lifetime of each token subject.
type TokenExpiryConfig struct {
	EmailVerification time.Duration
	PasswordReset     time.Duration
	Login             time.Duration
	ApproveLocation   time.Duration
	Refresh           time.Duration
	APIKeyMax         time.Duration
}

// APIKeyConfig tunes the key resolver.
type APIKeyConfig struct {
	CacheTTL      time.Duration
	CacheMaxItems int64
	LookupTimeout time.Duration
}

// RedisConfig enables the shared counter store when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig enables the Postgres key store when URL is set.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

const devJWTSecret = "dev-secret-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
// Window and delay settings are integer milliseconds; token lifetimes accept
// Go durations plus a "d" day suffix.
func FromEnv() (Server, error) {
	var errs []string
	fail := func(name string, err error) {
		errs = append(errs, fmt.Sprintf("%s: %v", name, err))
	}

	rl := ratelimitconfig.DefaultConfig()
	rl.BruteForce.FreeRetries = envInt("BRUTE_FREE_RETRIES", rl.BruteForce.FreeRetries, fail)
	rl.BruteForce.Lifetime = envMillis("BRUTE_LIFETIME", rl.BruteForce.Lifetime, fail)
	rl.BruteForce.ResetOnSuccess = envBool("BRUTE_RESET_ON_SUCCESS", false)
	rl.APIKeyTier.Window = envMillis("RATE_LIMIT_TIME", rl.APIKeyTier.Window, fail)
	rl.APIKeyTier.RequestsPerWindow = envInt("RATE_LIMIT_MAX", rl.APIKeyTier.RequestsPerWindow, fail)
	rl.PublicTier.Window = envMillis("PUBLIC_RATE_LIMIT_TIME", rl.PublicTier.Window, fail)
	rl.PublicTier.RequestsPerWindow = envInt("PUBLIC_RATE_LIMIT_MAX", rl.PublicTier.RequestsPerWindow, fail)
	rl.SpeedLimit.Window = envMillis("SPEED_LIMIT_TIME", rl.SpeedLimit.Window, fail)
	rl.SpeedLimit.Delay = envMillis("SPEED_LIMIT_DELAY", rl.SpeedLimit.Delay, fail)
	rl.SpeedLimit.DelayAfter = envInt("SPEED_LIMIT_COUNT", rl.SpeedLimit.DelayAfter, fail)
	rl.SpeedLimit.MaxDelay = envMillis("SPEED_LIMIT_MAX_DELAY", rl.SpeedLimit.MaxDelay, fail)
	rl.GlobalThrottle.RequestsPerSecond = float64(envInt("GLOBAL_THROTTLE_RPS", int(rl.GlobalThrottle.RequestsPerSecond), fail))
	rl.GlobalThrottle.Burst = envInt("GLOBAL_THROTTLE_BURST", rl.GlobalThrottle.Burst, fail)

	cfg := Server{
		Addr:                ":" + envString("PORT", "7007"),
		Environment:         envString("ENVIRONMENT", "development"),
		AdminToken:          os.Getenv("ADMIN_TOKEN"),
		DisableAbuseControl: envBool("DISABLE_ABUSE_CONTROL", false),
		TrustedProxies:      envPrefixes("TRUSTED_PROXIES", fail),
		JWT: JWTConfig{
			Secret: envString("JWT_SECRET", devJWTSecret),
			Issuer: envString("JWT_ISSUER", "gatehouse"),
		},
		Tokens: TokenExpiryConfig{
			EmailVerification: envSpan("TOKEN_EXPIRY_EMAIL_VERIFICATION", 7*24*time.Hour, fail),
			PasswordReset:     envSpan("TOKEN_EXPIRY_PASSWORD_RESET", 24*time.Hour, fail),
			Login:             envSpan("TOKEN_EXPIRY_LOGIN", 24*time.Hour, fail),
			ApproveLocation:   envSpan("TOKEN_EXPIRY_APPROVE_LOCATION", 10*time.Minute, fail),
			Refresh:           envSpan("TOKEN_EXPIRY_REFRESH", 30*24*time.Hour, fail),
			APIKeyMax:         envSpan("TOKEN_EXPIRY_API_KEY_MAX", 365*24*time.Hour, fail),
		},
		APIKeys: APIKeyConfig{
			CacheTTL:      time.Duration(envInt("CACHE_TTL", 600, fail)) * time.Second,
			CacheMaxItems: int64(envInt("API_KEY_CACHE_MAX_ITEMS", 10000, fail)),
			LookupTimeout: envMillis("API_KEY_LOOKUP_TIMEOUT", 2*time.Second, fail),
		},
		RateLimit: rl,
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10, fail),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2, fail),
			DialTimeout:  envMillis("REDIS_DIAL_TIMEOUT", 5*time.Second, fail),
			ReadTimeout:  envMillis("REDIS_READ_TIMEOUT", 3*time.Second, fail),
			WriteTimeout: envMillis("REDIS_WRITE_TIMEOUT", 3*time.Second, fail),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 10, fail),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5, fail),
			ConnMaxLifetime: envMillis("DB_CONN_MAX_LIFETIME", 30*time.Minute, fail),
		},
	}

	if cfg.Environment == "production" && cfg.JWT.Secret == devJWTSecret {
		errs = append(errs, "JWT_SECRET: must be set in production")
	}
	if len(errs) > 0 {
		return Server{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func envInt(name string, def int, fail func(string, error)) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		fail(name, fmt.Errorf("expected a non-negative integer, got %q", v))
		return def
	}
	return n
}

func envMillis(name string, def time.Duration, fail func(string, error)) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		fail(name, fmt.Errorf("expected milliseconds, got %q", v))
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// envPrefixes reads a comma-separated list of CIDR ranges or bare addresses.
func envPrefixes(name string, fail func(string, error)) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, entry := range pstrings.SplitList(os.Getenv(name)) {
		p, ok := scope.ParseRange(entry)
		if !ok {
			fail(name, fmt.Errorf("invalid address range %q", entry))
			continue
		}
		prefixes = append(prefixes, p)
	}
	return prefixes
}

func envSpan(name string, def time.Duration, fail func(string, error)) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := ParseSpan(v)
	if err != nil {
		fail(name, err)
		return def
	}
	return d
}

// ParseSpan parses a Go duration, also accepting a whole-day "d" suffix ("7d").
func ParseSpan(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day span %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
