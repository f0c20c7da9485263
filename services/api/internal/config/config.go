package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the YAML file read when neither a path nor CONFIG_PATH is given.
const ConfigPath = "config.yaml"

const (
	defaultPort            = "5000"
	defaultLogLevel        = "info"
	defaultFrontendOrigin  = "http://localhost:5173"
	defaultGeminiModel     = "gemini-pro"
	defaultLoginPerMinute  = 10
	defaultSignupPerMinute = 5
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string   `yaml:"port"`
	LogLevel                 string   `yaml:"logLevel"`
	DatabaseURL              string   `yaml:"databaseURL"`
	JWTSecretKey             string   `yaml:"jwtSecretKey"`
	SessionTTL               string   `yaml:"sessionTTL"`
	JWTIssuer                string   `yaml:"jwtIssuer"`
	JWTAudience              string   `yaml:"jwtAudience"`
	JWTLeeway                string   `yaml:"jwtLeeway"`
	FrontendOrigins          []string `yaml:"frontendOrigins"`
	TrustedProxyCIDRs        []string `yaml:"trustedProxyCIDRs"`
	GeminiAPIKey             string   `yaml:"geminiAPIKey"`
	GeminiModel              string   `yaml:"geminiModel"`
	GeminiBaseURL            string   `yaml:"geminiBaseURL"`
	IntaSendPublicKey        string   `yaml:"intasendPublicKey"`
	IntaSendSecretKey        string   `yaml:"intasendSecretKey"`
	IntaSendBaseURL          string   `yaml:"intasendBaseURL"`
	IntaSendWebhookChallenge string   `yaml:"intasendWebhookChallenge"`
	PaymentCurrency          string   `yaml:"paymentCurrency"`
	RedisAddr                string   `yaml:"redisAddr"`
	RedisPassword            string   `yaml:"redisPassword"`
	AMQPURL                  string   `yaml:"amqpURL"`
	AMQPExchange             string   `yaml:"amqpExchange"`
	MinioEndpoint            string   `yaml:"minioEndpoint"`
	MinioAccessKey           string   `yaml:"minioAccessKey"`
	MinioSecretKey           string   `yaml:"minioSecretKey"`
	MinioBucket              string   `yaml:"minioBucket"`
	MinioUseSSL              bool     `yaml:"minioUseSSL"`
	MinioPublicBaseURL       string   `yaml:"minioPublicBaseURL"`
	AvatarMaxBytes           int      `yaml:"avatarMaxBytes"`
	SignupRateLimitPerMinute int      `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  int      `yaml:"loginRateLimitPerMinute"`
}

// Path returns CONFIG_PATH, or ConfigPath when unset.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("CONFIG_PATH")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads .env (if present), then the YAML file at path (if present), then
// environment overrides, and validates the result.
func Load(path string) (FileConfig, error) {
	// Rate limits start at their defaults so an explicit 0 from YAML or the
	// environment disables the limit.
	cfg := FileConfig{
		SignupRateLimitPerMinute: defaultSignupPerMinute,
		LoginRateLimitPerMinute:  defaultLoginPerMinute,
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("read .env: %w", err)
	}
	if path == "" {
		path = Path()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	// Override with environment variables
	strs := []struct {
		name string
		dst  *string
	}{
		{"PORT", &cfg.Port},
		{"LOG_LEVEL", &cfg.LogLevel},
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"JWT_SECRET_KEY", &cfg.JWTSecretKey},
		{"SESSION_TTL", &cfg.SessionTTL},
		{"JWT_ISSUER", &cfg.JWTIssuer},
		{"JWT_AUDIENCE", &cfg.JWTAudience},
		{"JWT_LEEWAY", &cfg.JWTLeeway},
		{"GEMINI_API_KEY", &cfg.GeminiAPIKey},
		{"GEMINI_MODEL", &cfg.GeminiModel},
		{"GEMINI_BASE_URL", &cfg.GeminiBaseURL},
		{"INTASEND_PUBLIC_KEY", &cfg.IntaSendPublicKey},
		{"INTASEND_SECRET_KEY", &cfg.IntaSendSecretKey},
		{"INTASEND_BASE_URL", &cfg.IntaSendBaseURL},
		{"INTASEND_WEBHOOK_CHALLENGE", &cfg.IntaSendWebhookChallenge},
		{"PAYMENT_CURRENCY", &cfg.PaymentCurrency},
		{"REDIS_ADDR", &cfg.RedisAddr},
		{"REDIS_PASSWORD", &cfg.RedisPassword},
		{"AMQP_URL", &cfg.AMQPURL},
		{"AMQP_EXCHANGE", &cfg.AMQPExchange},
		{"MINIO_ENDPOINT", &cfg.MinioEndpoint},
		{"MINIO_ACCESS_KEY", &cfg.MinioAccessKey},
		{"MINIO_SECRET_KEY", &cfg.MinioSecretKey},
		{"MINIO_BUCKET", &cfg.MinioBucket},
		{"MINIO_PUBLIC_BASE_URL", &cfg.MinioPublicBaseURL},
	}
	for _, s := range strs {
		if v := os.Getenv(s.name); v != "" {
			*s.dst = v
		}
	}
	// The web client shares its .env with the API, so its variable counts too.
	if v := os.Getenv("VITE_FRONTEND_ORIGIN"); v != "" {
		cfg.FrontendOrigins = splitList(v)
	}
	if v := os.Getenv("FRONTEND_ORIGIN"); v != "" {
		cfg.FrontendOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitList(v)
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("AVATAR_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AvatarMaxBytes = n
		}
	}
	if v := os.Getenv("SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	// The local dev client stays allowed next to the configured origins.
	if !slices.Contains(cfg.FrontendOrigins, defaultFrontendOrigin) {
		cfg.FrontendOrigins = append(cfg.FrontendOrigins, defaultFrontendOrigin)
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = defaultGeminiModel
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.JWTSecretKey) == "" {
		return errors.New("config: jwtSecretKey is required (set JWT_SECRET_KEY)")
	}
	if cfg.IntaSendPublicKey == "" || cfg.IntaSendSecretKey == "" {
		return errors.New("config: intasendPublicKey and intasendSecretKey are required (set INTASEND_PUBLIC_KEY, INTASEND_SECRET_KEY)")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioBucket == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioEndpoint requires minioBucket, minioAccessKey and minioSecretKey")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.AvatarMaxBytes < 0 {
		return errors.New("config: avatarMaxBytes must be >= 0")
	}
	return nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("invalid sessionTTL duration: %s must be positive", ttlStr)
	}
	return dur, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
