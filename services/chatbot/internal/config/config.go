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

// ConfigPath is the default config file, overridable with CHATBOT_CONFIG.
const ConfigPath = "config.yaml"

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	ProviderGemini       = "gemini"
	ProviderOpenAICompat = "openai"
	ProviderOllama       = "ollama"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`

	StoreDriver   string `yaml:"storeDriver"`
	MongoURI      string `yaml:"mongoURI"`
	MongoDatabase string `yaml:"mongoDatabase"`
	DatabaseURL   string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	JWTSecret           string `yaml:"jwtSecret"`
	JWTPrivateKeyPath   string `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath    string `yaml:"jwtPublicKeyPath"`
	JWTKeyID            string `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	JWTLeeway           string `yaml:"jwtLeeway"`
	SessionTTL          string `yaml:"sessionTTL"`
	CookieSecure        bool   `yaml:"cookieSecure"`
	CookieDomain        string `yaml:"cookieDomain"`
	CookieSameSite      string `yaml:"cookieSameSite"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	GenerationProvider      string  `yaml:"generationProvider"`
	GeminiAPIKey            string  `yaml:"geminiAPIKey"`
	GenerationModel         string  `yaml:"generationModel"`
	ImageModel              string  `yaml:"imageModel"`
	GenerationBaseURL       string  `yaml:"generationBaseURL"`
	GenerationAPIKey        string  `yaml:"generationAPIKey"`
	GenerationTimeout       string  `yaml:"generationTimeout"`
	GenerationRatePerSecond float64 `yaml:"generationRatePerSecond"`
	GenerationBurst         int     `yaml:"generationBurst"`
	SystemPrompt            string  `yaml:"systemPrompt"`

	SMTPHost     string `yaml:"smtpHost"`
	SMTPPort     int    `yaml:"smtpPort"`
	SMTPUsername string `yaml:"smtpUsername"`
	SMTPPassword string `yaml:"smtpPassword"`
	SMTPFrom     string `yaml:"smtpFrom"`
	OTPTTL       string `yaml:"otpTTL"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL"`
	ImageURLExpiry     string `yaml:"imageURLExpiry"`

	AuthRateLimitPerMinute int `yaml:"authRateLimitPerMinute"`
}

// ResolvePath returns CHATBOT_CONFIG when set, otherwise ConfigPath.
func ResolvePath() string {
	if v := strings.TrimSpace(os.Getenv("CHATBOT_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// LoadDotEnv reads .env (or CHATBOT_ENV_FILE) into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("CHATBOT_ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	envString(&cfg.Port, "PORT")
	envString(&cfg.Environment, "APP_ENV", "NODE_ENV")
	envString(&cfg.LogLevel, "LOG_LEVEL")
	envString(&cfg.LogFormat, "LOG_FORMAT")

	envString(&cfg.StoreDriver, "CHATBOT_STORE")
	envString(&cfg.MongoURI, "MONGO_URI")
	envString(&cfg.MongoDatabase, "MONGO_DATABASE")
	envString(&cfg.DatabaseURL, "DATABASE_URL")

	envString(&cfg.RedisAddr, "REDIS_ADDR")
	envString(&cfg.RedisPassword, "REDIS_PASSWORD")
	envInt(&cfg.RedisDB, "REDIS_DB")

	envString(&cfg.JWTSecret, "JWT_SECRET")
	envString(&cfg.JWTPrivateKeyPath, "JWT_PRIVATE_KEY_PATH")
	envString(&cfg.JWTPublicKeyPath, "JWT_PUBLIC_KEY_PATH")
	envString(&cfg.JWTKeyID, "JWT_KEY_ID")
	envString(&cfg.JWTVerifyPublicKeys, "JWT_VERIFY_PUBLIC_KEYS")
	envString(&cfg.JWTIssuer, "JWT_ISSUER")
	envString(&cfg.JWTAudience, "JWT_AUDIENCE")
	envString(&cfg.JWTLeeway, "JWT_LEEWAY")
	envString(&cfg.SessionTTL, "JWT_EXPIRES_IN")
	envBool(&cfg.CookieSecure, "COOKIE_SECURE")
	envString(&cfg.CookieDomain, "COOKIE_DOMAIN")
	envString(&cfg.CookieSameSite, "COOKIE_SAMESITE")

	envList(&cfg.AllowedOrigins, "ALLOWED_ORIGINS")
	envList(&cfg.TrustedProxies, "TRUSTED_PROXIES")

	envString(&cfg.GenerationProvider, "GENERATION_PROVIDER")
	envString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envString(&cfg.GenerationModel, "GENERATION_MODEL")
	envString(&cfg.ImageModel, "IMAGE_MODEL")
	envString(&cfg.GenerationBaseURL, "GENERATION_BASE_URL")
	envString(&cfg.GenerationAPIKey, "GENERATION_API_KEY")
	envString(&cfg.GenerationTimeout, "GENERATION_TIMEOUT")
	if v := strings.TrimSpace(os.Getenv("GENERATION_RATE_PER_SECOND")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GenerationRatePerSecond = f
		}
	}
	envInt(&cfg.GenerationBurst, "GENERATION_BURST")

	envString(&cfg.SMTPHost, "SMTP_HOST")
	envInt(&cfg.SMTPPort, "SMTP_PORT")
	envString(&cfg.SMTPUsername, "EMAIL_USER", "SMTP_USERNAME")
	envString(&cfg.SMTPPassword, "EMAIL_PASS", "SMTP_PASSWORD")
	envString(&cfg.SMTPFrom, "EMAIL_FROM", "SMTP_FROM")
	envString(&cfg.OTPTTL, "OTP_TTL")

	envString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	envString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	envString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	envString(&cfg.MinioBucket, "MINIO_BUCKET")
	envBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	envString(&cfg.MinioPublicBaseURL, "MINIO_PUBLIC_BASE_URL")

	envInt(&cfg.AuthRateLimitPerMinute, "AUTH_RATE_LIMIT_PER_MINUTE")
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "5000"
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreMongo
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "chatbot"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "7d"
	}
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = ProviderGemini
	}
	if cfg.GenerationModel == "" && cfg.GenerationProvider == ProviderGemini {
		cfg.GenerationModel = "gemini-1.5-flash"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "gemini-2.5-flash-image"
	}
	if cfg.GenerationTimeout == "" {
		cfg.GenerationTimeout = "60s"
	}
	if cfg.SMTPHost == "" {
		cfg.SMTPHost = "smtp.gmail.com"
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 465
	}
	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = "Nova AI <noreply@novaai.com>"
	}
	if cfg.OTPTTL == "" {
		cfg.OTPTTL = "10m"
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "chatbot-images"
	}
	if cfg.AuthRateLimitPerMinute == 0 {
		cfg.AuthRateLimitPerMinute = 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StoreDriver {
	case StoreMongo:
		if strings.TrimSpace(cfg.MongoURI) == "" {
			return errors.New("config: mongoURI is required for the mongo store (set MONGO_URI)")
		}
	case StorePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres store (set DATABASE_URL)")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	if cfg.JWTPrivateKeyPath == "" && cfg.JWTPublicKeyPath != "" {
		return errors.New("config: jwtPublicKeyPath requires jwtPrivateKeyPath")
	}
	if cfg.JWTPrivateKeyPath == "" && strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret or jwtPrivateKeyPath is required (set JWT_SECRET)")
	}
	switch cfg.GenerationProvider {
	case ProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return errors.New("config: geminiAPIKey is required for the gemini provider (set GEMINI_API_KEY)")
		}
	case ProviderOpenAICompat:
		if cfg.GenerationBaseURL == "" || cfg.GenerationModel == "" {
			return errors.New("config: generationBaseURL and generationModel are required for the openai provider")
		}
	case ProviderOllama:
		if cfg.GenerationModel == "" {
			return errors.New("config: generationModel is required for the ollama provider")
		}
	default:
		return fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider)
	}
	if cfg.GenerationRatePerSecond < 0 || cfg.GenerationBurst < 0 {
		return errors.New("config: generation rate and burst must be >= 0")
	}
	if cfg.AuthRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		return errors.New("config: smtpPort out of range")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioAccessKey and minioSecretKey are required with minioEndpoint")
	}
	switch strings.ToLower(cfg.CookieSameSite) {
	case "", "lax", "strict", "none":
	default:
		return fmt.Errorf("config: cookieSameSite must be lax, strict or none, got %q", cfg.CookieSameSite)
	}
	if _, err := cfg.Durations(); err != nil {
		return err
	}
	return nil
}

// Durations holds the parsed duration settings.
type Durations struct {
	SessionTTL        time.Duration
	JWTLeeway         time.Duration
	GenerationTimeout time.Duration
	OTPTTL            time.Duration
	ImageURLExpiry    time.Duration
}

// Durations parses every duration field, naming the first invalid one.
func (c FileConfig) Durations() (Durations, error) {
	var d Durations
	for _, f := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"sessionTTL", c.SessionTTL, &d.SessionTTL},
		{"jwtLeeway", c.JWTLeeway, &d.JWTLeeway},
		{"generationTimeout", c.GenerationTimeout, &d.GenerationTimeout},
		{"otpTTL", c.OTPTTL, &d.OTPTTL},
		{"imageURLExpiry", c.ImageURLExpiry, &d.ImageURLExpiry},
	} {
		v, err := ParseDuration(f.value)
		if err != nil {
			return Durations{}, fmt.Errorf("config: invalid %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return d, nil
}

// IsDevelopment reports whether error details may be returned to clients.
func (c FileConfig) IsDevelopment() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "development" || env == "dev"
}

// ParseDuration accepts time.ParseDuration syntax plus a whole-day form
// such as "7d". An empty string is zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day duration %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, path, ok := strings.Cut(pair, "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func envString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
			return
		}
	}
}

func envInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envList(dst *[]string, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
