package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "APP_ENV", "NODE_ENV", "CHATBOT_STORE", "MONGO_URI", "DATABASE_URL",
		"JWT_SECRET", "JWT_PRIVATE_KEY_PATH", "JWT_PUBLIC_KEY_PATH", "JWT_EXPIRES_IN",
		"GENERATION_PROVIDER", "GEMINI_API_KEY", "GENERATION_MODEL", "GENERATION_BASE_URL",
		"EMAIL_USER", "EMAIL_PASS", "EMAIL_FROM", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
		"ALLOWED_ORIGINS", "AUTH_RATE_LIMIT_PER_MINUTE", "MINIO_ENDPOINT", "COOKIE_SECURE",
		"JWT_LEEWAY", "GENERATION_TIMEOUT", "OTP_TTL",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
port: "8080"
storeDriver: "memory"
jwtSecret: "0123456789abcdef0123456789abcdef"
geminiAPIKey: "test-key"
`

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GenerationProvider != ProviderGemini || cfg.GenerationModel != "gemini-1.5-flash" {
		t.Fatalf("unexpected generation defaults: %q %q", cfg.GenerationProvider, cfg.GenerationModel)
	}
	if cfg.ImageModel != "gemini-2.5-flash-image" {
		t.Fatalf("imageModel = %q", cfg.ImageModel)
	}
	if cfg.SMTPFrom != "Nova AI <noreply@novaai.com>" || cfg.SMTPPort != 465 {
		t.Fatalf("unexpected smtp defaults: %q %d", cfg.SMTPFrom, cfg.SMTPPort)
	}
	ttl, err := ParseDuration(cfg.SessionTTL)
	if err != nil || ttl != 7*24*time.Hour {
		t.Fatalf("session ttl = %v, %v", ttl, err)
	}
	if cfg.IsDevelopment() {
		t.Fatalf("expected production by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("NODE_ENV", "development")
	t.Setenv("JWT_EXPIRES_IN", "2d")
	t.Setenv("EMAIL_USER", "bot@example.com")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:5173, https://nova.example.com ,")
	t.Setenv("AUTH_RATE_LIMIT_PER_MINUTE", "3")
	t.Setenv("COOKIE_SECURE", "true")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development environment")
	}
	if cfg.SessionTTL != "2d" || cfg.SMTPUsername != "bot@example.com" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://nova.example.com" {
		t.Fatalf("allowedOrigins = %#v", cfg.AllowedOrigins)
	}
	if cfg.AuthRateLimitPerMinute != 3 || !cfg.CookieSecure {
		t.Fatalf("unexpected overrides: rate=%d secure=%v", cfg.AuthRateLimitPerMinute, cfg.CookieSecure)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"mongo without uri", `
jwtSecret: "0123456789abcdef0123456789abcdef"
geminiAPIKey: "k"
`, "mongoURI"},
		{"no signing key", `
storeDriver: memory
geminiAPIKey: "k"
`, "jwtSecret"},
		{"gemini without key", `
storeDriver: memory
jwtSecret: "0123456789abcdef0123456789abcdef"
`, "geminiAPIKey"},
		{"unknown store", `
storeDriver: sqlite
jwtSecret: "0123456789abcdef0123456789abcdef"
geminiAPIKey: "k"
`, "storeDriver"},
		{"bad ttl", minimalConfig + `sessionTTL: "soon"` + "\n", "sessionTTL"},
		{"bad samesite", minimalConfig + `cookieSameSite: "sometimes"` + "\n", "cookieSameSite"},
		{"minio without credentials", minimalConfig + `minioEndpoint: "localhost:9000"` + "\n", "minioAccessKey"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"":    0,
		"7d":  7 * 24 * time.Hour,
		"10m": 10 * time.Minute,
		"90s": 90 * time.Second,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Fatalf("ParseDuration(%q) = %v, %v", in, got, err)
		}
	}
	for _, bad := range []string{"xd", "-1h", "abc"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDurations(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, minimalConfig+"jwtLeeway: \"30s\"\nimageURLExpiry: \"2d\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, err := cfg.Durations()
	if err != nil {
		t.Fatalf("durations: %v", err)
	}
	if d.SessionTTL != 7*24*time.Hour || d.JWTLeeway != 30*time.Second || d.GenerationTimeout != time.Minute {
		t.Fatalf("unexpected durations: %+v", d)
	}
	if d.OTPTTL != 10*time.Minute || d.ImageURLExpiry != 48*time.Hour {
		t.Fatalf("unexpected durations: %+v", d)
	}

	cfg.OTPTTL = "soon"
	if _, err := cfg.Durations(); err == nil || !strings.Contains(err.Error(), "otpTTL") {
		t.Fatalf("expected otpTTL error, got %v", err)
	}
}

func TestParseVerifyPublicKeys(t *testing.T) {
	keys, err := ParseVerifyPublicKeys(" old=/keys/old.pem , new=/keys/new.pem,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(keys) != 2 || keys["old"] != "/keys/old.pem" {
		t.Fatalf("unexpected keys %#v", keys)
	}
	if _, err := ParseVerifyPublicKeys("broken"); err == nil {
		t.Fatalf("expected error for entry without '='")
	}
	if keys, err := ParseVerifyPublicKeys(""); err != nil || keys != nil {
		t.Fatalf("empty input should yield nil, got %#v %v", keys, err)
	}
}

func TestResolvePathAndDotEnv(t *testing.T) {
	t.Setenv("CHATBOT_CONFIG", "")
	if ResolvePath() != ConfigPath {
		t.Fatalf("expected default config path")
	}
	t.Setenv("CHATBOT_CONFIG", "/etc/chatbot.yaml")
	if ResolvePath() != "/etc/chatbot.yaml" {
		t.Fatalf("expected override path")
	}

	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte("CHATBOT_DOTENV_PROBE=from-file\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CHATBOT_ENV_FILE", envFile)
	t.Setenv("CHATBOT_DOTENV_PROBE", "")
	os.Unsetenv("CHATBOT_DOTENV_PROBE")
	if err := LoadDotEnv(); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("CHATBOT_DOTENV_PROBE"); got != "from-file" {
		t.Fatalf("probe = %q", got)
	}

	t.Setenv("CHATBOT_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	if err := LoadDotEnv(); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
