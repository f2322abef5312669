package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"novachat/internal/metrics"
	"novachat/pkg/ai"
	"novachat/pkg/auth"
	"novachat/pkg/store"
)

// SessionManager issues and checks bearer tokens.
// *store.JWTSessionStore is the production implementation.
type SessionManager interface {
	NewSession(ctx context.Context, accountID string) (string, store.SessionClaims, error)
	Verify(ctx context.Context, token string) (store.SessionClaims, error)
	DeleteSession(ctx context.Context, claims store.SessionClaims) error
	RevokeAccountSessions(ctx context.Context, accountID string, since time.Time) error
}

// OTPMail is what the mailer needs to deliver a password reset code.
type OTPMail struct {
	To        string
	Username  string
	OTP       string
	ExpiresIn time.Duration
}

// Mailer delivers password reset codes.
type Mailer interface {
	SendOTP(ctx context.Context, mail OTPMail) error
}

// ImageArchiver uploads generated images and returns a durable URL.
type ImageArchiver interface {
	Save(ctx context.Context, accountID string, img ai.Image) (string, error)
}

const (
	defaultOTPTTL            = 10 * time.Minute
	defaultGenerationTimeout = 60 * time.Second
	defaultSystemPrompt      = "You are Chatboat, a friendly AI assistant built by the Nova AI team. " +
		"Answer clearly and concisely. Use light, friendly formatting."
)

// Config holds runtime dependencies for the core application.
type Config struct {
	Store    store.Store
	Sessions SessionManager
	Mailer   Mailer

	Text   ai.TextGenerator
	Image  ai.ImageGenerator
	Images ImageArchiver

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	SystemPrompt      string
	GenerationTimeout time.Duration
	OTPTTL            time.Duration
	// PasswordCost overrides the bcrypt cost; zero means auth.PasswordCost.
	PasswordCost int
	Now          func() time.Time
}

// App is the core application service wiring together storage, sessions,
// mail and the generation providers.
type App struct {
	store    store.Store
	sessions SessionManager
	mailer   Mailer

	text   ai.TextGenerator
	image  ai.ImageGenerator
	images ImageArchiver

	metrics *metrics.Metrics
	logger  *slog.Logger

	systemPrompt      string
	generationTimeout time.Duration
	otpTTL            time.Duration
	passwordCost      int
	dummyHash         string
	now               func() time.Time
}

// New validates cfg and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("app: session manager is required")
	}
	if cfg.Mailer == nil {
		return nil, errors.New("app: mailer is required")
	}
	if cfg.Text == nil {
		return nil, errors.New("app: text generator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = defaultOTPTTL
	}
	if cfg.PasswordCost == 0 {
		cfg.PasswordCost = auth.PasswordCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	// Compared against when the e-mail is unknown, so both login failures cost one bcrypt run.
	dummy, err := auth.HashSecret("chatbot-login-timing-equalizer", cfg.PasswordCost)
	if err != nil {
		return nil, err
	}
	return &App{
		store:             cfg.Store,
		sessions:          cfg.Sessions,
		mailer:            cfg.Mailer,
		text:              cfg.Text,
		image:             cfg.Image,
		images:            cfg.Images,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		systemPrompt:      cfg.SystemPrompt,
		generationTimeout: cfg.GenerationTimeout,
		otpTTL:            cfg.OTPTTL,
		passwordCost:      cfg.PasswordCost,
		dummyHash:         dummy,
		now:               cfg.Now,
	}, nil
}

// Ready reports whether the backing store is reachable.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.store.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (a *App) clock() time.Time {
	return a.now().UTC()
}
