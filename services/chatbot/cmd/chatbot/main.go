package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"novachat/internal/metrics"
	"novachat/internal/ratelimit"
	"novachat/internal/util"
	"novachat/pkg/ai"
	"novachat/pkg/storage"
	"novachat/pkg/store"
	"novachat/services/chatbot/internal/app"
	"novachat/services/chatbot/internal/config"
	"novachat/services/chatbot/internal/mailer"
	"novachat/services/chatbot/internal/security"
	"novachat/services/chatbot/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		util.Fatal(logger, "chatbot exited", "err", err)
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	durations, err := cfg.Durations()
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		redisClient = client
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("close store", "err", err)
		}
	}()

	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if redisClient != nil {
		revoker = store.NewRedisTokenRevoker(redisClient, "chatbot:revoked")
	}
	sessions, err := newSessionStore(cfg, durations.SessionTTL, durations.JWTLeeway, revoker)
	if err != nil {
		return err
	}

	text, image, err := newGenerators(cfg)
	if err != nil {
		return err
	}

	var mail app.Mailer
	if cfg.SMTPUsername != "" && cfg.SMTPPassword != "" {
		mail, err = mailer.NewSMTPMailer(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger)
		if err != nil {
			return fmt.Errorf("init mailer: %w", err)
		}
	} else {
		logger.Warn("smtp credentials missing, otp codes will only be logged")
		mail = mailer.LogMailer{Logger: logger}
	}

	m := metrics.New()
	appCfg := app.Config{
		Store:             st,
		Sessions:          sessions,
		Mailer:            mail,
		Text:              text,
		Image:             image,
		Metrics:           m,
		Logger:            logger,
		SystemPrompt:      cfg.SystemPrompt,
		GenerationTimeout: durations.GenerationTimeout,
		OTPTTL:            durations.OTPTTL,
	}
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return fmt.Errorf("init object storage: %w", err)
		}
		appCfg.Images = storage.NewImageArchive(objects, "generated", cfg.MinioPublicBaseURL, durations.ImageURLExpiry)
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	srvCfg := server.Config{
		App:            appCore,
		Metrics:        m,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
		CookieSecure:   cfg.CookieSecure,
		CookieDomain:   cfg.CookieDomain,
		CookieSameSite: cfg.CookieSameSite,
		Development:    cfg.IsDevelopment(),
	}
	if redisClient != nil {
		if cfg.AuthRateLimitPerMinute > 0 {
			srvCfg.AuthLimiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "chatbot:ratelimit:auth", cfg.AuthRateLimitPerMinute, time.Minute)
			if err != nil {
				return fmt.Errorf("init rate limiter: %w", err)
			}
		}
		srvCfg.Alerter = security.NewAuditAlerter(redisClient, "chatbot:auth:alerts")
	}
	httpServer, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      durations.GenerationTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("chatbot server listening",
			"addr", addr,
			"store", cfg.StoreDriver,
			"provider", cfg.GenerationProvider,
			"environment", cfg.Environment,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.FileConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		st, err := store.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return st, nil
	case config.StorePostgres:
		st, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	default:
		slog.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}
}

func newSessionStore(cfg config.FileConfig, ttl, leeway time.Duration, revoker store.TokenRevoker) (*store.JWTSessionStore, error) {
	opts := store.JWTOptions{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience, Leeway: leeway}
	if cfg.JWTPrivateKeyPath == "" {
		sessions, err := store.NewJWTHS256SessionStore(cfg.JWTSecret, ttl, revoker, opts)
		if err != nil {
			return nil, fmt.Errorf("init session store: %w", err)
		}
		return sessions, nil
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		return nil, err
	}
	sessions, err := store.NewJWTRS256SessionStoreFromPEM(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTKeyID, verifyKeys, ttl, revoker, opts)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	return sessions, nil
}

// newGenerators selects the text backend and, when a Gemini key is available,
// the image backend. Both share one provider-side rate budget.
func newGenerators(cfg config.FileConfig) (ai.TextGenerator, ai.ImageGenerator, error) {
	var limiter *rate.Limiter
	if cfg.GenerationRatePerSecond > 0 {
		burst := cfg.GenerationBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.GenerationRatePerSecond), burst)
	}

	var gemini *ai.GeminiClient
	if cfg.GeminiAPIKey != "" {
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini client: %w", err)
		}
		gemini = client
	}

	var text ai.TextGenerator
	switch cfg.GenerationProvider {
	case config.ProviderGemini:
		text = ai.NewGeminiGenerator(gemini, cfg.GenerationModel)
	case config.ProviderOpenAICompat:
		text = ai.NewOpenAICompatGenerator(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel)
	case config.ProviderOllama:
		text = ai.NewOllamaGenerator(cfg.GenerationBaseURL, cfg.GenerationModel)
	default:
		return nil, nil, fmt.Errorf("unknown generation provider %q", cfg.GenerationProvider)
	}
	text = ai.LimitText(text, limiter)

	var image ai.ImageGenerator
	if gemini != nil {
		image = ai.LimitImage(ai.NewGeminiImageGenerator(gemini, cfg.ImageModel), limiter)
	}
	return text, image, nil
}
