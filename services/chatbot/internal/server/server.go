package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"novachat/internal/metrics"
	"novachat/internal/ratelimit"
	"novachat/internal/util"
	"novachat/pkg/domain"
	"novachat/services/chatbot/internal/app"
	"novachat/services/chatbot/internal/security"
)

const (
	sessionCookie = "jwt"
	maxBodyBytes  = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// AuthLimiter throttles the unauthenticated auth routes; nil disables throttling.
	AuthLimiter    *ratelimit.FixedWindowLimiter
	Alerter        *security.AuditAlerter
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	TrustedProxies []string
	CookieSecure   bool
	CookieDomain   string
	CookieSameSite string
	// Development adds error details to 500 responses.
	Development bool
}

// Server exposes the chatbot HTTP API.
type Server struct {
	app     *app.App
	limiter *ratelimit.FixedWindowLimiter
	alerter *security.AuditAlerter
	metrics *metrics.Metrics
	cors    *util.CORSPolicy
	proxies *util.TrustedProxies
	cookie  cookieSettings
	dev     bool
	mux     *http.ServeMux
	now     func() time.Time
}

type cookieSettings struct {
	secure   bool
	domain   string
	sameSite http.SameSite
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s := &Server{
		app:     cfg.App,
		limiter: cfg.AuthLimiter,
		alerter: cfg.Alerter,
		metrics: cfg.Metrics,
		cors:    util.NewCORSPolicy(cfg.AllowedOrigins),
		proxies: proxies,
		cookie:  newCookieSettings(cfg.CookieSecure, cfg.CookieDomain, cfg.CookieSameSite),
		dev:     cfg.Development,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = s.cors.Wrap(h)
	h = util.WithSecurityHeaders(h)
	h = s.metrics.Instrument(h)
	h = util.WithRequestLog("chatbot", h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/auth/session", s.optional(s.handleSession))
	s.mux.HandleFunc("/api/auth/forgot-password", s.handleForgotPassword)
	s.mux.HandleFunc("/api/auth/verify-otp", s.handleVerifyOtp)
	s.mux.HandleFunc("/api/auth/reset-password", s.handleResetPassword)

	// chat, also served under the legacy /bot/v1 prefix
	for _, prefix := range []string{"/api", "/bot/v1"} {
		s.mux.Handle(prefix+"/messages", s.authenticated(s.handleMessage))
		s.mux.Handle(prefix+"/message", s.authenticated(s.handleMessage))
		s.mux.Handle(prefix+"/conversations", s.authenticated(s.handleConversations))
		s.mux.Handle(prefix+"/conversations/", s.authenticated(s.handleConversationByID))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ready(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Warn("readiness check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Principal)

type optionalAuthHandler func(http.ResponseWriter, *http.Request, domain.Principal, bool)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.app.Authenticate(r.Context(), tokenFromRequest(r))
		if err != nil {
			s.audit(r, "auth.authorize", "fail", "reason", app.Message(err))
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, p)
	})
}

func (s *Server) optional(next optionalAuthHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.app.OptionalAuthenticate(r.Context(), tokenFromRequest(r))
		next(w, r, p, ok)
	})
}

// tokenFromRequest prefers the Authorization header over the session cookie.
func tokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")); token != "" {
			return token
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// errorStatus maps an app error kind to its HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, app.ErrValidation), errors.Is(err, app.ErrConflict), errors.Is(err, app.ErrInvalidOTP):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := app.Message(err)
	if status == http.StatusInternalServerError || msg == "" {
		msg = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed",
			"path", r.URL.Path,
			"status", status,
			"err", err,
		)
	}
	body := map[string]any{"success": false, "error": msg}
	if status == http.StatusInternalServerError && s.dev {
		body["details"] = err.Error()
	}
	writeJSON(w, status, body)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := s.clientIP(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}
	s.metrics.AuthEvent(event, outcome)
	if s.alerter == nil {
		return
	}
	res, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if res.Triggered {
		logger.Error("security_alert",
			"rule", res.Rule,
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}

// allowRate enforces the per path and client IP budget. It writes the 429
// itself and returns false when the request must stop.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, event string) bool {
	if s.limiter == nil {
		return true
	}
	d, err := s.limiter.Allow(r.Context(), r.URL.Path+"|"+s.clientIP(r))
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "err", err)
	}
	if d.Allowed {
		return true
	}
	s.audit(r, event, "rate_limited")
	retry := d.RetryAfter
	if retry <= 0 {
		retry = time.Minute
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
	writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.proxies)
}

func newCookieSettings(secure bool, domain, sameSite string) cookieSettings {
	c := cookieSettings{secure: secure, domain: strings.TrimSpace(domain), sameSite: http.SameSiteLaxMode}
	switch strings.ToLower(strings.TrimSpace(sameSite)) {
	case "strict":
		c.sameSite = http.SameSiteStrictMode
	case "none":
		c.sameSite = http.SameSiteNoneMode
		c.secure = true
	}
	return c
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	maxAge := int(expires.Sub(s.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Domain:   s.cookie.domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookie.secure,
		SameSite: s.cookie.sameSite,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Domain:   s.cookie.domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookie.secure,
		SameSite: s.cookie.sameSite,
	})
}
