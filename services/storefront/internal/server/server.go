package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bananastore/internal/ratelimit"
	"bananastore/internal/sessiontoken"
	"bananastore/internal/util"
	"bananastore/pkg/kv"
	"bananastore/services/storefront/internal/apperr"
	"bananastore/services/storefront/internal/assistant"
	"bananastore/services/storefront/internal/authflow"
	"bananastore/services/storefront/internal/cart"
	"bananastore/services/storefront/internal/catalog"
	"bananastore/services/storefront/internal/checkout"
	"bananastore/services/storefront/internal/dashboard"
	"bananastore/services/storefront/internal/reveal"
	"bananastore/services/storefront/internal/security"
	"bananastore/services/storefront/internal/session"
)

const maxBodyBytes = 1 << 20

// Config wires the storefront HTTP surface. Redis backs the rate limiters
// and, unless Store is set, the session state.
type Config struct {
	Redis          *redis.Client
	Store          kv.Store
	KeyPrefix      string
	Signer         *sessiontoken.Signer
	Cookie         CookieConfig
	FrontendURL    string
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies

	Users     *session.Users
	Auth      *authflow.Controller
	Catalog   *catalog.Catalog
	Carts     *cart.Store
	Checkout  *checkout.Controller
	Dashboard *dashboard.Loader
	Assistant *assistant.Assistant
	Alerter   *security.AuditAlerter

	LoginRateLimitPerMinute     int
	RegisterRateLimitPerMinute  int
	VerifyOTPRateLimitPerMinute int
	ChatRateLimitPerMinute      int
	CheckoutRateLimitPerMinute  int

	RevealInterval time.Duration
}

// Server is the storefront backend-for-frontend.
type Server struct {
	mux            *http.ServeMux
	store          kv.Store
	keyPrefix      string
	signer         *sessiontoken.Signer
	cookie         CookieConfig
	frontendURL    string
	allowedOrigins []string
	trusted        *util.TrustedProxies

	users     *session.Users
	auth      *authflow.Controller
	catalog   *catalog.Catalog
	carts     *cart.Store
	checkout  *checkout.Controller
	dashboard *dashboard.Loader
	assistant *assistant.Assistant
	alerter   *security.AuditAlerter

	loginLimiter     *ratelimit.FixedWindowLimiter
	registerLimiter  *ratelimit.FixedWindowLimiter
	verifyOTPLimiter *ratelimit.FixedWindowLimiter
	chatLimiter      *ratelimit.FixedWindowLimiter
	checkoutLimiter  *ratelimit.FixedWindowLimiter

	revealInterval time.Duration
}

func New(cfg Config) (*Server, error) {
	if cfg.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("session signer is required")
	}
	if cfg.Users == nil || cfg.Auth == nil || cfg.Catalog == nil || cfg.Carts == nil ||
		cfg.Checkout == nil || cfg.Dashboard == nil || cfg.Assistant == nil {
		return nil, errors.New("storefront components are required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "bananastore"
	}
	store := cfg.Store
	if store == nil {
		store = kv.NewRedisStoreWithClient(cfg.Redis)
	}

	rateWindow := time.Minute
	newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, prefix+":ratelimit:"+name, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	loginLimiter, err := newLimiter("login", cfg.LoginRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	registerLimiter, err := newLimiter("register", cfg.RegisterRateLimitPerMinute, 5)
	if err != nil {
		return nil, err
	}
	verifyOTPLimiter, err := newLimiter("verify-otp", cfg.VerifyOTPRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	chatLimiter, err := newLimiter("chat", cfg.ChatRateLimitPerMinute, 20)
	if err != nil {
		return nil, err
	}
	checkoutLimiter, err := newLimiter("checkout", cfg.CheckoutRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}

	revealInterval := cfg.RevealInterval
	if revealInterval <= 0 {
		revealInterval = reveal.Interval
	}
	s := &Server{
		mux:              http.NewServeMux(),
		store:            store,
		keyPrefix:        prefix,
		signer:           cfg.Signer,
		cookie:           cfg.Cookie.normalize(prefix),
		frontendURL:      strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/"),
		allowedOrigins:   cfg.AllowedOrigins,
		trusted:          cfg.TrustedProxies,
		users:            cfg.Users,
		auth:             cfg.Auth,
		catalog:          cfg.Catalog,
		carts:            cfg.Carts,
		checkout:         cfg.Checkout,
		dashboard:        cfg.Dashboard,
		assistant:        cfg.Assistant,
		alerter:          cfg.Alerter,
		loginLimiter:     loginLimiter,
		registerLimiter:  registerLimiter,
		verifyOTPLimiter: verifyOTPLimiter,
		chatLimiter:      chatLimiter,
		checkoutLimiter:  checkoutLimiter,
		revealInterval:   revealInterval,
	}
	s.routes()
	return s, nil
}

// Router returns the mux wrapped in the shared middleware chain.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("storefront", h)
	h = util.WithRequestID(h)
	return util.WithRecover(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/state", s.withSession(s.handleAuthState))
	s.mux.HandleFunc("/api/auth/login", s.withSession(s.handleLogin))
	s.mux.HandleFunc("/api/auth/register", s.withSession(s.handleRegister))
	s.mux.HandleFunc("/api/auth/verify-otp", s.withSession(s.handleVerifyOTP))
	s.mux.HandleFunc("/api/auth/mode", s.withSession(s.handleAuthMode))
	s.mux.HandleFunc("/api/auth/reset", s.withSession(s.handleAuthReset))
	s.mux.HandleFunc("/api/auth/logout", s.withSession(s.handleLogout))
	s.mux.HandleFunc("/api/auth/discord/start", s.withSession(s.handleDiscordStart))
	s.mux.HandleFunc("/api/auth/discord/connect", s.withSession(s.handleDiscordConnect))
	s.mux.HandleFunc("/api/auth/discord/dismiss", s.withSession(s.handleDiscordDismiss))
	s.mux.HandleFunc("/api/users/me", s.withSession(s.handleMe))
	s.mux.HandleFunc("/auth", s.withSession(s.handleAuthCallback))
	s.mux.HandleFunc("/dashboard", s.withSession(s.handleDashboardCallback))

	// catalog & cart
	s.mux.HandleFunc("/api/products", s.withSession(s.handleProducts))
	s.mux.HandleFunc("/api/cart", s.withSession(s.handleCart))
	s.mux.HandleFunc("/api/cart/items", s.withSession(s.handleCartItems))
	s.mux.HandleFunc("/api/cart/items/", s.withSession(s.handleCartItemByID))

	// checkout
	s.mux.HandleFunc("/api/checkout", s.withSession(s.handleCheckout))
	s.mux.HandleFunc("/api/checkout/state", s.withSession(s.handleCheckoutState))
	s.mux.HandleFunc("/api/checkout/open", s.withSession(s.handleCheckoutOpen))
	s.mux.HandleFunc("/api/checkout/proceed", s.withSession(s.handleCheckoutProceed))
	s.mux.HandleFunc("/api/checkout/close", s.withSession(s.handleCheckoutClose))
	s.mux.HandleFunc("/api/checkout/attempts", s.withSession(s.handleCheckoutAttempts))
	s.mux.HandleFunc("/checkout/return", s.withSession(s.handleCheckoutReturn))

	// dashboard & chat
	s.mux.HandleFunc("/api/dashboard/orders", s.withSession(s.handleDashboard))
	s.mux.HandleFunc("/api/dashboard/reveal", s.withSession(s.handleReveal))
	s.mux.HandleFunc("/api/dashboard/discord/connect", s.withSession(s.handleDashboardConnect))
	s.mux.HandleFunc("/api/dashboard/discord/unlink", s.withSession(s.handleDashboardUnlink))
	s.mux.HandleFunc("/api/chat/messages", s.withSession(s.handleChat))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// redirectFrontend sends the browser to a page of the storefront frontend.
func (s *Server) redirectFrontend(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, s.frontendURL+path, http.StatusSeeOther)
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
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
	if outcome == security.OutcomeSuccess {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}
	if s.alerter == nil {
		return
	}
	if _, err := s.alerter.Observe(r.Context(), event, outcome, ip); err != nil {
		logger.Debug("security alert observe failed", "event", event, "err", err)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps a component error to its status and user message.
// Unclassified errors are logged and shown generically.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, apperr.UserMessage(err))
}
