package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"bananastore/internal/sessiontoken"
	"bananastore/internal/util"
	"bananastore/pkg/ai"
	"bananastore/pkg/kv"
	"bananastore/pkg/queue"
	"bananastore/pkg/store"
	"bananastore/services/storefront/internal/assistant"
	"bananastore/services/storefront/internal/authflow"
	"bananastore/services/storefront/internal/botclient"
	"bananastore/services/storefront/internal/cart"
	"bananastore/services/storefront/internal/catalog"
	"bananastore/services/storefront/internal/checkout"
	"bananastore/services/storefront/internal/config"
	"bananastore/services/storefront/internal/dashboard"
	"bananastore/services/storefront/internal/notify"
	"bananastore/services/storefront/internal/pendinglink"
	"bananastore/services/storefront/internal/security"
	"bananastore/services/storefront/internal/server"
	"bananastore/services/storefront/internal/session"
	"bananastore/services/storefront/internal/shopclient"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "storefront")

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logger.Warn("sentry init failed", "err", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	sessionTTL := config.DurationOr(cfg.Session.TTL, session.DefaultUserTTL)
	prefix := cfg.Brand.KeyPrefix

	kvStore, err := kv.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	rdb := kvStore.Client()
	defer rdb.Close()

	var ledger store.Store = store.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init checkout ledger: %v", err)
		}
		defer gormStore.Close()
		ledger = gormStore
	} else {
		logger.Warn("DATABASE_URL not set, checkout attempts are kept in memory")
	}

	shop := shopclient.NewClient(shopclient.Config{
		BaseURL:      cfg.ShopAPI.URL,
		Prefix:       cfg.ShopAPI.Prefix,
		APIKey:       cfg.ShopAPI.APIKey,
		APIKeyHeader: cfg.ShopAPI.APIKeyHeader,
		AuthScheme:   cfg.ShopAPI.AuthScheme,
		Timeout:      config.DurationOr(cfg.ShopAPI.Timeout, 0),
	})
	var bot *botclient.Client
	if cfg.BotBridge.URL != "" {
		bot = botclient.NewClient(botclient.Config{
			BaseURL:      cfg.BotBridge.URL,
			Prefix:       cfg.BotBridge.Prefix,
			APIKey:       cfg.BotBridge.APIKey,
			APIKeyHeader: cfg.BotBridge.APIKeyHeader,
			AuthScheme:   cfg.BotBridge.AuthScheme,
			Timeout:      config.DurationOr(cfg.BotBridge.Timeout, 0),
		})
	}

	products := catalog.New(shop, kv.NewScope(kvStore, prefix, "catalog"),
		config.DurationOr(cfg.Checkout.CatalogTTL, catalog.DefaultTTL))

	// order notifications
	var sinks []notify.Sink
	if bot != nil {
		sinks = append(sinks, notify.NewBotSink(bot))
	}
	if cfg.NATS.URL != "" {
		natsSink, err := notify.NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Fatalf("failed to connect nats: %v", err)
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink)
	}
	hostname, _ := os.Hostname()
	jobs, err := queue.NewRedisJobQueueWithClient(rdb, queue.RedisQueueConfig{
		Stream:     cfg.Queue.Stream,
		Group:      cfg.Queue.Group,
		Consumer:   "storefront-" + hostname,
		MaxRetries: cfg.Queue.MaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to init notification queue: %v", err)
	}
	dispatcher := notify.NewDispatcher(jobs, sinks...)
	workerCtx, stopWorkers := context.WithCancel(util.ContextWithLogger(context.Background(), logger))
	jobs.Start(workerCtx, cfg.Queue.Concurrency, dispatcher.Handle)

	users := session.NewUsers(sessionTTL)
	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	auth := authflow.NewController(shop, pendinglink.NewStore(0), users, authflow.Options{
		AuthReturnURL:      publicURL + "/auth",
		DashboardReturnURL: publicURL + "/dashboard",
	})
	carts := cart.NewStore(sessionTTL)
	checkouts := checkout.NewController(shop, carts, products, dispatcher, ledger, checkout.Options{
		SuccessURL:   publicURL + "/checkout/return?status=success",
		CancelURL:    publicURL + "/checkout/return?status=cancel",
		PaymentDelay: config.DurationOr(cfg.Checkout.PaymentDelay, checkout.DefaultPaymentDelay),
	})

	var responders assistant.Chain
	if bot != nil {
		responders = append(responders, bot)
	}
	if cfg.AI.Provider != "" {
		gen, err := ai.NewGenerator(ai.Config{
			Provider:    cfg.AI.Provider,
			Model:       cfg.AI.Model,
			APIKey:      cfg.AI.APIKey,
			BaseURL:     cfg.AI.BaseURL,
			Temperature: cfg.AI.Temperature,
		})
		if err != nil {
			log.Fatalf("failed to init chat generator: %v", err)
		}
		responders = append(responders, assistant.NewGeneratorResponder(gen, cfg.Brand.BotName, cfg.Brand.StoreName))
	}
	if len(responders) == 0 {
		logger.Warn("no chat responder configured, the assistant will only send the fallback reply")
	}

	signer, err := sessiontoken.NewSigner(cfg.Session.Secret, sessionTTL, sessiontoken.Options{
		Issuer:   cfg.Session.Issuer,
		Audience: cfg.Session.Audience,
	})
	if err != nil {
		log.Fatalf("failed to init session signer: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		Redis:     rdb,
		Store:     kvStore,
		KeyPrefix: prefix,
		Signer:    signer,
		Cookie: server.CookieConfig{
			Name:     cfg.Session.CookieName,
			Domain:   cfg.Session.CookieDomain,
			Secure:   cfg.Session.CookieSecure,
			SameSite: server.ParseSameSite(cfg.Session.CookieSameSite),
		},
		FrontendURL:    cfg.FrontendURL,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: trusted,

		Users:     users,
		Auth:      auth,
		Catalog:   products,
		Carts:     carts,
		Checkout:  checkouts,
		Dashboard: dashboard.NewLoader(shop, users, auth),
		Assistant: assistant.New(responders, products, assistant.Options{BotName: cfg.Brand.BotName}),
		Alerter:   security.NewAuditAlerter(rdb, prefix+":security"),

		LoginRateLimitPerMinute:     cfg.RateLimits.Login,
		RegisterRateLimitPerMinute:  cfg.RateLimits.Register,
		VerifyOTPRateLimitPerMinute: cfg.RateLimits.VerifyOTP,
		ChatRateLimitPerMinute:      cfg.RateLimits.Chat,
		CheckoutRateLimitPerMinute:  cfg.RateLimits.Checkout,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		slog.Info("server listening", "addr", addr, "store", cfg.Brand.StoreName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "err", err)
	}
	stopWorkers()
	jobs.Wait()
}
