package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/acarlson/user-account-service/internal/circuitbreaker"
	"github.com/acarlson/user-account-service/internal/config"
	"github.com/acarlson/user-account-service/internal/degraded"
	httphandler "github.com/acarlson/user-account-service/internal/http"
	"github.com/acarlson/user-account-service/internal/lifecycle"
	"github.com/acarlson/user-account-service/internal/observability"
	"github.com/acarlson/user-account-service/internal/service"
	"github.com/acarlson/user-account-service/internal/session"
	"github.com/acarlson/user-account-service/internal/store"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	var userStore store.Store
	switch cfg.StoreBackend {
	case "postgres":
		connectCtx, connectCancel := context.WithTimeout(appCtx, 30*time.Second)
		pg, err := store.NewPostgresStore(connectCtx, store.PostgresConfig{
			DSN:              cfg.PostgresDSN,
			MaxOpenConns:     cfg.PostgresMaxOpenConns,
			MaxIdleConns:     cfg.PostgresMaxIdleConns,
			ConnMaxLifetime:  cfg.PostgresConnMaxLifetime,
			ConnectAttempts:  cfg.PostgresConnectAttempts,
			ConnectBaseDelay: cfg.PostgresConnectBaseDelay,
			ConnectMaxDelay:  cfg.PostgresConnectMaxDelay,
		})
		connectCancel()
		if err != nil {
			logger.Fatal("postgres store", zap.Error(err))
		}
		userStore = pg
		logger.Info("store backend: postgres")
	default:
		userStore = store.NewMemoryStore()
		logger.Info("store backend: memory")
	}

	if cfg.BreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			Component:        "user_store",
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("user_store", from.String(), to.String())
				observability.SetCircuitBreakerStateGauge("user_store", float64(to))
			},
		})
		userStore = store.WithBreaker(userStore, cb)
		observability.SetCircuitBreakerStateGauge("user_store", 0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.BreakerFailureThreshold), zap.Duration("timeout", cfg.BreakerTimeout))
	}

	var sessionStore session.Store
	var memcacheCloser *session.MemcachedStore
	var memorySessions *session.MemoryStore
	switch cfg.SessionBackend {
	case "memcached":
		mc, err := session.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached session store", zap.Error(err))
		}
		memcacheCloser = mc
		sessionStore = mc
		logger.Info("session backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		memorySessions = session.NewMemoryStore()
		sessionStore = memorySessions
		logger.Info("session backend: memory")
	}
	sessionManager := session.NewManager(sessionStore, cfg.SessionTTL)

	if memorySessions != nil && cfg.SweepInterval > 0 {
		sweeper := session.NewSweeper(memorySessions, logger)
		go func() {
			if err := sweeper.Run(appCtx, cfg.SweepInterval); err != nil && err != context.Canceled {
				logger.Error("session sweeper stopped", zap.Error(err))
			}
		}()
	}

	accounts := service.NewAccountService(userStore, sessionManager, service.Limits{
		UsernameMin: cfg.UsernameMinLength,
		UsernameMax: cfg.UsernameMaxLength,
		PasswordMin: cfg.PasswordMinLength,
		PasswordMax: cfg.PasswordMaxLength,
	})

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		DegradedRetryInitial:   cfg.DegradedRetryInitial,
		DegradedRetryMax:       cfg.DegradedRetryMax,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
		StorePing:              userStore.Ping,
	}
	if memcacheCloser != nil {
		healthConfig.SessionPing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(accounts, healthConfig, logger, limiter)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	degraded.StartRecoveryListener(appCtx, userStore.Ping, cfg.DegradedRetryInitial, cfg.DegradedRetryMax, func() {
		logger.Error("degraded recovery exhausted; draining")
		lifecycle.SetShuttingDown(true)
	})

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.Use(httphandler.SessionMiddleware(sessionManager))
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/", handler.GetBase).Methods("GET")

	userRouter := router.PathPrefix("/user").Subrouter()
	userRouter.Use(httphandler.RateLimitMiddleware(limiter))
	userRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	userRouter.HandleFunc("", handler.PostUser).Methods("POST")
	userRouter.HandleFunc("", handler.GetCurrentUser).Methods("GET")
	userRouter.HandleFunc("/{username}", handler.GetUser).Methods("GET")
	userRouter.HandleFunc("/{username}", handler.PutUser).Methods("PUT")
	userRouter.HandleFunc("/{username}", handler.DeleteUser).Methods("DELETE")

	authRouter := router.NewRoute().Subrouter()
	authRouter.Use(httphandler.RateLimitMiddleware(limiter))
	authRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	authRouter.HandleFunc("/login", handler.PostLogin).Methods("POST")
	authRouter.HandleFunc("/logout", handler.PostLogout).Methods("POST")

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", handler.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", handler.PostTestAction).Methods("POST")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	appCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if err := userStore.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
