package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kasirinaja/pos/internal/cache"
	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/gateway"
	"kasirinaja/pos/internal/held"
	"kasirinaja/pos/internal/httpapi"
	"kasirinaja/pos/internal/jobs"
	"kasirinaja/pos/internal/logging"
	"kasirinaja/pos/internal/loyalty"
	"kasirinaja/pos/internal/service"
	"kasirinaja/pos/internal/shift"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/store/memory"
	pgstore "kasirinaja/pos/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(logging.Options{Mode: cfg.Log.Mode, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", zap.Error(err))
			}
		}
	}()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(startCtx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		repo = pg
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
		if memory.DefaultCredentialsInUse() {
			logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
		}
	}

	productCache := cache.ProductCache(cache.NoopProductCache{})
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisProductCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			productCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.Redis.Addr))
		}
	} else {
		logger.Info("cache: noop")
	}

	var client gateway.Client = gateway.OfflineClient{}
	if cfg.Gateway.BaseURL != "" {
		client = gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.ServerKey, cfg.Gateway.Timeout)
		logger.Info("payment gateway: http", zap.String("base_url", cfg.Gateway.BaseURL))
	} else {
		logger.Warn("payment gateway not configured; integrated QRIS and transfer payments are unavailable")
	}

	heldOrders := held.NewStore(repo, logger)
	auth := httpapi.NewAuthManager(cfg.Auth.Secret, cfg.Auth.AccessTokenTTL, cfg.Auth.ManagerPIN, repo, logger)
	svc := service.New(service.Options{
		DefaultOutletID: cfg.DefaultOutletID,
		PollInterval:    cfg.Gateway.PollInterval,
		MaxWait:         cfg.Gateway.MaxWait,
		Terminals:       cfg.Terminals,
		MaxTerminals:    cfg.MaxTerminals,
	}, service.Deps{
		Repo:       repo,
		Catalog:    cache.NewCatalog(repo, productCache, cfg.Redis.CatalogCacheTTL, logger),
		Shifts:     shift.NewManager(repo, logger),
		Held:       heldOrders,
		Loyalty:    loyalty.NewProgram(repo, cfg.Loyalty.SpendPerPoint),
		Gateway:    client,
		Authorizer: auth,
		Logger:     logger,
	})
	defer svc.Close()

	loc, err := time.LoadLocation(cfg.Housekeeping.Location)
	if err != nil {
		logger.Warn("unknown housekeeping location, using UTC", zap.String("location", cfg.Housekeeping.Location), zap.Error(err))
		loc = time.UTC
	}
	scheduler := jobs.NewScheduler(loc, logger)
	if err := scheduler.ScheduleHeldOrderExpiry(cfg.Housekeeping.Spec, cfg.Housekeeping.HeldRetention, heldOrders); err != nil {
		return err
	}

	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Long enough for the checkout long-poll.
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler stop", zap.Error(err))
		}
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func validateSecurityConfig(cfg *config.Config) error {
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.Auth.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.Auth.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
