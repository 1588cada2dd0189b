package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"iap-reconciler/internal/api"
	"iap-reconciler/internal/config"
	"iap-reconciler/internal/database"
	"iap-reconciler/internal/iap"
	"iap-reconciler/internal/iap/apple"
	"iap-reconciler/internal/iap/google"
	"iap-reconciler/internal/sandbox"
	"iap-reconciler/internal/services"
	"iap-reconciler/internal/validation"
	"iap-reconciler/pkg/logging"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}
	cfg := config.AppConfig

	// Initialize logging
	if err := logging.InitLogging(cfg.LogLevel); err != nil {
		log.Fatal("Failed to initialize logging:", err)
	}
	defer logging.Sync()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	sb := sandbox.New(database.GetDB(), database.GetRedis(), cfg.ProductCacheTTL, cfg.SandboxAutoApprove)

	session, err := iap.NewSession(newBackend(cfg.Platform, sb))
	if err != nil {
		log.Fatal("Failed to create purchase session:", err)
	}
	defer session.Close()

	claims, stopClaims := newClaimStore(cfg.ClaimTTL)
	defer stopClaims()

	fulfiller := services.NewFulfiller(session, newValidator(cfg), database.NewGrantRepository(database.GetDB()), claims, cfg.ConsumableProducts)
	fulfiller.OnOutcome(func(tx iap.Transaction, outcome services.Outcome, err error) {
		if err != nil {
			logging.Warnf("Fulfillment %s - transaction: %s, error: %v", outcome, tx.Key(), err)
			return
		}
		logging.Infof("Fulfillment %s - transaction: %s, products: %v", outcome, tx.Key(), tx.ProductIDs)
	})

	handlers := api.NewHandlers(session, database.NewGrantRepository(database.GetDB()), sb)
	fulfiller.OnOutcome(handlers.PublishOutcome)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unsubscribe := fulfiller.Start(ctx)
	defer unsubscribe()

	ok, err := session.Configure(ctx, iap.Options{AlternativeBilling: cfg.AlternativeBilling})
	switch {
	case err != nil:
		log.Fatal("Failed to configure purchase session:", err)
	case !ok:
		logging.Warnf("Purchase session not ready - platform: %s, configure it through the API once the store is reachable", cfg.Platform)
	case cfg.FlushOnStart:
		// Recover purchases left unfinalized by a previous run
		if pending, err := session.Flush(ctx); err != nil {
			logging.Errorf("Startup flush failed: %v", err)
		} else {
			logging.Infof("Startup flush delivered %d transactions", len(pending))
		}
	}

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, handlers, cfg.APIKey)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Infof("Starting server on port %s - platform: %s", cfg.Port, cfg.Platform)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	logging.Infof("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("Server shutdown failed: %v", err)
	}
	fulfiller.Wait()
}

// newBackend binds the configured platform's adapter to the sandbox native
// layer.
func newBackend(platform string, sb *sandbox.Sandbox) iap.Backend {
	if platform == config.PlatformIOS {
		return apple.NewBackend(sb.AppStore())
	}
	return google.NewBackend(sb.GooglePlayFactory())
}

func newValidator(cfg *config.Config) services.Validator {
	if cfg.ValidationURL == "" {
		logging.Warnf("VALIDATION_URL not set, every transaction is granted unvalidated")
		return validation.AllowAll{}
	}
	return validation.NewClient(cfg.ValidationURL, cfg.ValidationSecret, cfg.ValidationTimeout)
}

// newClaimStore prefers Redis so several processes can share one native
// store; it falls back to a process-local store.
func newClaimStore(ttl time.Duration) (services.ClaimStore, func()) {
	if client := database.GetRedis(); client != nil {
		return services.NewRedisClaimStore(client, ttl), func() {}
	}
	store := services.NewMemoryClaimStore(ttl)
	return store, store.Stop
}
