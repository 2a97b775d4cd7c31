package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediaforge/internal/credits"
	"mediaforge/internal/dispatch"
	"mediaforge/internal/http/handlers"
	httpapi "mediaforge/internal/http/httpapi"
	"mediaforge/internal/infra"
	"mediaforge/internal/infra/credentials"
	"mediaforge/internal/providers/falqueue"
	"mediaforge/internal/providers/gateway"
	"mediaforge/internal/providers/kie"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)

	// Env keys win; the credentials store is the rotation fallback.
	credStore := credentials.NewStore(runner)
	kieKey := resolveKey(ctx, credStore, credentials.ProviderKie, cfg.KieAPIKey, logger)
	falKey := resolveKey(ctx, credStore, credentials.ProviderFal, cfg.FalAPIKey, logger)
	gatewayKey := resolveKey(ctx, credStore, credentials.ProviderGateway, cfg.GatewayAPIKey, logger)

	httpClient := &http.Client{Timeout: 60 * time.Second}
	kieClient := kie.NewClient(kie.Options{
		APIKey:     kieKey,
		BaseURL:    cfg.KieBaseURL,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	falClient := falqueue.NewClient(falqueue.Options{
		APIKey:     falKey,
		BaseURL:    cfg.FalBaseURL,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	gatewayClient := gateway.NewClient(gateway.Options{
		APIKey:     gatewayKey,
		BaseURL:    cfg.GatewayBaseURL,
		Model:      cfg.GatewayModel,
		HTTPClient: httpClient,
		Logger:     &logger,
	})

	ledger := credits.NewLedger(runner, logger, cfg.AtomicDebit)
	orchestrator := dispatch.NewOrchestrator(dispatch.Options{
		SQL:              runner,
		Ledger:           ledger,
		Kie:              kieClient,
		Fal:              falClient,
		Gateway:          gatewayClient,
		Logger:           logger,
		MusicCallbackURL: cfg.MusicCallbackURL,
	})

	app := &handlers.App{
		SQL:        runner,
		Ledger:     ledger,
		Dispatcher: orchestrator,
		Logger:     logger,
	}

	router := httpapi.NewRouter(app, cfg)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func resolveKey(ctx context.Context, store *credentials.Store, provider, envValue string, logger infra.Logger) string {
	key, err := store.Resolve(ctx, provider, envValue)
	if err != nil {
		logger.Warn().Err(err).Str("provider", provider).Msg("failed to load api key from store")
		return envValue
	}
	if key == "" {
		logger.Warn().Str("provider", provider).Msg("no api key configured")
	}
	return key
}
