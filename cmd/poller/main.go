// The completion poller owns the second half of every parked generation: it
// scans pending rows that carry a provider task id, polls the owning provider
// and transitions them to completed or failed. The API process never touches
// a generation again once it is parked.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediaforge/internal/credits"
	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/infra/credentials"
	"mediaforge/internal/metrics"
	"mediaforge/internal/providers"
	"mediaforge/internal/providers/falqueue"
	"mediaforge/internal/providers/kie"
	"mediaforge/internal/registry"
	"mediaforge/internal/sqlinline"
)

type poller struct {
	ctx       context.Context
	runner    *infra.SQLRunner
	ledger    *credits.Ledger
	kie       *kie.Client
	fal       *falqueue.Client
	logger    infra.Logger
	interval  time.Duration
	batchSize int
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	credStore := credentials.NewStore(runner)
	kieKey, err := credStore.Resolve(ctx, credentials.ProviderKie, cfg.KieAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("poller: failed to load kie api key from store")
		kieKey = cfg.KieAPIKey
	}
	falKey, err := credStore.Resolve(ctx, credentials.ProviderFal, cfg.FalAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("poller: failed to load fal api key from store")
		falKey = cfg.FalAPIKey
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	p := &poller{
		ctx:    ctx,
		runner: runner,
		ledger: credits.NewLedger(runner, logger, cfg.AtomicDebit),
		kie: kie.NewClient(kie.Options{
			APIKey:     kieKey,
			BaseURL:    cfg.KieBaseURL,
			HTTPClient: httpClient,
			Logger:     &logger,
		}),
		fal: falqueue.NewClient(falqueue.Options{
			APIKey:     falKey,
			BaseURL:    cfg.FalBaseURL,
			HTTPClient: httpClient,
			Logger:     &logger,
		}),
		logger:    logger,
		interval:  cfg.PollerInterval,
		batchSize: cfg.PollerBatchSize,
	}

	if err := p.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("poller: stopped with error")
	}
	logger.Info().Msg("poller: stopped")
}

func (p *poller) Run() error {
	p.logger.Info().Dur("interval", p.interval).Msg("poller: started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-ticker.C:
		}
		if err := p.scan(); err != nil {
			p.logger.Error().Err(err).Msg("poller: scan failed")
		}
	}
}

func (p *poller) scan() error {
	rows, err := p.runner.Query(p.ctx, sqlinline.QSelectPendingGenerations, p.batchSize)
	if err != nil {
		return err
	}
	defer rows.Close()

	var pending []domain.Generation
	for rows.Next() {
		var g domain.Generation
		var mediaType, status string
		if err := rows.Scan(
			&g.ID, &g.UserID, &g.Prompt, &g.Model, &mediaType, &status,
			&g.TaskID, &g.OutputURL, &g.CreditsUsed, &g.ProviderEndpoint,
			&g.ErrorMessage, &g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return err
		}
		g.MediaType = domain.MediaType(mediaType)
		g.Status = domain.GenerationStatus(status)
		pending = append(pending, g)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, gen := range pending {
		p.resolve(gen)
	}
	return nil
}

// resolve advances one pending generation by a single status check. Jobs that
// are still running are left for the next scan.
func (p *poller) resolve(gen domain.Generation) {
	desc, err := registry.Resolve(gen.Model)
	if err != nil {
		p.fail(gen, "model no longer in registry")
		return
	}

	var poll providers.Poll
	switch desc.Provider {
	case registry.ProviderKie:
		metrics.PollAttempts.WithLabelValues(string(registry.ProviderKie)).Inc()
		poll, err = p.kie.Status(p.ctx, desc.StatusEndpoint, gen.TaskID)
	case registry.ProviderFalQueue:
		metrics.PollAttempts.WithLabelValues(string(registry.ProviderFalQueue)).Inc()
		poll, err = p.fal.Status(p.ctx, desc.Endpoint, gen.TaskID)
		if err == nil && poll.Status == providers.StatusCompleted && poll.OutputURL == "" {
			poll.OutputURL, err = p.fal.Result(p.ctx, desc.Endpoint, gen.TaskID)
		}
	default:
		// The synchronous gateway never parks a pending row; a stray one is
		// unrecoverable because there is no task to poll.
		p.fail(gen, "no pollable task for provider")
		return
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("generation_id", gen.ID).Msg("poller: status check failed")
		return
	}

	switch poll.Status {
	case providers.StatusCompleted:
		p.complete(gen, poll.OutputURL)
	case providers.StatusFailed:
		msg := poll.Message
		if msg == "" {
			msg = "generation failed"
		}
		p.fail(gen, msg)
	}
}

func (p *poller) complete(gen domain.Generation, outputURL string) {
	if _, err := p.runner.Exec(p.ctx, sqlinline.QCompleteGeneration, gen.ID, outputURL); err != nil {
		p.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("poller: complete update failed")
		return
	}
	p.logger.Info().Str("generation_id", gen.ID).Str("model", gen.Model).Msg("poller: generation completed")
}

// fail marks the row failed and credits the charge back. The API-side
// snapshot is long gone, so the refund is additive here; subscription users
// were never debited and get nothing back.
func (p *poller) fail(gen domain.Generation, message string) {
	if _, err := p.runner.Exec(p.ctx, sqlinline.QFailGeneration, gen.ID, message); err != nil {
		p.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("poller: fail update failed")
		return
	}
	if gen.CreditsUsed > 0 {
		profile, err := p.ledger.Profile(p.ctx, gen.UserID)
		if err != nil {
			p.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("poller: profile load for refund failed")
			return
		}
		if !profile.SubscriptionActive {
			if err := p.ledger.RefundAdd(p.ctx, gen.UserID, gen.CreditsUsed, gen.ID); err != nil {
				p.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("poller: refund failed")
				return
			}
			metrics.CreditsCharged.WithLabelValues(gen.Model, "refund").Add(float64(gen.CreditsUsed))
		}
	}
	p.logger.Info().Str("generation_id", gen.ID).Str("model", gen.Model).Str("reason", message).Msg("poller: generation failed")
}
