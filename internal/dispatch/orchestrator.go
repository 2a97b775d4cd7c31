// Package dispatch sequences a generation request through validation,
// pricing, credit pre-authorization, provider submission and bounded
// polling. The state machine is explicit so that the refund rule is
// structural: refunds happen only on the failure transitions, never on the
// timeout transition, because a job the client gave up waiting for is still
// billable and may yet complete.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediaforge/internal/credits"
	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/metrics"
	"mediaforge/internal/providers"
	"mediaforge/internal/providers/falqueue"
	"mediaforge/internal/providers/gateway"
	"mediaforge/internal/providers/kie"
	"mediaforge/internal/registry"
	"mediaforge/internal/sqlinline"
)

// State enumerates the orchestrator's states.
type State string

const (
	StateValidating      State = "validating"
	StatePricing         State = "pricing"
	StateDebiting        State = "debiting"
	StateSubmitted       State = "submitted"
	StatePolling         State = "polling"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateTimedOutPending State = "timed_out_pending"
	StateRejected        State = "rejected"
)

// InsufficientCreditsError carries the structured payload for the 402 path.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// KieAPI is the economy-jobs client surface the orchestrator needs.
type KieAPI interface {
	Submit(ctx context.Context, endpoint string, body map[string]any) (string, error)
	Status(ctx context.Context, statusEndpoint, taskID string) (providers.Poll, error)
}

// FalAPI is the queue-based client surface.
type FalAPI interface {
	Submit(ctx context.Context, modelPath string, body map[string]any) (string, error)
	Status(ctx context.Context, modelPath, requestID string) (providers.Poll, error)
	Result(ctx context.Context, modelPath, requestID string) (string, error)
}

// GatewayAPI is the synchronous chat-image surface.
type GatewayAPI interface {
	GenerateImage(ctx context.Context, req gateway.Request) (string, error)
}

// Result is the terminal outcome handed back to the HTTP layer.
type Result struct {
	State            State
	OutputURL        string
	TaskID           string
	Generation       *domain.Generation
	CreditsUsed      int
	CreditsRemaining int
}

// Options wires an Orchestrator.
type Options struct {
	SQL              infra.SQLExecutor
	Ledger           *credits.Ledger
	Kie              KieAPI
	Fal              FalAPI
	Gateway          GatewayAPI
	Logger           infra.Logger
	MusicCallbackURL string

	// Overridable in tests; zero values take the defaults below.
	ImagePollInterval time.Duration
	ImagePollAttempts int
	PollInterval      time.Duration
}

const (
	defaultImagePollInterval = 2 * time.Second
	defaultImagePollAttempts = 10
	defaultPollInterval      = 5 * time.Second
)

// Orchestrator routes one generation request end to end.
type Orchestrator struct {
	sql              infra.SQLExecutor
	ledger           *credits.Ledger
	kie              KieAPI
	fal              FalAPI
	gateway          GatewayAPI
	logger           infra.Logger
	musicCallbackURL string

	imagePollInterval time.Duration
	imagePollAttempts int
	pollInterval      time.Duration
}

func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		sql:               opts.SQL,
		ledger:            opts.Ledger,
		kie:               opts.Kie,
		fal:               opts.Fal,
		gateway:           opts.Gateway,
		logger:            opts.Logger,
		musicCallbackURL:  opts.MusicCallbackURL,
		imagePollInterval: opts.ImagePollInterval,
		imagePollAttempts: opts.ImagePollAttempts,
		pollInterval:      opts.PollInterval,
	}
	if o.imagePollInterval <= 0 {
		o.imagePollInterval = defaultImagePollInterval
	}
	if o.imagePollAttempts <= 0 {
		o.imagePollAttempts = defaultImagePollAttempts
	}
	if o.pollInterval <= 0 {
		o.pollInterval = defaultPollInterval
	}
	return o
}

// charge records what was debited so the failure transitions can undo it.
// A subscription bypasses the debit entirely; cost is kept for the receipt.
type charge struct {
	userID   string
	cost     int
	snapshot int
	debited  bool
	balance  int
}

// Dispatch runs the state machine for one request. em receives progress
// events; pass a NopEmitter for non-streaming callers.
func (o *Orchestrator) Dispatch(ctx context.Context, req domain.GenerationRequest, em Emitter) (*Result, error) {
	start := time.Now()
	res, err := o.dispatch(ctx, req, em)
	if res != nil {
		metrics.DispatchDuration.WithLabelValues(req.Model, string(req.MediaType)).Observe(time.Since(start).Seconds())
		metrics.DispatchOutcomes.WithLabelValues(req.Model, string(req.MediaType), string(res.State)).Inc()
	}
	return res, err
}

func (o *Orchestrator) dispatch(ctx context.Context, req domain.GenerationRequest, em Emitter) (*Result, error) {
	// Validating. Nothing has been debited yet; every rejection here is
	// side-effect free.
	if strings.TrimSpace(req.UserID) == "" {
		return &Result{State: StateRejected}, domain.ErrUnauthorized
	}
	em.Emit("auth", map[string]any{"user_id": req.UserID})
	if strings.TrimSpace(req.Prompt) == "" {
		return &Result{State: StateRejected}, domain.ErrEmptyPrompt
	}
	if !req.MediaType.Valid() {
		return &Result{State: StateRejected}, fmt.Errorf("%w: unsupported type %q", domain.ErrUnknownModel, req.MediaType)
	}
	desc, err := registry.Resolve(req.Model)
	if err != nil || desc.MediaType != req.MediaType {
		return &Result{State: StateRejected}, fmt.Errorf("%w: unknown %s model: %s", domain.ErrUnknownModel, req.MediaType, req.Model)
	}

	// Pricing.
	cost := registry.Cost(req.Model, req.MediaType, req.Quality)

	// Debiting: the single step whose side effect every later failure path
	// must undo.
	profile, err := o.ledger.Profile(ctx, req.UserID)
	if err != nil {
		return &Result{State: StateRejected}, err
	}
	ch := charge{userID: req.UserID, cost: cost, snapshot: profile.Credits, balance: profile.Credits}
	generationID := uuid.NewString()
	if !profile.SubscriptionActive {
		if profile.Credits < cost {
			return &Result{State: StateRejected}, &InsufficientCreditsError{Required: cost, Available: profile.Credits}
		}
		balance, err := o.ledger.Debit(ctx, req.UserID, cost, generationID)
		if err != nil {
			return &Result{State: StateRejected}, err
		}
		ch.debited = true
		ch.balance = balance
		metrics.CreditsCharged.WithLabelValues(req.Model, "debit").Add(float64(cost))
	}
	em.Emit("credits", map[string]any{"cost": cost, "remaining": ch.balance})

	// Submitted.
	em.Emit("submitting", map[string]any{"model": req.Model})
	switch desc.Provider {
	case registry.ProviderGateway:
		return o.runGateway(ctx, req, desc, ch, generationID, em)
	case registry.ProviderFalQueue:
		return o.runFalQueue(ctx, req, desc, ch, generationID, em)
	default:
		return o.runKie(ctx, req, desc, ch, generationID, em)
	}
}

// runGateway performs the synchronous chat-image call. There is no task id
// and no polling: the one call either yields an image or fails.
func (o *Orchestrator) runGateway(ctx context.Context, req domain.GenerationRequest, desc *registry.Descriptor, ch charge, generationID string, em Emitter) (*Result, error) {
	primary := ""
	if len(req.ReferenceURLs) > 0 {
		primary = req.ReferenceURLs[0]
	}
	url, err := o.gateway.GenerateImage(ctx, gateway.Request{Prompt: req.Prompt, ReferenceURL: primary})
	if err != nil {
		metrics.ProviderSubmits.WithLabelValues(string(registry.ProviderGateway), "error").Inc()
		return o.terminalFailure(ctx, req, ch, em, err)
	}
	metrics.ProviderSubmits.WithLabelValues(string(registry.ProviderGateway), "ok").Inc()
	return o.terminalCompleted(ctx, req, desc, ch, generationID, "", url, em)
}

func (o *Orchestrator) runKie(ctx context.Context, req domain.GenerationRequest, desc *registry.Descriptor, ch charge, generationID string, em Emitter) (*Result, error) {
	var body map[string]any
	switch req.MediaType {
	case domain.MediaVideo:
		body = kie.BuildVideoBody(desc, req)
	case domain.MediaMusic:
		body = kie.BuildMusicBody(desc, req, o.musicCallbackURL)
	default:
		body = kie.BuildImageBody(desc, req)
	}

	taskID, err := o.kie.Submit(ctx, desc.Endpoint, body)
	if err != nil {
		metrics.ProviderSubmits.WithLabelValues(string(registry.ProviderKie), "error").Inc()
		return o.terminalFailure(ctx, req, ch, em, err)
	}
	metrics.ProviderSubmits.WithLabelValues(string(registry.ProviderKie), "ok").Inc()
	em.Emit("queued", map[string]any{"task_id": taskID})

	if req.Background {
		return o.terminalPending(ctx, req, desc, ch, generationID, taskID, em, "background")
	}

	poll := func(ctx context.Context) (providers.Poll, error) {
		metrics.PollAttempts.WithLabelValues(string(registry.ProviderKie)).Inc()
		return o.kie.Status(ctx, desc.StatusEndpoint, taskID)
	}
	return o.pollLoop(ctx, req, desc, ch, generationID, taskID, poll, em)
}

func (o *Orchestrator) runFalQueue(ctx context.Context, req domain.GenerationRequest, desc *registry.Descriptor, ch charge, generationID string, em Emitter) (*Result, error) {
	body := falqueue.BuildBody(desc, req)
	requestID, err := o.fal.Submit(ctx, desc.Endpoint, body)
	if err != nil {
		metrics.ProviderSubmits.WithLabelValues(string(registry.ProviderFalQueue), "error").Inc()
		return o.terminalFailure(ctx, req, ch, em, err)
	}
	metrics.ProviderSubmits.WithLabelValues(string(registry.ProviderFalQueue), "ok").Inc()
	em.Emit("queued", map[string]any{"task_id": requestID})

	if req.Background {
		return o.terminalPending(ctx, req, desc, ch, generationID, requestID, em, "background")
	}

	poll := func(ctx context.Context) (providers.Poll, error) {
		metrics.PollAttempts.WithLabelValues(string(registry.ProviderFalQueue)).Inc()
		p, err := o.fal.Status(ctx, desc.Endpoint, requestID)
		if err != nil {
			return p, err
		}
		if p.Status == providers.StatusCompleted && p.OutputURL == "" {
			url, err := o.fal.Result(ctx, desc.Endpoint, requestID)
			if err != nil {
				return providers.Poll{}, err
			}
			p.OutputURL = url
		}
		return p, nil
	}
	return o.pollLoop(ctx, req, desc, ch, generationID, requestID, poll, em)
}

// pollLoop is the Polling state. Fast image flows take short 2s bursts; the
// longer flows poll every 5s up to the model's budget. Exhausting the loop is
// never a failure: the job is parked pending for the completion poller.
func (o *Orchestrator) pollLoop(ctx context.Context, req domain.GenerationRequest, desc *registry.Descriptor, ch charge, generationID, taskID string, poll func(context.Context) (providers.Poll, error), em Emitter) (*Result, error) {
	interval := o.pollInterval
	attempts := int(desc.MaxPollWait / interval)
	if req.MediaType == domain.MediaImage {
		interval = o.imagePollInterval
		attempts = o.imagePollAttempts
	}
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleepCtx(ctx, interval); err != nil {
			// The caller went away; the provider job is still billable.
			return o.terminalPending(context.WithoutCancel(ctx), req, desc, ch, generationID, taskID, em, "pending")
		}

		p, err := poll(ctx)
		if err != nil {
			// A transport error polling is not a provider verdict; keep
			// trying until the budget runs out.
			o.logger.Warn().Err(err).Str("task_id", taskID).Msg("dispatch: poll attempt failed")
			continue
		}
		switch p.Status {
		case providers.StatusCompleted:
			return o.terminalCompleted(ctx, req, desc, ch, generationID, taskID, p.OutputURL, em)
		case providers.StatusFailed:
			msg := p.Message
			if msg == "" {
				msg = "generation failed"
			}
			return o.terminalFailure(ctx, req, ch, em, fmt.Errorf("%w: %s", domain.ErrProviderFailure, msg))
		default:
			percent := attempt * 100 / attempts
			if percent > 95 {
				percent = 95
			}
			em.Emit("processing", map[string]any{"percent": percent, "status": string(p.Status)})
		}
	}
	return o.terminalPending(ctx, req, desc, ch, generationID, taskID, em, "timeout_pending")
}

// terminalCompleted persists the completed record and reports success.
func (o *Orchestrator) terminalCompleted(ctx context.Context, req domain.GenerationRequest, desc *registry.Descriptor, ch charge, generationID, taskID, outputURL string, em Emitter) (*Result, error) {
	gen := &domain.Generation{
		ID:               generationID,
		UserID:           req.UserID,
		Prompt:           req.Prompt,
		Model:            req.Model,
		MediaType:        req.MediaType,
		Status:           domain.GenerationCompleted,
		TaskID:           taskID,
		OutputURL:        outputURL,
		CreditsUsed:      ch.cost,
		ProviderEndpoint: desc.Endpoint,
	}
	if err := o.insertGeneration(ctx, gen); err != nil {
		o.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("dispatch: persist completed generation failed")
	}
	em.Emit("complete", map[string]any{"output_url": outputURL})
	return &Result{
		State:            StateCompleted,
		OutputURL:        outputURL,
		TaskID:           taskID,
		Generation:       gen,
		CreditsUsed:      ch.cost,
		CreditsRemaining: ch.balance,
	}, nil
}

// terminalFailure is the only transition that refunds: the provider said no,
// so the charge is undone by restoring the pre-debit snapshot. Nothing is
// persisted beyond the error response.
func (o *Orchestrator) terminalFailure(ctx context.Context, req domain.GenerationRequest, ch charge, em Emitter, cause error) (*Result, error) {
	if ch.debited {
		if err := o.ledger.Refund(ctx, ch.userID, ch.snapshot, ch.cost, req.Model); err != nil {
			o.logger.Error().Err(err).Str("user_id", ch.userID).Msg("dispatch: refund failed")
		} else {
			metrics.CreditsCharged.WithLabelValues(req.Model, "refund").Add(float64(ch.cost))
		}
	}
	em.Emit("error", map[string]any{"message": cause.Error()})
	return &Result{State: StateFailed}, cause
}

// terminalPending persists a pending record and deliberately does NOT
// refund: the provider may still finish the job, and the completion poller
// owns the rest of its lifecycle.
func (o *Orchestrator) terminalPending(ctx context.Context, req domain.GenerationRequest, desc *registry.Descriptor, ch charge, generationID, taskID string, em Emitter, event string) (*Result, error) {
	gen := &domain.Generation{
		ID:               generationID,
		UserID:           req.UserID,
		Prompt:           req.Prompt,
		Model:            req.Model,
		MediaType:        req.MediaType,
		Status:           domain.GenerationPending,
		TaskID:           taskID,
		CreditsUsed:      ch.cost,
		ProviderEndpoint: desc.Endpoint,
	}
	if err := o.insertGeneration(ctx, gen); err != nil {
		o.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("dispatch: persist pending generation failed")
	}
	em.Emit(event, map[string]any{"task_id": taskID, "generation_id": gen.ID})
	return &Result{
		State:            StateTimedOutPending,
		TaskID:           taskID,
		Generation:       gen,
		CreditsUsed:      ch.cost,
		CreditsRemaining: ch.balance,
	}, nil
}

func (o *Orchestrator) insertGeneration(ctx context.Context, gen *domain.Generation) error {
	_, err := o.sql.Exec(ctx, sqlinline.QInsertGeneration,
		gen.ID,
		gen.UserID,
		gen.Prompt,
		gen.Model,
		string(gen.MediaType),
		string(gen.Status),
		gen.TaskID,
		gen.OutputURL,
		gen.CreditsUsed,
		gen.ProviderEndpoint,
		gen.ErrorMessage,
	)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
