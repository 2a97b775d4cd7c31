package dispatch

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"mediaforge/internal/credits"
	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/providers"
	"mediaforge/internal/providers/gateway"
	"mediaforge/internal/sqlinline"
)

const testUser = "7f3a2b10-9c21-4f4a-b3cb-02a9f3d3e001"

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type insertedGeneration struct {
	id        string
	userID    string
	model     string
	status    string
	taskID    string
	outputURL string
	credits   int
	endpoint  string
}

type stubStore struct {
	credits      map[string]int
	subscription map[string]bool
	generations  []insertedGeneration
}

func newStubStore(balance int, subscribed bool) *stubStore {
	return &stubStore{
		credits:      map[string]int{testUser: balance},
		subscription: map[string]bool{testUser: subscribed},
	}
}

func (s *stubStore) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	switch query {
	case sqlinline.QInsertGeneration:
		s.generations = append(s.generations, insertedGeneration{
			id:        args[0].(string),
			userID:    args[1].(string),
			model:     args[3].(string),
			status:    args[5].(string),
			taskID:    args[6].(string),
			outputURL: args[7].(string),
			credits:   args[8].(int),
			endpoint:  args[9].(string),
		})
		return pgconn.CommandTag{}, nil
	case sqlinline.QInsertCreditTransaction:
		return pgconn.CommandTag{}, nil
	}
	return pgconn.CommandTag{}, errors.New("unsupported exec")
}

func (s *stubStore) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unsupported query")
}

func (s *stubStore) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	switch query {
	case sqlinline.QSelectProfile:
		userID := args[0].(string)
		balance, ok := s.credits[userID]
		if !ok {
			return stubRow{}
		}
		return stubRow{scan: func(dest ...any) error {
			*dest[0].(*string) = userID
			*dest[1].(*int) = balance
			*dest[2].(*bool) = s.subscription[userID]
			*dest[3].(*time.Time) = time.Now()
			return nil
		}}
	case sqlinline.QUpdateProfileCredits:
		userID := args[0].(string)
		s.credits[userID] = args[1].(int)
		return stubRow{scan: func(dest ...any) error {
			*dest[0].(*int) = s.credits[userID]
			return nil
		}}
	case sqlinline.QAddProfileCredits:
		userID := args[0].(string)
		s.credits[userID] += args[1].(int)
		return stubRow{scan: func(dest ...any) error {
			*dest[0].(*int) = s.credits[userID]
			return nil
		}}
	}
	return stubRow{scan: func(dest ...any) error { return errors.New("unsupported query_row") }}
}

var _ infra.SQLExecutor = (*stubStore)(nil)

type stubKie struct {
	submitID   string
	submitErr  error
	submits    int
	lastBody   map[string]any
	polls      []providers.Poll
	pollErr    error
	pollCalls  int
	lastStatus string
}

func (s *stubKie) Submit(ctx context.Context, endpoint string, body map[string]any) (string, error) {
	s.submits++
	s.lastBody = body
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return s.submitID, nil
}

func (s *stubKie) Status(ctx context.Context, statusEndpoint, taskID string) (providers.Poll, error) {
	s.pollCalls++
	s.lastStatus = statusEndpoint
	if s.pollErr != nil {
		return providers.Poll{}, s.pollErr
	}
	if len(s.polls) == 0 {
		return providers.Poll{Status: providers.StatusRunning}, nil
	}
	next := s.polls[0]
	if len(s.polls) > 1 {
		s.polls = s.polls[1:]
	}
	return next, nil
}

type stubFal struct {
	submitID  string
	submits   int
	polls     []providers.Poll
	resultURL string
}

func (s *stubFal) Submit(ctx context.Context, modelPath string, body map[string]any) (string, error) {
	s.submits++
	return s.submitID, nil
}

func (s *stubFal) Status(ctx context.Context, modelPath, requestID string) (providers.Poll, error) {
	if len(s.polls) == 0 {
		return providers.Poll{Status: providers.StatusRunning}, nil
	}
	next := s.polls[0]
	if len(s.polls) > 1 {
		s.polls = s.polls[1:]
	}
	return next, nil
}

func (s *stubFal) Result(ctx context.Context, modelPath, requestID string) (string, error) {
	return s.resultURL, nil
}

type stubGateway struct {
	url   string
	err   error
	calls int
}

func (s *stubGateway) GenerateImage(ctx context.Context, req gateway.Request) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.url, nil
}

type captureEmitter struct {
	events []string
}

func (c *captureEmitter) Emit(event string, data map[string]any) {
	c.events = append(c.events, event)
}

func testOrchestrator(store *stubStore, k KieAPI, f FalAPI, g GatewayAPI) *Orchestrator {
	logger := infra.Logger(zerolog.New(io.Discard))
	if k == nil {
		k = &stubKie{submitID: "task-1"}
	}
	if f == nil {
		f = &stubFal{submitID: "req-1"}
	}
	if g == nil {
		g = &stubGateway{url: "https://cdn.example/out.png"}
	}
	return NewOrchestrator(Options{
		SQL:               store,
		Ledger:            credits.NewLedger(store, logger, false),
		Kie:               k,
		Fal:               f,
		Gateway:           g,
		Logger:            logger,
		ImagePollInterval: time.Millisecond,
		ImagePollAttempts: 3,
		PollInterval:      time.Millisecond,
	})
}

func imageRequest() domain.GenerationRequest {
	return domain.GenerationRequest{
		UserID:    testUser,
		MediaType: domain.MediaImage,
		Model:     "kie-flux-dev",
		Prompt:    "a red fox in the snow",
	}
}

func TestDispatchRejectsEmptyPrompt(t *testing.T) {
	store := newStubStore(10, false)
	o := testOrchestrator(store, nil, nil, nil)

	req := imageRequest()
	req.Prompt = "   "
	_, err := o.Dispatch(context.Background(), req, NopEmitter{})
	if !errors.Is(err, domain.ErrEmptyPrompt) {
		t.Fatalf("error = %v, want ErrEmptyPrompt", err)
	}
	if store.credits[testUser] != 10 {
		t.Fatalf("balance = %d, validation must not debit", store.credits[testUser])
	}
}

func TestDispatchRejectsUnknownModelBeforeDebit(t *testing.T) {
	store := newStubStore(10, false)
	k := &stubKie{submitID: "task-1"}
	o := testOrchestrator(store, k, nil, nil)

	req := imageRequest()
	req.Model = "totally-unknown-id"
	_, err := o.Dispatch(context.Background(), req, NopEmitter{})
	if !errors.Is(err, domain.ErrUnknownModel) {
		t.Fatalf("error = %v, want ErrUnknownModel", err)
	}
	if store.credits[testUser] != 10 {
		t.Fatalf("balance = %d, want untouched 10", store.credits[testUser])
	}
	if k.submits != 0 {
		t.Fatalf("provider must not be called for unknown models")
	}
}

func TestDispatchInsufficientCredits(t *testing.T) {
	store := newStubStore(0, false)
	k := &stubKie{submitID: "task-1"}
	o := testOrchestrator(store, k, nil, nil)

	req := imageRequest() // kie-flux-dev costs 2
	_, err := o.Dispatch(context.Background(), req, NopEmitter{})
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientCreditsError", err)
	}
	if insufficient.Required != 2 || insufficient.Available != 0 {
		t.Fatalf("payload = %+v, want required 2 available 0", insufficient)
	}
	if k.submits != 0 {
		t.Fatalf("no provider call expected")
	}
	if len(store.generations) != 0 {
		t.Fatalf("no generation record expected, got %#v", store.generations)
	}
}

func TestDispatchCompletedSynchronously(t *testing.T) {
	store := newStubStore(10, false)
	k := &stubKie{
		submitID: "task-9",
		polls: []providers.Poll{
			{Status: providers.StatusRunning},
			{Status: providers.StatusCompleted, OutputURL: "https://cdn.example/fox.png"},
		},
	}
	o := testOrchestrator(store, k, nil, nil)

	res, err := o.Dispatch(context.Background(), imageRequest(), NopEmitter{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("state = %q, want completed", res.State)
	}
	if res.OutputURL != "https://cdn.example/fox.png" {
		t.Fatalf("output url = %q", res.OutputURL)
	}
	if res.CreditsRemaining != 8 {
		t.Fatalf("credits remaining = %d, want 8", res.CreditsRemaining)
	}
	if len(store.generations) != 1 || store.generations[0].status != "completed" {
		t.Fatalf("generations = %#v", store.generations)
	}
	if store.generations[0].credits != 2 {
		t.Fatalf("credits_used = %d, want 2", store.generations[0].credits)
	}
}

func TestDispatchRefundsOnSubmitFailure(t *testing.T) {
	store := newStubStore(10, false)
	k := &stubKie{submitErr: errors.New("kie: status 502: upstream exploded")}
	o := testOrchestrator(store, k, nil, nil)

	_, err := o.Dispatch(context.Background(), imageRequest(), NopEmitter{})
	if err == nil {
		t.Fatal("expected error")
	}
	if store.credits[testUser] != 10 {
		t.Fatalf("balance = %d, want refunded 10", store.credits[testUser])
	}
	if len(store.generations) != 0 {
		t.Fatalf("failed submits must not persist generations, got %#v", store.generations)
	}
}

func TestDispatchRefundsOnProviderFailure(t *testing.T) {
	store := newStubStore(10, false)
	k := &stubKie{
		submitID: "task-9",
		polls:    []providers.Poll{{Status: providers.StatusFailed, Message: "content policy"}},
	}
	o := testOrchestrator(store, k, nil, nil)

	store.credits[testUser] = 20
	req := domain.GenerationRequest{
		UserID:    testUser,
		MediaType: domain.MediaVideo,
		Model:     "kie-runway-turbo",
		Prompt:    "pan across a valley",
	}
	_, err := o.Dispatch(context.Background(), req, NopEmitter{})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
	if store.credits[testUser] != 20 {
		t.Fatalf("balance = %d, want restored 20", store.credits[testUser])
	}
}

func TestDispatchTimeoutParksPendingWithoutRefund(t *testing.T) {
	store := newStubStore(10, false)
	k := &stubKie{submitID: "task-42"} // always running
	o := testOrchestrator(store, k, nil, nil)

	res, err := o.Dispatch(context.Background(), imageRequest(), NopEmitter{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.State != StateTimedOutPending {
		t.Fatalf("state = %q, want timed_out_pending", res.State)
	}
	if store.credits[testUser] != 8 {
		t.Fatalf("balance = %d, want 8: timeouts are not refunded", store.credits[testUser])
	}
	if len(store.generations) != 1 {
		t.Fatalf("generations = %#v", store.generations)
	}
	gen := store.generations[0]
	if gen.status != "pending" || gen.taskID != "task-42" {
		t.Fatalf("pending record = %#v", gen)
	}
}

func TestDispatchSubscriptionBypassesCredits(t *testing.T) {
	store := newStubStore(3, true)
	k := &stubKie{submitErr: errors.New("kie: status 500: boom")}
	o := testOrchestrator(store, k, nil, nil)

	_, err := o.Dispatch(context.Background(), imageRequest(), NopEmitter{})
	if err == nil {
		t.Fatal("expected submit error")
	}
	if store.credits[testUser] != 3 {
		t.Fatalf("balance = %d, subscription must leave credits untouched", store.credits[testUser])
	}
}

func TestDispatchBackgroundSkipsPolling(t *testing.T) {
	store := newStubStore(10, false)
	k := &stubKie{submitID: "task-7"}
	o := testOrchestrator(store, k, nil, nil)

	req := imageRequest()
	req.Background = true
	res, err := o.Dispatch(context.Background(), req, NopEmitter{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.State != StateTimedOutPending {
		t.Fatalf("state = %q", res.State)
	}
	if k.pollCalls != 0 {
		t.Fatalf("background mode must not poll, got %d calls", k.pollCalls)
	}
	if len(store.generations) != 1 || store.generations[0].status != "pending" {
		t.Fatalf("generations = %#v", store.generations)
	}
}

func TestDispatchNoRequestLevelDeduplication(t *testing.T) {
	store := newStubStore(10, false)
	k := &stubKie{
		submitID: "task-1",
		polls:    []providers.Poll{{Status: providers.StatusCompleted, OutputURL: "https://cdn.example/a.png"}},
	}
	o := testOrchestrator(store, k, nil, nil)

	req := imageRequest()
	if _, err := o.Dispatch(context.Background(), req, NopEmitter{}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if _, err := o.Dispatch(context.Background(), req, NopEmitter{}); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if k.submits != 2 {
		t.Fatalf("submits = %d, want two independent submissions", k.submits)
	}
	if store.credits[testUser] != 6 {
		t.Fatalf("balance = %d, want two independent debits (10-2-2)", store.credits[testUser])
	}
}

func TestDispatchGatewaySynchronousCompletion(t *testing.T) {
	store := newStubStore(10, false)
	g := &stubGateway{url: "https://cdn.example/gw.png"}
	o := testOrchestrator(store, nil, nil, g)

	req := imageRequest()
	req.Model = "gateway-gpt-image" // 8 credits
	res, err := o.Dispatch(context.Background(), req, NopEmitter{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.State != StateCompleted || res.OutputURL != "https://cdn.example/gw.png" {
		t.Fatalf("result = %+v", res)
	}
	if g.calls != 1 {
		t.Fatalf("gateway calls = %d", g.calls)
	}
	if store.credits[testUser] != 2 {
		t.Fatalf("balance = %d, want 2", store.credits[testUser])
	}
}

func TestDispatchGatewayNoImageRefunds(t *testing.T) {
	store := newStubStore(10, false)
	g := &stubGateway{err: gateway.ErrNoImage}
	o := testOrchestrator(store, nil, nil, g)

	req := imageRequest()
	req.Model = "gateway-gpt-image"
	_, err := o.Dispatch(context.Background(), req, NopEmitter{})
	if !errors.Is(err, gateway.ErrNoImage) {
		t.Fatalf("error = %v, want ErrNoImage", err)
	}
	if store.credits[testUser] != 10 {
		t.Fatalf("balance = %d, want refunded 10", store.credits[testUser])
	}
}

func TestDispatchFalFetchesResultAfterCompletion(t *testing.T) {
	store := newStubStore(10, false)
	f := &stubFal{
		submitID:  "req-5",
		polls:     []providers.Poll{{Status: providers.StatusCompleted}},
		resultURL: "https://cdn.example/fal.png",
	}
	o := testOrchestrator(store, nil, f, nil)

	req := imageRequest()
	req.Model = "fal-qwen-image"
	res, err := o.Dispatch(context.Background(), req, NopEmitter{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.OutputURL != "https://cdn.example/fal.png" {
		t.Fatalf("output url = %q", res.OutputURL)
	}
}

func TestDispatchEmitsProgressEvents(t *testing.T) {
	store := newStubStore(10, false)
	k := &stubKie{
		submitID: "task-1",
		polls: []providers.Poll{
			{Status: providers.StatusQueued},
			{Status: providers.StatusCompleted, OutputURL: "https://cdn.example/a.png"},
		},
	}
	o := testOrchestrator(store, k, nil, nil)

	em := &captureEmitter{}
	if _, err := o.Dispatch(context.Background(), imageRequest(), em); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	want := []string{"auth", "credits", "submitting", "queued", "processing", "complete"}
	if len(em.events) != len(want) {
		t.Fatalf("events = %v, want %v", em.events, want)
	}
	for i := range want {
		if em.events[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, em.events[i], want[i])
		}
	}
}
