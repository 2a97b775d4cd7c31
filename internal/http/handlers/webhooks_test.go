package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"mediaforge/internal/credits"
	"mediaforge/internal/infra"
	"mediaforge/internal/sqlinline"
)

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// ledgerStore backs a real Ledger for webhook tests: one known reference id,
// one balance.
type ledgerStore struct {
	balance       int
	knownRef      string
	grantedAmount int
	txInserts     int
}

func (s *ledgerStore) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	if query == sqlinline.QInsertCreditTransaction {
		s.txInserts++
		return pgconn.CommandTag{}, nil
	}
	return pgconn.CommandTag{}, errors.New("unsupported exec")
}

func (s *ledgerStore) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unsupported query")
}

func (s *ledgerStore) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	switch query {
	case sqlinline.QSelectCreditTransactionByReference:
		ref := args[0].(string)
		if ref == s.knownRef {
			return scanFunc(func(dest ...any) error {
				*dest[0].(*string) = "existing-tx"
				return nil
			})
		}
		return scanFunc(func(dest ...any) error { return pgx.ErrNoRows })
	case sqlinline.QAddProfileCredits:
		s.grantedAmount += args[1].(int)
		s.balance += args[1].(int)
		return scanFunc(func(dest ...any) error {
			*dest[0].(*int) = s.balance
			return nil
		})
	}
	return scanFunc(func(dest ...any) error { return errors.New("unsupported query_row") })
}

func webhookApp(store *ledgerStore) *App {
	logger := infra.Logger(zerolog.New(io.Discard))
	return &App{
		Ledger: credits.NewLedger(store, logger, false),
		Logger: logger,
	}
}

func TestCreditsWebhookGrants(t *testing.T) {
	store := &ledgerStore{balance: 5}
	app := webhookApp(store)

	body := `{"user_id":"1b5e0a42-21a8-4a12-8aa5-111111111111","amount":100,"type":"subscription","reference_id":"inv-42"}`
	rr := httptest.NewRecorder()
	app.CreditsWebhook(rr, httptest.NewRequest(http.MethodPost, "/v1/webhooks/credits", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if store.grantedAmount != 100 {
		t.Fatalf("granted = %d, want 100", store.grantedAmount)
	}
	if store.txInserts != 1 {
		t.Fatalf("tx inserts = %d, want 1", store.txInserts)
	}
}

func TestCreditsWebhookDuplicateReferenceSkipped(t *testing.T) {
	store := &ledgerStore{balance: 5, knownRef: "inv-42"}
	app := webhookApp(store)

	body := `{"user_id":"1b5e0a42-21a8-4a12-8aa5-111111111111","amount":100,"type":"renewal","reference_id":"inv-42"}`
	rr := httptest.NewRecorder()
	app.CreditsWebhook(rr, httptest.NewRequest(http.MethodPost, "/v1/webhooks/credits", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if store.grantedAmount != 0 {
		t.Fatalf("granted = %d, duplicate must not credit", store.grantedAmount)
	}
}

func TestCreditsWebhookAlwaysAcknowledges(t *testing.T) {
	store := &ledgerStore{}
	app := webhookApp(store)

	rr := httptest.NewRecorder()
	app.CreditsWebhook(rr, httptest.NewRequest(http.MethodPost, "/v1/webhooks/credits", strings.NewReader(`not json`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, malformed payloads are still acknowledged", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"received":true`) {
		t.Fatalf("body = %q", rr.Body.String())
	}
}
