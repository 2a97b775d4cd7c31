// Package credits implements the ledger operations around a generation:
// pre-debit, refund, and webhook-driven grants with duplicate detection.
package credits

import (
	"context"
	"fmt"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/sqlinline"
)

// Ledger mutates the profile balance and appends to the transaction log. It
// is a client of the profile store, not its owner: reads and writes are
// point operations keyed by user id.
type Ledger struct {
	sql         infra.SQLExecutor
	logger      infra.Logger
	atomicDebit bool
}

func NewLedger(sql infra.SQLExecutor, logger infra.Logger, atomicDebit bool) *Ledger {
	return &Ledger{sql: sql, logger: logger, atomicDebit: atomicDebit}
}

// Profile reads the current balance and subscription state.
func (l *Ledger) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := l.sql.QueryRow(ctx, sqlinline.QSelectProfile, userID)
	var p domain.Profile
	if err := row.Scan(&p.UserID, &p.Credits, &p.SubscriptionActive, &p.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("credits: load profile: %w", err)
	}
	return &p, nil
}

// Debit charges amount against the balance and logs a generation transaction
// keyed by referenceID.
//
// The default path is a read-modify-write: the caller's freshly read balance
// minus amount is written back, with no guard against a concurrent debit.
// With atomic debit enabled, a single conditional decrement replaces it and
// insufficient balance surfaces as ErrInsufficientCredits.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int, referenceID string) (int, error) {
	var newBalance int
	if l.atomicDebit {
		row := l.sql.QueryRow(ctx, sqlinline.QAtomicDebitCredits, userID, amount)
		if err := row.Scan(&newBalance); err != nil {
			if infra.IsNoRows(err) {
				return 0, domain.ErrInsufficientCredits
			}
			return 0, fmt.Errorf("credits: debit: %w", err)
		}
	} else {
		profile, err := l.Profile(ctx, userID)
		if err != nil {
			return 0, err
		}
		newBalance = profile.Credits - amount
		row := l.sql.QueryRow(ctx, sqlinline.QUpdateProfileCredits, userID, newBalance)
		if err := row.Scan(&newBalance); err != nil {
			return 0, fmt.Errorf("credits: debit: %w", err)
		}
	}
	l.logTransaction(ctx, userID, domain.TxGeneration, -amount, referenceID)
	return newBalance, nil
}

// Refund restores the balance captured before the debit. It writes the
// snapshot back rather than adding the amount: the only other mutation path
// for this user is another full generation call.
func (l *Ledger) Refund(ctx context.Context, userID string, snapshot, amount int, referenceID string) error {
	var balance int
	row := l.sql.QueryRow(ctx, sqlinline.QUpdateProfileCredits, userID, snapshot)
	if err := row.Scan(&balance); err != nil {
		return fmt.Errorf("credits: refund: %w", err)
	}
	l.logTransaction(ctx, userID, domain.TxRefund, amount, referenceID)
	return nil
}

// RefundAdd credits amount back additively. Used only by the completion
// poller, where the pre-debit snapshot is long gone.
func (l *Ledger) RefundAdd(ctx context.Context, userID string, amount int, referenceID string) error {
	var balance int
	row := l.sql.QueryRow(ctx, sqlinline.QAddProfileCredits, userID, amount)
	if err := row.Scan(&balance); err != nil {
		return fmt.Errorf("credits: refund: %w", err)
	}
	l.logTransaction(ctx, userID, domain.TxRefund, amount, referenceID)
	return nil
}

// GrantOnce credits a webhook-driven bonus at most once per referenceID.
// A duplicate reference is skipped silently, log only.
func (l *Ledger) GrantOnce(ctx context.Context, userID string, amount int, txType domain.CreditTransactionType, referenceID string) error {
	row := l.sql.QueryRow(ctx, sqlinline.QSelectCreditTransactionByReference, referenceID)
	var existingID string
	err := row.Scan(&existingID)
	if err == nil {
		l.logger.Info().Str("user_id", userID).Str("reference_id", referenceID).Msg("credits: duplicate grant skipped")
		return nil
	}
	if !infra.IsNoRows(err) {
		return fmt.Errorf("credits: check reference: %w", err)
	}

	var balance int
	row = l.sql.QueryRow(ctx, sqlinline.QAddProfileCredits, userID, amount)
	if err := row.Scan(&balance); err != nil {
		return fmt.Errorf("credits: grant: %w", err)
	}
	if _, err := l.sql.Exec(ctx, sqlinline.QInsertCreditTransaction, userID, string(txType), amount, referenceID); err != nil {
		return fmt.Errorf("credits: log grant: %w", err)
	}
	l.logger.Info().Str("user_id", userID).Int("amount", amount).Str("reference_id", referenceID).Msg("credits: granted")
	return nil
}

// logTransaction appends to the audit log. Failures are logged, not
// propagated: the balance mutation already happened.
func (l *Ledger) logTransaction(ctx context.Context, userID string, txType domain.CreditTransactionType, amount int, referenceID string) {
	if _, err := l.sql.Exec(ctx, sqlinline.QInsertCreditTransaction, userID, string(txType), amount, referenceID); err != nil {
		l.logger.Error().Err(err).Str("user_id", userID).Str("tx_type", string(txType)).Msg("credits: transaction log insert failed")
	}
}
