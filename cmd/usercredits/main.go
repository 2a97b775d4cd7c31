// usercredits is the support CLI for adjusting a user's balance or
// subscription flag directly, for refund escalations and manual grants.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/internal/infra"
	"mediaforge/internal/sqlinline"
)

func main() {
	var (
		idFlag           string
		addFlag          int
		subscriptionFlag string
	)

	flag.StringVar(&idFlag, "id", "", "user ID to update (UUID)")
	flag.IntVar(&addFlag, "add", 0, "credits to add to the current balance (may be negative)")
	flag.StringVar(&subscriptionFlag, "subscription", "", "set subscription_active (true or false); empty keeps current value")
	flag.Parse()

	userID := strings.TrimSpace(idFlag)
	if userID == "" {
		exitWithError(errors.New("-id is required"))
	}
	if _, err := uuid.Parse(userID); err != nil {
		exitWithError(fmt.Errorf("invalid user id: %w", err))
	}
	if addFlag == 0 && subscriptionFlag == "" {
		exitWithError(errors.New("nothing to do: pass -add and/or -subscription"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to create pool: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "usercredits").Logger()
	runner := infra.NewSQLRunner(pool, logger)

	if addFlag != 0 {
		var balance int
		row := runner.QueryRow(ctx, sqlinline.QAddProfileCredits, userID, addFlag)
		if err := row.Scan(&balance); err != nil {
			if infra.IsNoRows(err) {
				exitWithError(fmt.Errorf("no profile for user %s", userID))
			}
			exitWithError(fmt.Errorf("credit update failed: %w", err))
		}
		fmt.Printf("balance is now %d\n", balance)
	}

	if subscriptionFlag != "" {
		active, err := parseBoolFlag(subscriptionFlag)
		if err != nil {
			exitWithError(err)
		}
		var balance int
		var subscribed bool
		row := runner.QueryRow(ctx, sqlinline.QSetProfileSubscription, userID, active)
		if err := row.Scan(&balance, &subscribed); err != nil {
			if infra.IsNoRows(err) {
				exitWithError(fmt.Errorf("no profile for user %s", userID))
			}
			exitWithError(fmt.Errorf("subscription update failed: %w", err))
		}
		fmt.Printf("subscription_active is now %t (balance %d)\n", subscribed, balance)
	}
}

func parseBoolFlag(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid -subscription value %q", v)
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "usercredits: %v\n", err)
	os.Exit(1)
}
