// Package credentials persists provider API keys in the database so they can
// be rotated without a redeploy. Environment values always win; the store is
// the fallback.
package credentials

import (
	"context"
	"errors"
	"strings"

	"mediaforge/internal/infra"
	"mediaforge/internal/sqlinline"
)

const (
	ProviderKie     = "kie"
	ProviderFal     = "fal"
	ProviderGateway = "gateway"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Resolve returns envValue when set, otherwise the stored token for provider.
// An empty result means no key is configured anywhere.
func (s *Store) Resolve(ctx context.Context, provider, envValue string) (string, error) {
	if v := strings.TrimSpace(envValue); v != "" {
		return v, nil
	}
	return s.Token(ctx, provider)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credentials: token is required")
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token)
	return err
}
