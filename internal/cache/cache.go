package cache

import (
	"context"
	"time"

	"saldopos/backend/internal/domain"
)

// SettingsCache fronts the AppSettings row (global discount). Purchases read
// settings on every request, so a short-TTL cache keeps the hot path off the
// database; updates must invalidate.
type SettingsCache interface {
	Get(ctx context.Context) (*domain.AppSettings, bool, error)
	Set(ctx context.Context, settings *domain.AppSettings, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSettingsCache struct{}

func (NoopSettingsCache) Get(_ context.Context) (*domain.AppSettings, bool, error) {
	return nil, false, nil
}

func (NoopSettingsCache) Set(_ context.Context, _ *domain.AppSettings, _ time.Duration) error {
	return nil
}

func (NoopSettingsCache) Invalidate(_ context.Context) error {
	return nil
}
