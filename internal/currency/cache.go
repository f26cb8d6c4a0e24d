package currency

import (
	"context"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) (*Snapshot, bool, error)
	Set(ctx context.Context, key string, snap *Snapshot, ttl time.Duration) error
}

type NoopCache struct{}

func (NoopCache) Get(_ context.Context, _ string) (*Snapshot, bool, error) {
	return nil, false, nil
}

func (NoopCache) Set(_ context.Context, _ string, _ *Snapshot, _ time.Duration) error {
	return nil
}
