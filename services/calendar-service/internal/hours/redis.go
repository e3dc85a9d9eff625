package hours

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisProvider reads per-owner overrides stored as JSON under <prefix>:<ownerID>,
// written by the CRM settings screen. Missing keys and Redis errors fall back.
type RedisProvider struct {
	rdb      redis.Cmdable
	prefix   string
	fallback Provider
	logger   *slog.Logger
}

func NewRedisProvider(rdb redis.Cmdable, prefix string, fallback Provider, logger *slog.Logger) *RedisProvider {
	if prefix == "" {
		prefix = "leadcal:hours"
	}
	return &RedisProvider{rdb: rdb, prefix: prefix, fallback: fallback, logger: logger}
}

func (p *RedisProvider) WorkingHours(ctx context.Context, ownerID string) (WorkingHours, error) {
	raw, err := p.rdb.Get(ctx, p.prefix+":"+ownerID).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return p.fallback.WorkingHours(ctx, ownerID)
	case err != nil:
		p.logger.Warn("working hours lookup failed; using fallback", "owner_id", ownerID, "err", err)
		return p.fallback.WorkingHours(ctx, ownerID)
	}

	var wh WorkingHours
	if err := json.Unmarshal(raw, &wh); err != nil {
		p.logger.Warn("invalid working hours override", "owner_id", ownerID, "err", err)
		return p.fallback.WorkingHours(ctx, ownerID)
	}
	if err := wh.Validate(); err != nil {
		p.logger.Warn("invalid working hours override", "owner_id", ownerID, "err", err)
		return p.fallback.WorkingHours(ctx, ownerID)
	}
	return wh, nil
}

// Save stores an override for ownerID.
func (p *RedisProvider) Save(ctx context.Context, ownerID string, wh WorkingHours) error {
	if err := wh.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(wh)
	if err != nil {
		return errors.Wrap(err, "marshal working hours")
	}
	return errors.Wrap(p.rdb.Set(ctx, p.prefix+":"+ownerID, raw, 0).Err(), "save working hours")
}
