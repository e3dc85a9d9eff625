package inbox

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fitdesk/leadcal/libs/db"
)

// Inbox records consumed event ids. Record reports false for an id it has seen before.
type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
}

// Memory remembers the most recent ids only; a redelivery older than its capacity is
// processed again, which the lead handlers tolerate.
type Memory struct {
	mu   sync.Mutex
	seen *lru.Cache[string, string]
}

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 10000
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, errors.Wrap(err, "create inbox cache")
	}
	return &Memory{seen: c}, nil
}

func (m *Memory) Record(_ context.Context, eventID string, eventType string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen.Contains(eventID) {
		return false, nil
	}
	m.seen.Add(eventID, eventType)
	return true, nil
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, errors.Wrapf(err, "record inbox event %s", eventID)
}
