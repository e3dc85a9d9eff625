package leads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrUnknownLead = errors.New("unknown lead")

// Lead is the subset of the CRM lead record copied onto appointments for display.
type Lead struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Directory interface {
	Lookup(ctx context.Context, leadID string) (Lead, error)
}

// Cache is an LRU projection of lead records. Entries come from lead.updated events (Put)
// or from read-through misses to the origin directory.
type Cache struct {
	origin Directory
	cache  *lru.Cache[string, Lead]
}

func NewCache(origin Directory, size int) (*Cache, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, Lead](size)
	if err != nil {
		return nil, errors.Wrap(err, "lead cache")
	}
	return &Cache{origin: origin, cache: c}, nil
}

func (c *Cache) Lookup(ctx context.Context, leadID string) (Lead, error) {
	if lead, ok := c.cache.Get(leadID); ok {
		return lead, nil
	}
	if c.origin == nil {
		return Lead{}, errors.Wrapf(ErrUnknownLead, "lead %s", leadID)
	}
	lead, err := c.origin.Lookup(ctx, leadID)
	if err != nil {
		return Lead{}, err
	}
	c.cache.Add(leadID, lead)
	return lead, nil
}

func (c *Cache) Put(lead Lead) {
	c.cache.Add(lead.ID, lead)
}

func (c *Cache) Invalidate(leadID string) {
	c.cache.Remove(leadID)
}

func (c *Cache) Len() int {
	return c.cache.Len()
}

// HTTPDirectory reads leads from the CRM API at GET {baseURL}/leads/{id}.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (d *HTTPDirectory) Lookup(ctx context.Context, leadID string) (Lead, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/leads/"+url.PathEscape(leadID), nil)
	if err != nil {
		return Lead{}, errors.Wrap(err, "build lead request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return Lead{}, errors.Wrapf(err, "lookup lead %s", leadID)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Lead{}, errors.Wrapf(ErrUnknownLead, "lead %s", leadID)
	case resp.StatusCode >= 300:
		return Lead{}, errors.Newf("lookup lead %s: status %d", leadID, resp.StatusCode)
	}

	var lead Lead
	if err := json.NewDecoder(resp.Body).Decode(&lead); err != nil {
		return Lead{}, errors.Wrapf(err, "decode lead %s", leadID)
	}
	if lead.ID == "" {
		lead.ID = leadID
	}
	return lead, nil
}
