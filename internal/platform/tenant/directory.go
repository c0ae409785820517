package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("organization not found")

// Directory looks organizations up by id or subdomain.
type Directory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	FindBySubdomain(ctx context.Context, subdomain string) (*Organization, error)
}

type pgDirectory struct {
	pool *pgxpool.Pool
}

func NewPGDirectory(pool *pgxpool.Pool) Directory {
	return &pgDirectory{pool: pool}
}

const orgCols = `id, subdomain, name, is_active, subscription_status, feature_flags`

func (d *pgDirectory) FindByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return d.scanOne(d.pool.QueryRow(ctx, `SELECT `+orgCols+` FROM organizations WHERE id = $1`, id))
}

func (d *pgDirectory) FindBySubdomain(ctx context.Context, subdomain string) (*Organization, error) {
	return d.scanOne(d.pool.QueryRow(ctx, `SELECT `+orgCols+` FROM organizations WHERE lower(subdomain) = lower($1)`, subdomain))
}

func (d *pgDirectory) scanOne(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Subdomain, &o.Name, &o.IsActive, &o.SubscriptionStatus, &o.FeatureFlags)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	return &o, nil
}

// CachedDirectory memoizes lookups for ttl. Misses are not cached.
type CachedDirectory struct {
	next Directory
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	byID  map[uuid.UUID]cacheEntry
	bySub map[string]cacheEntry
}

type cacheEntry struct {
	org     *Organization
	expires time.Time
}

func NewCachedDirectory(next Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		byID:  make(map[uuid.UUID]cacheEntry),
		bySub: make(map[string]cacheEntry),
	}
}

func (c *CachedDirectory) FindByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	c.mu.Lock()
	e, ok := c.byID[id]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.org, nil
	}

	org, err := c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(org)
	return org, nil
}

func (c *CachedDirectory) FindBySubdomain(ctx context.Context, subdomain string) (*Organization, error) {
	c.mu.Lock()
	e, ok := c.bySub[subdomain]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.org, nil
	}

	org, err := c.next.FindBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	c.store(org)
	c.mu.Lock()
	c.bySub[subdomain] = cacheEntry{org: org, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return org, nil
}

func (c *CachedDirectory) store(org *Organization) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cacheEntry{org: org, expires: c.now().Add(c.ttl)}
	c.byID[org.ID] = e
	c.bySub[org.Subdomain] = e
}
