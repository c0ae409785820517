package tenant

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	QueryTenantID  = "tenant_id"
)

type ResolverConfig struct {
	// DefaultTenant is an id or subdomain used when no signal is present.
	DefaultTenant string
	// BaseDomain, when set, is the domain tenant subdomains sit directly under.
	BaseDomain string
}

type Resolver struct {
	dir Directory
	cfg ResolverConfig
}

func NewResolver(dir Directory, cfg ResolverConfig) *Resolver {
	cfg.BaseDomain = strings.Trim(strings.ToLower(cfg.BaseDomain), ".")
	return &Resolver{dir: dir, cfg: cfg}
}

// Signals are the raw inputs a request offers, in the order they are tried.
type Signals struct {
	TokenTenant string
	Host        string
	Header      string
	Query       string
}

func SignalsFrom(c echo.Context) Signals {
	s := Signals{
		Host:   c.Request().Host,
		Header: strings.TrimSpace(c.Request().Header.Get(HeaderTenantID)),
		Query:  strings.TrimSpace(c.QueryParam(QueryTenantID)),
	}
	s.TokenTenant, _ = c.Get(auth.TenantClaimKey).(string)
	return s
}

// Resolve picks the first present signal, loads the organization and checks
// it may be served. The token's tenant wins over every other signal.
func (r *Resolver) Resolve(ctx context.Context, s Signals) (*Organization, Source, error) {
	ref, src := r.pick(s)
	if ref == "" {
		return nil, "", apperr.OrgRequired("organization context required")
	}

	org, err := r.lookup(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		if src == SourceDefault {
			return nil, "", apperr.OrgRequired("organization context required")
		}
		return nil, "", apperr.NotFound("organization %q not found", ref)
	}
	if err != nil {
		return nil, "", apperr.Internal(err, "tenant resolution failed")
	}

	if err := Check(org); err != nil {
		return nil, "", err
	}
	return org, src, nil
}

// Check enforces that an organization is active and its subscription allows access.
func Check(org *Organization) error {
	if !org.IsActive {
		return apperr.Forbidden("organization is inactive")
	}
	if org.SubscriptionStatus.Blocked() {
		return apperr.Forbidden("organization subscription is %s", org.SubscriptionStatus)
	}
	return nil
}

func (r *Resolver) pick(s Signals) (string, Source) {
	if s.TokenTenant != "" {
		return s.TokenTenant, SourceToken
	}
	if sub := Subdomain(s.Host, r.cfg.BaseDomain); sub != "" {
		return sub, SourceSubdomain
	}
	if s.Header != "" {
		return s.Header, SourceHeader
	}
	if s.Query != "" {
		return s.Query, SourceQuery
	}
	if r.cfg.DefaultTenant != "" {
		return r.cfg.DefaultTenant, SourceDefault
	}
	return "", ""
}

// lookup accepts an organization id or subdomain.
func (r *Resolver) lookup(ctx context.Context, ref string) (*Organization, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return r.dir.FindByID(ctx, id)
	}
	return r.dir.FindBySubdomain(ctx, strings.ToLower(ref))
}

// Subdomain extracts the tenant label from host. IP literals, localhost and
// "www" never name a tenant. Without a base domain the host needs at least
// three labels.
func Subdomain(host, baseDomain string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" || host == "localhost" || net.ParseIP(strings.Trim(host, "[]")) != nil {
		return ""
	}

	var sub string
	if baseDomain != "" {
		rest, ok := strings.CutSuffix(host, "."+baseDomain)
		if !ok || rest == "" || strings.Contains(rest, ".") {
			return ""
		}
		sub = rest
	} else {
		labels := strings.Split(host, ".")
		if len(labels) < 3 {
			return ""
		}
		sub = labels[0]
	}

	if sub == "www" {
		return ""
	}
	return sub
}

// Middleware resolves the tenant and stores a RequestContext on the request.
func (r *Resolver) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			org, src, err := r.Resolve(ctx, SignalsFrom(c))
			if err != nil {
				return err
			}

			rc := RequestContext{
				Org:    org,
				UserID: auth.UserIDFromContext(ctx),
				Role:   auth.PrimaryRole(auth.RolesFromContext(ctx)),
				Source: src,
			}
			c.SetRequest(c.Request().WithContext(WithContext(ctx, rc)))
			return next(c)
		}
	}
}

// MustFrom returns the request context set by Middleware. Handlers mounted
// outside the middleware get an OrgRequired error.
func MustFrom(c echo.Context) (RequestContext, error) {
	rc, ok := FromContext(c.Request().Context())
	if !ok {
		return RequestContext{}, apperr.OrgRequired("organization context required")
	}
	return rc, nil
}
