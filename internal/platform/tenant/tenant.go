// Package tenant resolves which organization a request belongs to and carries
// the result through the request context.
package tenant

import (
	"context"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Blocked reports whether the subscription denies access.
func (s SubscriptionStatus) Blocked() bool {
	return s == SubscriptionSuspended || s == SubscriptionCancelled
}

// Organization is a hospital tenant. Read-only here.
type Organization struct {
	ID                 uuid.UUID          `db:"id" json:"id"`
	Subdomain          string             `db:"subdomain" json:"subdomain"`
	Name               string             `db:"name" json:"name"`
	IsActive           bool               `db:"is_active" json:"is_active"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	FeatureFlags       map[string]bool    `db:"feature_flags" json:"feature_flags,omitempty"`
}

// Code is the short uppercase alphanumeric code printed in visit and token
// numbers.
func (o *Organization) Code() string {
	var b strings.Builder
	for _, r := range o.Subdomain {
		if b.Len() == 6 {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() == 0 {
		return "ORG"
	}
	return b.String()
}

// Feature returns the organization's override for name, if any.
func (o *Organization) Feature(name string) (enabled, ok bool) {
	enabled, ok = o.FeatureFlags[name]
	return enabled, ok
}

// Source records which signal selected the tenant.
type Source string

const (
	SourceToken     Source = "token"
	SourceSubdomain Source = "subdomain"
	SourceHeader    Source = "header"
	SourceQuery     Source = "query"
	SourceDefault   Source = "default"
)

// RequestContext is built once per request by the resolver.
type RequestContext struct {
	Org    *Organization
	UserID string
	Role   string
	Source Source
}

// TenantID is shorthand for rc.Org.ID.
func (rc RequestContext) TenantID() uuid.UUID {
	return rc.Org.ID
}

type ctxKey struct{}

func WithContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the resolved request context. ok is false when no
// tenant was resolved.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	return rc, ok && rc.Org != nil
}
