// Package integration runs the Postgres repositories against a real database.
// Set HMS_TEST_DATABASE_URL to an empty scratch database, or HMS_TEST_DOCKER=1
// to start one with docker. Without either the suite is skipped.
package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/queue"
	"github.com/hms/hms/internal/domain/sequence"
	"github.com/hms/hms/internal/domain/visit"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/tenant"
	"github.com/hms/hms/migrations"
)

// pool is shared by every test in the package. Nil when the suite is skipped.
var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	url := os.Getenv("HMS_TEST_DATABASE_URL")
	cleanup := func() {}
	if url == "" && os.Getenv("HMS_TEST_DOCKER") == "1" {
		var err error
		url, cleanup, err = startDockerPostgres(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
			os.Exit(1)
		}
	}
	if url == "" {
		os.Exit(m.Run())
	}

	p, err := db.NewPool(ctx, db.PoolConfig{URL: url, MaxConns: 20, MinConns: 1})
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(p, migrations.FS).Up(ctx); err != nil {
		p.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	pool = p
	code := m.Run()
	p.Close()
	cleanup()
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if pool == nil {
		t.Skip("HMS_TEST_DATABASE_URL not set")
	}
}

// stack is the service graph the server builds, on the shared pool.
type stack struct {
	queue  *queue.Service
	visits *visit.Service
	alloc  *sequence.Allocator
}

func newStack() stack {
	logger := zerolog.Nop()
	tx := db.NewTxRunner(pool)
	q := queue.NewService(queue.NewRepo(pool), tx, nil, logger)
	alloc := sequence.NewAllocator(sequence.NewRepo(pool), time.UTC)
	return stack{
		queue:  q,
		visits: visit.NewService(visit.NewRepo(pool), q, alloc, tx, time.UTC, logger),
		alloc:  alloc,
	}
}

// createOrg inserts an organization with a unique subdomain.
func createOrg(t *testing.T, ctx context.Context, prefix string) *tenant.Organization {
	t.Helper()
	org := &tenant.Organization{
		Subdomain:          fmt.Sprintf("%s%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		IsActive:           true,
		SubscriptionStatus: tenant.SubscriptionActive,
	}
	org.Name = org.Subdomain
	err := pool.QueryRow(ctx,
		`INSERT INTO organizations (subdomain, name) VALUES ($1, $2) RETURNING id`,
		org.Subdomain, org.Name).Scan(&org.ID)
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}
	return org
}

func createPatient(t *testing.T, ctx context.Context, org *tenant.Organization, name string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := pool.QueryRow(ctx,
		`INSERT INTO patients (tenant_id, full_name) VALUES ($1, $2) RETURNING id`,
		org.ID, name).Scan(&id)
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return id
}

func createDoctor(t *testing.T, ctx context.Context, org *tenant.Organization, name string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := pool.QueryRow(ctx,
		`INSERT INTO users (tenant_id, full_name, email, role, specialization)
		 VALUES ($1, $2, $3, 'doctor', 'General Medicine') RETURNING id`,
		org.ID, name, uuid.NewString()+"@example.com").Scan(&id)
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return id
}

func rcFor(org *tenant.Organization) tenant.RequestContext {
	return tenant.RequestContext{Org: org, UserID: "integration", Role: "receptionist"}
}
