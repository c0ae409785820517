package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("queue item not found")
	ErrInvalidTransition = errors.New("invalid queue transition")
	// ErrNoneWaiting is returned by ClaimNext when no item was claimed.
	ErrNoneWaiting = errors.New("no waiting queue item")
	// ErrStateChanged is returned by a conditional update that matched no row.
	ErrStateChanged = errors.New("queue item state changed")
)

// ListFilter selects the active items of one stage.
type ListFilter struct {
	Stage Stage
	// DoctorID limits results to unassigned items and items assigned to it.
	DoctorID *uuid.UUID
}

// Repository stores queue items. Every method is scoped to tenantID in both
// the filter and the written row.
type Repository interface {
	Create(ctx context.Context, item *Item) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Item, error)
	// FindActive returns the waiting or called item for visit at stage.
	FindActive(ctx context.Context, tenantID, visitID uuid.UUID, stage Stage) (*Item, error)
	// ListActive returns waiting and called items in priority then arrival order.
	ListActive(ctx context.Context, tenantID uuid.UUID, f ListFilter) ([]*Item, error)
	ListByVisit(ctx context.Context, tenantID, visitID uuid.UUID) ([]*Item, error)
	// ClaimNext moves the best waiting item to called, assigning
	// f.DoctorID when set. It returns ErrNoneWaiting when nothing was claimed.
	ClaimNext(ctx context.Context, tenantID uuid.UUID, f ListFilter) (*Item, error)
	// Transition moves item id to `to` only while its status is one of from.
	// It returns ErrStateChanged when no row matched.
	Transition(ctx context.Context, tenantID, id uuid.UUID, from []Status, to Status) (*Item, error)
	// Retarget updates priority and assigned doctor of an active item.
	Retarget(ctx context.Context, tenantID, id uuid.UUID, priority Priority, doctorID *uuid.UUID) (*Item, error)
	// Reprioritize sets priority on every waiting item of a visit.
	Reprioritize(ctx context.Context, tenantID, visitID uuid.UUID, priority Priority) ([]*Item, error)
}
