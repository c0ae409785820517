// Package events carries queue changes to live boards, optionally across
// instances through Redis pub/sub.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeEnqueued = "queue.enqueued"
	TypeCalled   = "queue.called"
	TypeServed   = "queue.served"
	TypeSkipped  = "queue.skipped"
	TypeUpdated  = "queue.updated"
)

// Event describes one queue item change.
type Event struct {
	Type        string     `json:"type"`
	TenantID    uuid.UUID  `json:"tenantId"`
	Stage       string     `json:"stage"`
	ItemID      uuid.UUID  `json:"itemId"`
	VisitID     uuid.UUID  `json:"visitId"`
	TokenNumber string     `json:"tokenNumber"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DoctorID    *uuid.UUID `json:"doctorId,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Topic is the board topic an event belongs to.
func (e Event) Topic() string {
	return Topic(e.TenantID, e.Stage)
}

func Topic(tenantID uuid.UUID, stage string) string {
	return "board:" + tenantID.String() + ":" + stage
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
