// Package storage defines persistence contracts for offline sync state.
package storage

import (
	"context"
	"time"
)

// Named records holding sync state.
const (
	QueueRecord = "offline_queue"
)

// RecordStore persists named JSON documents: the queue and the mirrors.
type RecordStore interface {
	// GetRecord returns the stored document, or found=false when absent.
	GetRecord(ctx context.Context, name string) (data []byte, found bool, err error)
	PutRecord(ctx context.Context, name string, data []byte) error
}

// Replay outcomes recorded in the attempt ledger.
const (
	OutcomeApplied = "applied"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

// AttemptRecord is one durable replay outcome.
type AttemptRecord struct {
	ID         int64     `json:"id"`
	ActionID   string    `json:"action_id"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AttemptStore persists replay attempt records.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt AttemptRecord) error
	ListAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
}
