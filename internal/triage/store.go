package triage

import "context"

// Store is the persistence interface for triage records.
type Store interface {
	Get(ctx context.Context, id string) (*Record, bool, error)
	Put(ctx context.Context, r *Record) error
	List(ctx context.Context, limit int) ([]*Record, error)
}

// Notifier is notified of completed runs that flagged a vulnerability.
type Notifier interface {
	Send(ctx context.Context, r *Record) error
}
