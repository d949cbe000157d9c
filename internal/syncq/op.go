package syncq

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates file operations.
type Kind string

const (
	Upsert Kind = "upsert"
	Delete Kind = "delete"
)

// Status tracks an operation through the queue.
type Status string

const (
	Pending  Status = "pending"
	InFlight Status = "inflight"
	Done     Status = "done"
	Failed   Status = "failed"
)

// Operation is one pending file write or delete. At most one operation per
// RemotePath sits in the queue at a time; a newer one replaces it.
type Operation struct {
	ID         string
	Kind       Kind
	LocalPath  string
	RemotePath string
	Payload    []byte // Upsert only
	EnqueuedAt time.Time
	Status     Status
}

// NewUpsert builds a pending upsert carrying the file's full content.
func NewUpsert(localPath, remotePath string, payload []byte) Operation {
	return Operation{
		ID:         uuid.New().String()[:8],
		Kind:       Upsert,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		Status:     Pending,
	}
}

// NewDelete builds a pending delete.
func NewDelete(localPath, remotePath string) Operation {
	return Operation{
		ID:         uuid.New().String()[:8],
		Kind:       Delete,
		LocalPath:  localPath,
		RemotePath: remotePath,
		EnqueuedAt: time.Now(),
		Status:     Pending,
	}
}
