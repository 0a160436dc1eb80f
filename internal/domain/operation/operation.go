package operation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the caller request an operation records
type Kind string

const (
	KindLoad          Kind = "load"
	KindShow          Kind = "show"
	KindPreload       Kind = "preload"
	KindShowPreloaded Kind = "show_preloaded"
)

// ParseKind validates a kind name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindLoad, KindShow, KindPreload, KindShowPreloaded:
		return k, nil
	default:
		return "", ErrInvalidKind
	}
}

// Status represents where an operation is in its lifecycle
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusRejected Status = "rejected"
)

// ID is a value object for operation identification
type ID struct {
	value string
}

// NewID creates a new ID
func NewID() ID {
	return ID{value: uuid.New().String()}
}

// ParseID parses string to ID
func ParseID(id string) (ID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ID{}, err
	}
	return ID{value: id}, nil
}

// String returns string representation
func (id ID) String() string {
	return id.value
}

// Operation is the history record of one caller request to the coordinator
type Operation struct {
	id           ID
	kind         Kind
	placementID  string
	status       Status
	result       bool
	errorCode    string
	errorMessage string
	createdAt    time.Time
	completedAt  *time.Time
}

// New creates a pending operation
func New(kind Kind, placementID string) (*Operation, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(placementID) == "" {
		return nil, ErrInvalidPlacement
	}

	return &Operation{
		id:          NewID(),
		kind:        kind,
		placementID: placementID,
		status:      StatusPending,
		createdAt:   time.Now(),
	}, nil
}

// Reconstruct rebuilds an operation from persistence data
func Reconstruct(
	id ID,
	kind Kind,
	placementID string,
	status Status,
	result bool,
	errorCode, errorMessage string,
	createdAt time.Time,
	completedAt *time.Time,
) *Operation {
	return &Operation{
		id:           id,
		kind:         kind,
		placementID:  placementID,
		status:       status,
		result:       result,
		errorCode:    errorCode,
		errorMessage: errorMessage,
		createdAt:    createdAt,
		completedAt:  completedAt,
	}
}

// Getters
func (o *Operation) ID() ID                  { return o.id }
func (o *Operation) Kind() Kind              { return o.kind }
func (o *Operation) PlacementID() string     { return o.placementID }
func (o *Operation) Status() Status          { return o.status }
func (o *Operation) Result() bool            { return o.result }
func (o *Operation) ErrorCode() string       { return o.errorCode }
func (o *Operation) ErrorMessage() string    { return o.errorMessage }
func (o *Operation) CreatedAt() time.Time    { return o.createdAt }
func (o *Operation) CompletedAt() *time.Time { return o.completedAt }

// Resolve marks the operation successful with the value the caller received
func (o *Operation) Resolve(result bool) error {
	if o.status != StatusPending {
		return ErrAlreadyCompleted
	}

	now := time.Now()
	o.status = StatusResolved
	o.result = result
	o.completedAt = &now
	return nil
}

// Reject marks the operation failed
func (o *Operation) Reject(code, message string) error {
	if o.status != StatusPending {
		return ErrAlreadyCompleted
	}

	now := time.Now()
	o.status = StatusRejected
	o.errorCode = code
	o.errorMessage = message
	o.completedAt = &now
	return nil
}

// IsCompleted reports whether the operation has settled
func (o *Operation) IsCompleted() bool {
	return o.status != StatusPending
}

// Duration is the time from creation to completion, or until now if pending
func (o *Operation) Duration() time.Duration {
	if o.completedAt != nil {
		return o.completedAt.Sub(o.createdAt)
	}
	return time.Since(o.createdAt)
}

// Clone returns an independent copy
func (o *Operation) Clone() *Operation {
	c := *o
	if o.completedAt != nil {
		t := *o.completedAt
		c.completedAt = &t
	}
	return &c
}

// Repository defines the interface for operation persistence
type Repository interface {
	// Save inserts or updates an operation
	Save(ctx context.Context, op *Operation) error

	// FindByID finds an operation by ID
	FindByID(ctx context.Context, id ID) (*Operation, error)

	// FindRecent returns the most recent operations, newest first
	FindRecent(ctx context.Context, limit int) ([]*Operation, error)

	// FindByPlacement returns the most recent operations for a placement, newest first
	FindByPlacement(ctx context.Context, placementID string, limit int) ([]*Operation, error)
}
