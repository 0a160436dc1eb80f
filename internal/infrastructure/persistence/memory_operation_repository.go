package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/personal/interstitial-ad-coordinator/internal/domain/operation"
)

// DefaultMemoryCapacity bounds the in-memory history
const DefaultMemoryCapacity = 1000

// MemoryOperationRepository implements operation.Repository using in-memory
// storage. It keeps copies, so callers may keep mutating what they saved.
// Once capacity is reached the oldest operation is evicted.
type MemoryOperationRepository struct {
	operations map[string]*operation.Operation
	capacity   int
	mutex      sync.RWMutex
}

// NewMemoryOperationRepository creates a new in-memory operation repository
func NewMemoryOperationRepository(capacity int) *MemoryOperationRepository {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryOperationRepository{
		operations: make(map[string]*operation.Operation),
		capacity:   capacity,
	}
}

// Save inserts or updates an operation
func (r *MemoryOperationRepository) Save(ctx context.Context, op *operation.Operation) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := op.ID().String()
	if _, exists := r.operations[id]; !exists && len(r.operations) >= r.capacity {
		r.evictOldest()
	}

	r.operations[id] = op.Clone()
	return nil
}

// FindByID finds an operation by ID
func (r *MemoryOperationRepository) FindByID(ctx context.Context, id operation.ID) (*operation.Operation, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	op, exists := r.operations[id.String()]
	if !exists {
		return nil, operation.ErrOperationNotFound
	}

	return op.Clone(), nil
}

// FindRecent finds recent operations
func (r *MemoryOperationRepository) FindRecent(ctx context.Context, limit int) ([]*operation.Operation, error) {
	return r.find(limit, func(*operation.Operation) bool { return true }), nil
}

// FindByPlacement finds recent operations for one placement
func (r *MemoryOperationRepository) FindByPlacement(ctx context.Context, placementID string, limit int) ([]*operation.Operation, error) {
	return r.find(limit, func(op *operation.Operation) bool {
		return op.PlacementID() == placementID
	}), nil
}

func (r *MemoryOperationRepository) find(limit int, match func(*operation.Operation) bool) []*operation.Operation {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ops := make([]*operation.Operation, 0, len(r.operations))
	for _, op := range r.operations {
		if match(op) {
			ops = append(ops, op.Clone())
		}
	}

	// Most recent first
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].CreatedAt().After(ops[j].CreatedAt())
	})

	if limit > 0 && limit < len(ops) {
		ops = ops[:limit]
	}

	return ops
}

func (r *MemoryOperationRepository) evictOldest() {
	var oldest *operation.Operation
	for _, op := range r.operations {
		if oldest == nil || op.CreatedAt().Before(oldest.CreatedAt()) {
			oldest = op
		}
	}
	if oldest != nil {
		delete(r.operations, oldest.ID().String())
	}
}
