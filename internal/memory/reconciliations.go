package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/efojunior25/payment-system/internal/domain"
)

// ReconciliationRepository implements domain.ReconciliationRepository in memory.
type ReconciliationRepository struct {
	mu      sync.Mutex
	records []domain.Reconciliation
}

// NewReconciliationRepository creates an empty ReconciliationRepository.
func NewReconciliationRepository() *ReconciliationRepository {
	return &ReconciliationRepository{}
}

// Create persists a new reconciliation record.
func (r *ReconciliationRepository) Create(_ context.Context, rec *domain.Reconciliation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

// ListOpen returns unresolved records, oldest first.
func (r *ReconciliationRepository) ListOpen(_ context.Context) ([]*domain.Reconciliation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	open := make([]*domain.Reconciliation, 0)
	for i := range r.records {
		if !r.records[i].Resolved {
			rec := r.records[i]
			open = append(open, &rec)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}
