package grant

import (
	"context"
	"sync"
	"time"
)

// Pending is a verified payment whose grant write failed.
type Pending struct {
	ContentID string    `json:"contentId"`
	Consumer  string    `json:"consumer"`
	ProofID   string    `json:"proofId"`
	Expiry    int64     `json:"expiry,omitempty"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failedAt"`
}

// Reconciler queues paid but ungranted payments for an operator to replay.
type Reconciler interface {
	Push(ctx context.Context, p Pending) error
	// Pop removes and returns the oldest entry, or nil when the queue is empty.
	Pop(ctx context.Context) (*Pending, error)
	Len(ctx context.Context) (int, error)
}

// MemoryReconciler is a FIFO held in process.
type MemoryReconciler struct {
	mu    sync.Mutex
	items []Pending
}

func NewMemoryReconciler() *MemoryReconciler {
	return &MemoryReconciler{}
}

func (m *MemoryReconciler) Push(_ context.Context, p Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, p)
	return nil
}

func (m *MemoryReconciler) Pop(context.Context) (*Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil, nil
	}
	p := m.items[0]
	m.items = m.items[1:]
	return &p, nil
}

func (m *MemoryReconciler) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

// Items returns a snapshot of the queue.
func (m *MemoryReconciler) Items() []Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pending, len(m.items))
	copy(out, m.items)
	return out
}
