package grant

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/vitwit/paygate/types"
)

// ProofBinder ties a payment proof to the single (content, consumer) pair it paid for.
type ProofBinder interface {
	// Bind records proofID for the pair. Binding the same pair again is a
	// no-op; binding a different pair fails with a PaymentVerification error.
	Bind(ctx context.Context, proofID, contentID, consumer string) error
}

func bindingValue(contentID, consumer string) string {
	return contentID + "|" + strings.ToLower(consumer)
}

func proofReused(proofID string) error {
	return types.NewError(types.KindPaymentVerification, types.ErrVerificationFailed,
		"payment proof %s was already used for another grant", proofID).
		WithData(map[string]string{"reason": types.ReasonProofReused, "proofId": proofID})
}

// MemoryBinder keeps bindings in process.
type MemoryBinder struct {
	mu    sync.Mutex
	bound map[string]string
}

func NewMemoryBinder() *MemoryBinder {
	return &MemoryBinder{bound: make(map[string]string)}
}

func (b *MemoryBinder) Bind(_ context.Context, proofID, contentID, consumer string) error {
	if proofID == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	want := bindingValue(contentID, consumer)
	key := strings.ToLower(proofID)
	if have, ok := b.bound[key]; ok && have != want {
		return proofReused(proofID)
	}
	b.bound[key] = want
	return nil
}

// ProofStore persists bindings; ledger.SQLite implements it.
type ProofStore interface {
	// BindProof stores binding for proofID if it has none and returns the
	// binding the proof holds afterwards.
	BindProof(ctx context.Context, proofID, binding string) (string, error)
}

// StoreBinder keeps bindings in a ProofStore so they survive restarts.
type StoreBinder struct {
	store ProofStore
}

func NewStoreBinder(store ProofStore) *StoreBinder {
	return &StoreBinder{store: store}
}

func (b *StoreBinder) Bind(ctx context.Context, proofID, contentID, consumer string) error {
	if proofID == "" {
		return nil
	}
	want := bindingValue(contentID, consumer)
	have, err := b.store.BindProof(ctx, strings.ToLower(proofID), want)
	if err != nil {
		return errors.Wrap(err, "bind proof")
	}
	if have != want {
		return proofReused(proofID)
	}
	return nil
}
