package ledger

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vitwit/paygate/types"
)

var _ Gateway = (*Memory)(nil)

type grantKey struct {
	contentID string
	consumer  string
}

// Memory is an in-process ledger.
type Memory struct {
	mu          sync.RWMutex
	nextID      uint64
	contents    map[string]*types.ContentRecord
	grants      map[grantKey]types.AccessGrant
	txs         map[string]Confirmation
	facilitator string
	now         func() time.Time

	// GrantHook, when set, runs before a grant is applied; a non-nil error
	// fails the write.
	GrantHook func(types.AccessGrant) error
	grantCalls int
}

func NewMemory() *Memory {
	return &Memory{
		nextID:   1,
		contents: make(map[string]*types.ContentRecord),
		grants:   make(map[grantKey]types.AccessGrant),
		txs:      make(map[string]Confirmation),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) record(c Confirmation) string {
	c.TxHash = syntheticTxHash()
	m.txs[c.TxHash] = c
	return c.TxHash
}

func (m *Memory) RegisterContent(_ context.Context, caller, metadataBlobID, contentBlobID string, price uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := strconv.FormatUint(m.nextID, 10)
	m.nextID++
	m.contents[id] = &types.ContentRecord{
		ID:              id,
		Creator:         caller,
		MetadataBlobID:  metadataBlobID,
		ContentBlobID:   contentBlobID,
		PriceMinorUnits: price,
		CreatedAt:       m.now().UTC(),
		Active:          true,
	}
	return m.record(Confirmation{ContentID: id}), nil
}

func (m *Memory) GetContent(_ context.Context, contentID string) (*types.ContentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contents[contentID]
	if !ok {
		return nil, notFound(contentID)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetCreatorContents(_ context.Context, creator string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []uint64
	for id, c := range m.contents {
		if normalize(c.Creator) == normalize(creator) {
			n, _ := strconv.ParseUint(id, 10, 64)
			ids = append(ids, n)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]string, len(ids))
	for i, n := range ids {
		out[i] = strconv.FormatUint(n, 10)
	}
	return out, nil
}

func (m *Memory) HasAccess(_ context.Context, contentID, consumer string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.grants[grantKey{contentID, normalize(consumer)}]
	if !ok {
		return false, nil
	}
	return g.Active(m.now()), nil
}

func (m *Memory) GrantAccess(_ context.Context, grant types.AccessGrant) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grantCalls++
	if m.GrantHook != nil {
		if err := m.GrantHook(grant); err != nil {
			return "", err
		}
	}
	if _, ok := m.contents[grant.ContentID]; !ok {
		return "", notFound(grant.ContentID)
	}

	grant.GrantedAt = m.now().UTC()
	m.grants[grantKey{grant.ContentID, normalize(grant.Consumer)}] = grant
	return m.record(Confirmation{}), nil
}

func (m *Memory) UpdatePrice(_ context.Context, caller, contentID string, price uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contents[contentID]
	if !ok {
		return "", notFound(contentID)
	}
	if normalize(c.Creator) != normalize(caller) {
		return "", notCreator(caller, contentID)
	}
	c.PriceMinorUnits = price
	return m.record(Confirmation{}), nil
}

func (m *Memory) SetActive(_ context.Context, caller, contentID string, active bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contents[contentID]
	if !ok {
		return "", notFound(contentID)
	}
	if normalize(c.Creator) != normalize(caller) {
		return "", notCreator(caller, contentID)
	}
	c.Active = active
	return m.record(Confirmation{}), nil
}

func (m *Memory) SetFacilitator(_ context.Context, facilitator string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facilitator = facilitator
	return m.record(Confirmation{}), nil
}

func (m *Memory) WaitForConfirmation(ctx context.Context, txHash string) (*Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.txs[txHash]
	if !ok {
		return nil, types.NewError(types.KindNotFound, types.ErrNetworkError, "unknown ledger transaction %s", txHash)
	}
	return &c, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Grant returns the stored grant for a pair.
func (m *Memory) Grant(contentID, consumer string) (types.AccessGrant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grants[grantKey{contentID, normalize(consumer)}]
	return g, ok
}

// GrantCount returns the number of distinct (content, consumer) grants.
func (m *Memory) GrantCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.grants)
}

// GrantCalls returns how many times GrantAccess was invoked.
func (m *Memory) GrantCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grantCalls
}

// Facilitator returns the configured facilitator address.
func (m *Memory) Facilitator() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.facilitator
}
