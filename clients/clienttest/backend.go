// Package clienttest provides an in-memory clients.Backend for tests.
package clienttest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Backend records sent transactions and serves canned lookups.
type Backend struct {
	mu sync.Mutex

	chainID  *big.Int
	txs      map[common.Hash]*ethtypes.Transaction
	pending  map[common.Hash]bool
	receipts map[common.Hash]*ethtypes.Receipt
	nonces   map[common.Address]uint64

	// LookupErrs are returned, in order, by TransactionByHash before it
	// consults the stored transactions.
	LookupErrs []error
	Lookups    int

	// SendErrs are returned, in order, by SendTransaction.
	SendErrs []error
	Sent     []*ethtypes.Transaction

	// AutoMine stores a receipt with Mined status for every sent tx.
	AutoMine  bool
	MineFails bool

	// Call answers CallContract.
	Call func(msg ethereum.CallMsg) ([]byte, error)
}

// New returns a backend for chainID.
func New(chainID int64) *Backend {
	return &Backend{
		chainID:  big.NewInt(chainID),
		txs:      make(map[common.Hash]*ethtypes.Transaction),
		pending:  make(map[common.Hash]bool),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
		nonces:   make(map[common.Address]uint64),
		AutoMine: true,
	}
}

// Signer returns the signer matching the backend's chain.
func (b *Backend) Signer() ethtypes.Signer {
	return ethtypes.LatestSignerForChainID(b.chainID)
}

// Transfer signs a native transfer from key and stores it as mined (or pending).
func (b *Backend) Transfer(key *ecdsa.PrivateKey, to common.Address, value *big.Int, pending bool) (*ethtypes.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := crypto.PubkeyToAddress(key.PublicKey)
	tx := ethtypes.NewTransaction(b.nonces[from], to, value, 21000, big.NewInt(1_000_000_000), nil)
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(b.chainID), key)
	if err != nil {
		return nil, err
	}
	b.nonces[from]++
	b.txs[signed.Hash()] = signed
	if pending {
		b.pending[signed.Hash()] = true
	} else {
		b.receipts[signed.Hash()] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: signed.Hash()}
	}
	return signed, nil
}

// SetReceipt overrides the stored receipt for hash.
func (b *Backend) SetReceipt(hash common.Hash, r *ethtypes.Receipt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, hash)
	b.receipts[hash] = r
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) TransactionByHash(_ context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Lookups++
	if len(b.LookupErrs) > 0 {
		err := b.LookupErrs[0]
		b.LookupErrs = b.LookupErrs[1:]
		if err != nil {
			return nil, false, err
		}
	}
	tx, ok := b.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, b.pending[hash], nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if b.Call == nil {
		return nil, ethereum.NotFound
	}
	return b.Call(msg)
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.SendErrs) > 0 {
		err := b.SendErrs[0]
		b.SendErrs = b.SendErrs[1:]
		if err != nil {
			return err
		}
	}

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return err
	}
	b.nonces[from] = tx.Nonce() + 1
	b.txs[tx.Hash()] = tx
	b.Sent = append(b.Sent, tx)

	if b.AutoMine {
		status := ethtypes.ReceiptStatusSuccessful
		if b.MineFails {
			status = ethtypes.ReceiptStatusFailed
		}
		b.receipts[tx.Hash()] = &ethtypes.Receipt{Status: status, TxHash: tx.Hash()}
	} else {
		b.pending[tx.Hash()] = true
	}
	return nil
}

// SentCount returns how many transactions were broadcast.
func (b *Backend) SentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Sent)
}
