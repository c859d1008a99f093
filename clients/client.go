// Package clients wraps the EVM JSON-RPC calls paygate needs.
package clients

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Backend is the subset of *ethclient.Client used by paygate.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// ChainReader is what payment verification needs from the chain.
type ChainReader interface {
	Transaction(ctx context.Context, hash string) (*Transaction, error)
}

// Transaction is a decoded view of a native transfer.
type Transaction struct {
	Hash    string
	From    common.Address
	To      *common.Address
	Value   *big.Int
	Pending bool
	// Failed is true when the tx was mined with a reverted status.
	Failed bool
}
