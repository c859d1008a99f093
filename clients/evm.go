package clients

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/types"
)

var _ ChainReader = (*EVMClient)(nil)

// DefaultPollInterval is how often receipts are polled while waiting.
const DefaultPollInterval = time.Second

// EVMClient provides the chain operations used by verification, the ledger
// and the client-side payment flow.
type EVMClient struct {
	network types.Network
	backend Backend
	chainID *big.Int
	signer  ethtypes.Signer
	poll    time.Duration
	log     logger.Logger
	closer  func()
}

// NewEVMClient dials rpcURL and checks that it serves network.
func NewEVMClient(ctx context.Context, network types.Network, rpcURL string, log logger.Logger) (*EVMClient, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "failed to connect to %s RPC", network)
	}

	c, err := NewEVMClientWithBackend(ctx, network, ec, log)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

// NewEVMClientWithBackend wraps an existing backend.
func NewEVMClientWithBackend(ctx context.Context, network types.Network, backend Backend, log logger.Logger) (*EVMClient, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "read chain id")
	}
	if want := network.ChainID(); want != nil && want.Cmp(chainID) != 0 {
		return nil, types.NewError(types.KindValidation, types.ErrUnsupportedNetwork,
			"rpc serves chain %s, network %s expects %s", chainID, network, want)
	}

	return &EVMClient{
		network: network,
		backend: backend,
		chainID: chainID,
		signer:  ethtypes.LatestSignerForChainID(chainID),
		poll:    DefaultPollInterval,
		log:     logger.Component(log, "evm"),
	}, nil
}

// SetPollInterval changes the receipt polling interval.
func (e *EVMClient) SetPollInterval(d time.Duration) {
	if d > 0 {
		e.poll = d
	}
}

func (e *EVMClient) Network() types.Network { return e.network }

func (e *EVMClient) ChainID() *big.Int { return new(big.Int).Set(e.chainID) }

func (e *EVMClient) Backend() Backend { return e.backend }

func (e *EVMClient) Close() {
	if e.closer != nil {
		e.closer()
	}
}

// Transaction fetches a transaction and its receipt status.
func (e *EVMClient) Transaction(ctx context.Context, hash string) (*Transaction, error) {
	h := common.HexToHash(hash)

	tx, pending, err := e.backend.TransactionByHash(ctx, h)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, errors.Wrapf(err, "fetch tx %s", hash)
	}

	from, err := ethtypes.Sender(e.signer, tx)
	if err != nil {
		return nil, errors.Wrap(err, "recover sender")
	}

	out := &Transaction{
		Hash:    tx.Hash().Hex(),
		From:    from,
		To:      tx.To(),
		Value:   tx.Value(),
		Pending: pending,
	}
	if pending {
		return out, nil
	}

	receipt, err := e.backend.TransactionReceipt(ctx, h)
	switch {
	case errors.Is(err, ethereum.NotFound):
		out.Pending = true
	case err != nil:
		return nil, errors.Wrapf(err, "fetch receipt %s", hash)
	default:
		out.Failed = receipt.Status != ethtypes.ReceiptStatusSuccessful
	}
	return out, nil
}

// WaitMined polls for the receipt of hash until ctx is done.
func (e *EVMClient) WaitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return receipt, ErrReverted
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.log.Debug("receipt lookup failed", map[string]any{"tx": hash.Hex(), "err": err})
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrConfirmationTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Call runs a read-only contract call at the latest block.
func (e *EVMClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return e.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// Send signs and broadcasts a legacy transaction from key.
func (e *EVMClient) Send(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pending nonce")
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "suggest gas price")
	}
	gasLimit, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "estimate gas")
	}

	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, e.signer, key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign tx")
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "send tx")
	}

	e.log.Info("transaction sent", map[string]any{
		"tx":    signed.Hash().Hex(),
		"from":  from.Hex(),
		"to":    to.Hex(),
		"nonce": nonce,
	})
	return signed.Hash(), nil
}
