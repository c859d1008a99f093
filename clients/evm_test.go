package clients_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/clients/clienttest"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/types"
)

var payTo = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newClient(t *testing.T) (*clients.EVMClient, *clienttest.Backend) {
	t.Helper()
	b := clienttest.New(84532)
	c, err := clients.NewEVMClientWithBackend(context.Background(), types.NetworkBaseSepolia, b, logger.NoopLogger{})
	require.NoError(t, err)
	c.SetPollInterval(5 * time.Millisecond)
	return c, b
}

func TestNewEVMClientRejectsWrongChain(t *testing.T) {
	_, err := clients.NewEVMClientWithBackend(context.Background(), types.NetworkBase, clienttest.New(84532), nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestTransactionRecoversSender(t *testing.T) {
	c, b := newClient(t)
	key, _ := crypto.GenerateKey()

	tx, err := b.Transfer(key, payTo, big.NewInt(42), false)
	require.NoError(t, err)

	got, err := c.Transaction(context.Background(), tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), got.From)
	assert.Equal(t, payTo, *got.To)
	assert.Equal(t, int64(42), got.Value.Int64())
	assert.False(t, got.Pending)
	assert.False(t, got.Failed)
}

func TestTransactionStates(t *testing.T) {
	c, b := newClient(t)
	key, _ := crypto.GenerateKey()

	pending, err := b.Transfer(key, payTo, big.NewInt(1), true)
	require.NoError(t, err)
	got, err := c.Transaction(context.Background(), pending.Hash().Hex())
	require.NoError(t, err)
	assert.True(t, got.Pending)

	failed, err := b.Transfer(key, payTo, big.NewInt(1), false)
	require.NoError(t, err)
	b.SetReceipt(failed.Hash(), &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed})
	got, err = c.Transaction(context.Background(), failed.Hash().Hex())
	require.NoError(t, err)
	assert.True(t, got.Failed)

	_, err = c.Transaction(context.Background(), common.Hash{0x01}.Hex())
	assert.True(t, errors.Is(err, clients.ErrTxNotFound))
}

func TestSendAndWaitMined(t *testing.T) {
	c, b := newClient(t)
	key, _ := crypto.GenerateKey()

	hash, err := c.Send(context.Background(), key, payTo, big.NewInt(7), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, b.SentCount())

	receipt, err := c.WaitMined(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)
}

func TestWaitMinedTimesOut(t *testing.T) {
	c, b := newClient(t)
	b.AutoMine = false
	key, _ := crypto.GenerateKey()

	hash, err := c.Send(context.Background(), key, payTo, big.NewInt(7), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.WaitMined(ctx, hash)
	assert.True(t, errors.Is(err, clients.ErrConfirmationTimeout))
}

func TestWaitMinedReverted(t *testing.T) {
	c, b := newClient(t)
	b.MineFails = true
	key, _ := crypto.GenerateKey()

	hash, err := c.Send(context.Background(), key, payTo, nil, nil)
	require.NoError(t, err)
	_, err = c.WaitMined(context.Background(), hash)
	assert.True(t, errors.Is(err, clients.ErrReverted))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, clients.IsTransient(clients.ErrTxNotFound))
	assert.True(t, clients.IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, clients.IsTransient(errors.Wrap(errors.New("429 Too Many Requests"), "rpc")))
	assert.False(t, clients.IsTransient(errors.New("invalid argument")))
	assert.False(t, clients.IsTransient(nil))
}
