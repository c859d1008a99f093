package ledger

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/clients/clienttest"
	"github.com/vitwit/paygate/types"
)

var registryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func newTestRegistry(t *testing.T) (*Registry, *clienttest.Backend) {
	t.Helper()
	b := clienttest.New(31337)
	c, err := clients.NewEVMClientWithBackend(context.Background(), types.NetworkLocal, b, nil)
	require.NoError(t, err)
	c.SetPollInterval(5 * time.Millisecond)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	r, err := NewRegistry(c, registryAddr.Hex(), key, nil)
	require.NoError(t, err)
	return r, b
}

func method(name string) []byte {
	return registryABI.Methods[name].ID
}

func TestRegistryGetContent(t *testing.T) {
	r, b := newTestRegistry(t)
	creatorAddr := common.HexToAddress(creator)

	b.Call = func(msg ethereum.CallMsg) ([]byte, error) {
		require.Equal(t, registryAddr, *msg.To)
		switch {
		case bytes.HasPrefix(msg.Data, method("getContent")):
			args, err := registryABI.Methods["getContent"].Inputs.Unpack(msg.Data[4:])
			require.NoError(t, err)
			if args[0].(*big.Int).Int64() != 7 {
				return registryABI.Methods["getContent"].Outputs.Pack(common.Address{}, "", "", big.NewInt(0), big.NewInt(0), false)
			}
			return registryABI.Methods["getContent"].Outputs.Pack(creatorAddr, "bafymeta", "bafycontent", big.NewInt(1_000_000), big.NewInt(1_700_000_000), true)
		case bytes.HasPrefix(msg.Data, method("hasAccess")):
			return registryABI.Methods["hasAccess"].Outputs.Pack(true)
		case bytes.HasPrefix(msg.Data, method("getCreatorContents")):
			return registryABI.Methods["getCreatorContents"].Outputs.Pack([]*big.Int{big.NewInt(3), big.NewInt(7)})
		}
		return nil, ethereum.NotFound
	}

	ctx := context.Background()
	rec, err := r.GetContent(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, creatorAddr.Hex(), rec.Creator)
	assert.Equal(t, uint64(1_000_000), rec.PriceMinorUnits)
	assert.Equal(t, int64(1_700_000_000), rec.CreatedAt.Unix())
	assert.True(t, rec.Active)

	_, err = r.GetContent(ctx, "8")
	assert.True(t, types.IsKind(err, types.KindNotFound))

	_, err = r.GetContent(ctx, "abc")
	assert.True(t, types.IsKind(err, types.KindValidation))

	ok, err := r.HasAccess(ctx, "7", consumer)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := r.GetCreatorContents(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "7"}, ids)
}

func TestRegistryGrantAccessSendsSignedTx(t *testing.T) {
	r, b := newTestRegistry(t)
	ctx := context.Background()

	hash, err := r.GrantAccess(ctx, types.AccessGrant{ContentID: "7", Consumer: consumer, PaymentProofID: "0xproof"})
	require.NoError(t, err)
	require.Equal(t, 1, b.SentCount())

	tx := b.Sent[0]
	assert.Equal(t, registryAddr, *tx.To())
	assert.True(t, bytes.HasPrefix(tx.Data(), method("grantAccess")))

	args, err := registryABI.Methods["grantAccess"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(7), args[0].(*big.Int).Int64())
	assert.Equal(t, common.HexToAddress(consumer), args[1].(common.Address))
	assert.Equal(t, "0xproof", args[2].(string))

	from, err := ethtypes.Sender(b.Signer(), tx)
	require.NoError(t, err)
	assert.Equal(t, r.Operator(), from)

	conf, err := r.WaitForConfirmation(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, hash, conf.TxHash)
}

func TestRegistryRegisterReadsEventID(t *testing.T) {
	r, b := newTestRegistry(t)
	ctx := context.Background()

	hash, err := r.RegisterContent(ctx, r.Operator().Hex(), "bafymeta", "bafycontent", 1_000_000)
	require.NoError(t, err)

	b.SetReceipt(common.HexToHash(hash), &ethtypes.Receipt{
		Status: ethtypes.ReceiptStatusSuccessful,
		Logs: []*ethtypes.Log{{
			Address: registryAddr,
			Topics: []common.Hash{
				registryABI.Events["ContentRegistered"].ID,
				common.BigToHash(big.NewInt(12)),
				common.BytesToHash(r.Operator().Bytes()),
			},
		}},
	})

	conf, err := r.WaitForConfirmation(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "12", conf.ContentID)
}

func TestRegistryRejectsForeignCaller(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.UpdatePrice(context.Background(), consumer, "7", 1)
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestRegistryConfirmationTimeout(t *testing.T) {
	r, b := newTestRegistry(t)
	b.AutoMine = false

	hash, err := r.SetFacilitator(context.Background(), consumer)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.WaitForConfirmation(ctx, hash)
	assert.ErrorIs(t, err, clients.ErrConfirmationTimeout)
}
