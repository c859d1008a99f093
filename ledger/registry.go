package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/types"
)

var _ Gateway = (*Registry)(nil)

// RegistryABI is the interface of the on-chain content registry.
const RegistryABI = `[
 {"type":"function","name":"registerContent","stateMutability":"nonpayable","inputs":[{"name":"metadataCid","type":"string"},{"name":"contentCid","type":"string"},{"name":"price","type":"uint256"}],"outputs":[{"name":"contentId","type":"uint256"}]},
 {"type":"function","name":"getContent","stateMutability":"view","inputs":[{"name":"contentId","type":"uint256"}],"outputs":[{"name":"creator","type":"address"},{"name":"metadataCid","type":"string"},{"name":"contentCid","type":"string"},{"name":"price","type":"uint256"},{"name":"createdAt","type":"uint256"},{"name":"active","type":"bool"}]},
 {"type":"function","name":"getCreatorContents","stateMutability":"view","inputs":[{"name":"creator","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"hasAccess","stateMutability":"view","inputs":[{"name":"contentId","type":"uint256"},{"name":"consumer","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"grantAccess","stateMutability":"nonpayable","inputs":[{"name":"contentId","type":"uint256"},{"name":"consumer","type":"address"},{"name":"paymentProofId","type":"string"},{"name":"expiry","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"updatePrice","stateMutability":"nonpayable","inputs":[{"name":"contentId","type":"uint256"},{"name":"newPrice","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"setActive","stateMutability":"nonpayable","inputs":[{"name":"contentId","type":"uint256"},{"name":"active","type":"bool"}],"outputs":[]},
 {"type":"function","name":"setFacilitator","stateMutability":"nonpayable","inputs":[{"name":"facilitator","type":"address"}],"outputs":[]},
 {"type":"event","name":"ContentRegistered","anonymous":false,"inputs":[{"name":"contentId","type":"uint256","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"price","type":"uint256","indexed":false}]}
]`

var registryABI = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		panic(err)
	}
	return a
}()

// Registry drives the content registry contract. Writes are signed with the
// operator key, which must be the registry's facilitator for grantAccess.
type Registry struct {
	client  *clients.EVMClient
	address common.Address
	key     *ecdsa.PrivateKey
	from    common.Address
	log     logger.Logger
}

// NewRegistry binds the registry at address. key may be nil for a read-only registry.
func NewRegistry(client *clients.EVMClient, address string, key *ecdsa.PrivateKey, log logger.Logger) (*Registry, error) {
	if !common.IsHexAddress(address) {
		return nil, types.NewError(types.KindValidation, types.ErrConfigError, "registry address %q is invalid", address)
	}
	r := &Registry{
		client:  client,
		address: common.HexToAddress(address),
		key:     key,
		log:     logger.Component(log, "registry"),
	}
	if key != nil {
		r.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return r, nil
}

// Operator returns the address writes are sent from.
func (r *Registry) Operator() common.Address { return r.from }

func parseContentID(id string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(id, 10)
	if !ok || n.Sign() <= 0 {
		return nil, types.NewError(types.KindValidation, types.ErrInvalidContentID, "invalid content id %q", id)
	}
	return n, nil
}

func (r *Registry) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	raw, err := r.client.Call(ctx, r.address, data)
	if err != nil {
		return nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "registry %s", method)
	}
	out, err := registryABI.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	return out, nil
}

func (r *Registry) send(ctx context.Context, method string, args ...any) (string, error) {
	if r.key == nil {
		return "", types.NewError(types.KindInternal, types.ErrConfigError, "registry has no operator key for %s", method)
	}
	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return "", errors.Wrapf(err, "pack %s", method)
	}
	hash, err := r.client.Send(ctx, r.key, r.address, nil, data)
	if err != nil {
		return "", errors.Wrapf(err, "registry %s", method)
	}
	r.log.Debug("registry write submitted", map[string]any{"method": method, "tx": hash.Hex()})
	return hash.Hex(), nil
}

func (r *Registry) checkCaller(caller string) error {
	if caller != "" && !strings.EqualFold(caller, r.from.Hex()) {
		return types.NewError(types.KindValidation, types.ErrInvalidAddress,
			"caller %s does not match registry operator %s", caller, r.from.Hex())
	}
	return nil
}

func (r *Registry) RegisterContent(ctx context.Context, caller, metadataBlobID, contentBlobID string, price uint64) (string, error) {
	if err := r.checkCaller(caller); err != nil {
		return "", err
	}
	return r.send(ctx, "registerContent", metadataBlobID, contentBlobID, new(big.Int).SetUint64(price))
}

func (r *Registry) GetContent(ctx context.Context, contentID string) (*types.ContentRecord, error) {
	id, err := parseContentID(contentID)
	if err != nil {
		return nil, err
	}
	out, err := r.call(ctx, "getContent", id)
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, errors.Errorf("getContent: expected 6 outputs, got %d", len(out))
	}

	creator, _ := out[0].(common.Address)
	if creator == (common.Address{}) {
		return nil, notFound(contentID)
	}
	metadataCid, _ := out[1].(string)
	contentCid, _ := out[2].(string)
	price, _ := out[3].(*big.Int)
	createdAt, _ := out[4].(*big.Int)
	active, _ := out[5].(bool)
	if price == nil || !price.IsUint64() {
		return nil, errors.Errorf("getContent: price out of range")
	}

	rec := &types.ContentRecord{
		ID:              contentID,
		Creator:         creator.Hex(),
		MetadataBlobID:  metadataCid,
		ContentBlobID:   contentCid,
		PriceMinorUnits: price.Uint64(),
		Active:          active,
	}
	if createdAt != nil {
		rec.CreatedAt = time.Unix(createdAt.Int64(), 0).UTC()
	}
	return rec, nil
}

func (r *Registry) GetCreatorContents(ctx context.Context, creator string) ([]string, error) {
	out, err := r.call(ctx, "getCreatorContents", common.HexToAddress(creator))
	if err != nil {
		return nil, err
	}
	ids, _ := out[0].([]*big.Int)
	res := make([]string, len(ids))
	for i, id := range ids {
		res[i] = id.String()
	}
	return res, nil
}

func (r *Registry) HasAccess(ctx context.Context, contentID, consumer string) (bool, error) {
	id, err := parseContentID(contentID)
	if err != nil {
		return false, err
	}
	out, err := r.call(ctx, "hasAccess", id, common.HexToAddress(consumer))
	if err != nil {
		return false, err
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

func (r *Registry) GrantAccess(ctx context.Context, grant types.AccessGrant) (string, error) {
	id, err := parseContentID(grant.ContentID)
	if err != nil {
		return "", err
	}
	return r.send(ctx, "grantAccess", id, common.HexToAddress(grant.Consumer), grant.PaymentProofID, big.NewInt(grant.ExpiryTimestamp))
}

func (r *Registry) UpdatePrice(ctx context.Context, caller, contentID string, price uint64) (string, error) {
	if err := r.checkCaller(caller); err != nil {
		return "", err
	}
	id, err := parseContentID(contentID)
	if err != nil {
		return "", err
	}
	return r.send(ctx, "updatePrice", id, new(big.Int).SetUint64(price))
}

func (r *Registry) SetActive(ctx context.Context, caller, contentID string, active bool) (string, error) {
	if err := r.checkCaller(caller); err != nil {
		return "", err
	}
	id, err := parseContentID(contentID)
	if err != nil {
		return "", err
	}
	return r.send(ctx, "setActive", id, active)
}

func (r *Registry) SetFacilitator(ctx context.Context, facilitator string) (string, error) {
	if !common.IsHexAddress(facilitator) {
		return "", types.NewError(types.KindValidation, types.ErrInvalidAddress, "facilitator %q is invalid", facilitator)
	}
	return r.send(ctx, "setFacilitator", common.HexToAddress(facilitator))
}

// WaitForConfirmation blocks until txHash is mined or ctx ends. Registration
// receipts yield the new content id from the ContentRegistered event.
func (r *Registry) WaitForConfirmation(ctx context.Context, txHash string) (*Confirmation, error) {
	receipt, err := r.client.WaitMined(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, err
	}

	conf := &Confirmation{TxHash: txHash}
	event := registryABI.Events["ContentRegistered"]
	for _, l := range receipt.Logs {
		if l.Address != r.address || len(l.Topics) < 2 || l.Topics[0] != event.ID {
			continue
		}
		conf.ContentID = new(big.Int).SetBytes(l.Topics[1].Bytes()).String()
		break
	}
	return conf, nil
}

func (r *Registry) Ping(ctx context.Context) error {
	_, err := r.client.Backend().ChainID(ctx)
	return err
}
