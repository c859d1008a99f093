package clients

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const erc20ABI = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"authorizationState","stateMutability":"view","inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

var parsedERC20 = mustABI(erc20ABI)

func mustABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return a
}

// ERC20 reads the EIP-3009 token state used by the facilitator precheck.
type ERC20 interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error)
}

type erc20Caller struct {
	client *EVMClient
	token  common.Address
}

// NewERC20 binds token on client.
func NewERC20(client *EVMClient, token string) ERC20 {
	return &erc20Caller{client: client, token: common.HexToAddress(token)}
}

func (e *erc20Caller) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := e.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("balanceOf: unexpected output")
	}
	return bal, nil
}

// AuthorizationState reports whether nonce was already used or cancelled.
func (e *erc20Caller) AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	out, err := e.call(ctx, "authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	used, ok := out[0].(bool)
	if !ok {
		return false, errors.New("authorizationState: unexpected output")
	}
	return used, nil
}

func (e *erc20Caller) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := parsedERC20.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	raw, err := e.client.Call(ctx, e.token, data)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}
	out, err := parsedERC20.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s: empty output", method)
	}
	return out, nil
}
