package payflow

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
	"github.com/vitwit/paygate/utils/eip712"
)

// Signer is the consumer's wallet.
type Signer interface {
	Address() common.Address
	// SignMessage returns an EIP-191 personal signature.
	SignMessage(ctx context.Context, message string) (string, error)
	// SignAuthorization returns a 65-byte EIP-712 signature over auth.
	SignAuthorization(ctx context.Context, domain eip712.Domain, auth eip712.Authorization) ([]byte, error)
	// SendNative broadcasts a native transfer and returns its hash.
	SendNative(ctx context.Context, to common.Address, value *big.Int) (common.Hash, error)
}

// KeySigner signs with a local private key. Native transfers need a chain client.
type KeySigner struct {
	key   *ecdsa.PrivateKey
	addr  common.Address
	chain *clients.EVMClient
}

var _ Signer = (*KeySigner)(nil)

func NewKeySigner(key *ecdsa.PrivateKey, chain *clients.EVMClient) *KeySigner {
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey), chain: chain}
}

func (s *KeySigner) Address() common.Address { return s.addr }

func (s *KeySigner) SignMessage(_ context.Context, message string) (string, error) {
	return utils.SignPersonalMessage(message, s.key)
}

func (s *KeySigner) SignAuthorization(_ context.Context, domain eip712.Domain, auth eip712.Authorization) ([]byte, error) {
	digest, err := eip712.Digest(domain, auth)
	if err != nil {
		return nil, types.WrapError(err, types.KindValidation, types.ErrInvalidPayload, "build authorization digest")
	}
	return eip712.Sign(digest, s.key)
}

func (s *KeySigner) SendNative(ctx context.Context, to common.Address, value *big.Int) (common.Hash, error) {
	if s.chain == nil {
		return common.Hash{}, types.NewError(types.KindInternal, types.ErrConfigError, "signer has no chain client for native transfers")
	}
	return s.chain.Send(ctx, s.key, to, value, nil)
}
