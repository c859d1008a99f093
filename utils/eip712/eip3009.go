// Package eip712 builds and verifies EIP-712 digests for EIP-3009
// TransferWithAuthorization messages.
package eip712

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the EIP-712 domain of an EIP-3009 token.
type Domain struct {
	Name              string   // e.g. "USDC"
	Version           string   // e.g. "2"
	ChainID           *big.Int // EIP-155 chain id
	VerifyingContract string   // token address
}

// Authorization is a TransferWithAuthorization message. Numeric fields are
// decimal strings and Nonce is 32-byte hex, as they travel over the wire.
type Authorization struct {
	From        string
	To          string
	Value       string
	ValidAfter  string
	ValidBefore string
	Nonce       string
}

var (
	transferAuthTypeHash = crypto.Keccak256Hash([]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))

	// ordering matters
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
)

// Helpers ---------------------------------------------------------------------

func keccakWords(parts ...[]byte) common.Hash {
	joined := make([]byte, 0, 32*len(parts))
	for _, p := range parts {
		joined = append(joined, p...)
	}
	return crypto.Keccak256Hash(joined)
}

func padLeft32(i *big.Int) []byte {
	return common.LeftPadBytes(i.Bytes(), 32)
}

func addressTo32(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func parseUint(name, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return nil, fmt.Errorf("%s: invalid uint256 %q", name, s)
	}
	return n, nil
}

// HexToBytes32 converts a 32-byte hex string (with or without 0x) to an array.
func HexToBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return out, fmt.Errorf("nonce: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("nonce must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// RandomNonce returns a fresh 32-byte nonce as 0x-prefixed hex.
func RandomNonce() (string, error) {
	var n [32]byte
	if _, err := rand.Read(n[:]); err != nil {
		return "", err
	}
	return hexutil.Encode(n[:]), nil
}

// DomainSeparator -------------------------------------------------------------

// DomainSeparator returns
// keccak256(abi.encode(domainTypeHash, keccak256(name), keccak256(version), chainId, verifyingContract)).
func DomainSeparator(d Domain) (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainID == nil || !common.IsHexAddress(d.VerifyingContract) {
		return common.Hash{}, errors.New("incomplete eip712 domain")
	}

	return keccakWords(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		padLeft32(d.ChainID),
		addressTo32(common.HexToAddress(d.VerifyingContract)),
	), nil
}

// HashTransferWithAuthorization returns the EIP-712 struct hash of the message.
func HashTransferWithAuthorization(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	return keccakWords(
		transferAuthTypeHash.Bytes(),
		addressTo32(from),
		addressTo32(to),
		padLeft32(value),
		padLeft32(validAfter),
		padLeft32(validBefore),
		nonce[:],
	)
}

// TypedDataHash returns keccak256("\x19\x01" || domainSeparator || structHash).
func TypedDataHash(domainSeparator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes())
}

// Digest builds the digest a wallet signs for auth under domain.
func Digest(domain Domain, auth Authorization) (common.Hash, error) {
	sep, err := DomainSeparator(domain)
	if err != nil {
		return common.Hash{}, err
	}
	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return common.Hash{}, errors.New("authorization from/to must be hex addresses")
	}

	value, err := parseUint("value", auth.Value)
	if err != nil {
		return common.Hash{}, err
	}
	validAfter, err := parseUint("validAfter", auth.ValidAfter)
	if err != nil {
		return common.Hash{}, err
	}
	validBefore, err := parseUint("validBefore", auth.ValidBefore)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return common.Hash{}, err
	}

	structHash := HashTransferWithAuthorization(
		common.HexToAddress(auth.From), common.HexToAddress(auth.To),
		value, validAfter, validBefore, nonce,
	)
	return TypedDataHash(sep, structHash), nil
}

// Sign signs digest and returns a 65-byte R||S||V signature with V in {27,28}.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner recovers the address that signed digest.
// sig must be 65 bytes (R||S||V); V may be 0/1 or 27/28.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}

	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("sig to pub failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifyAuthorization checks that sigHex over auth under domain was produced by auth.From.
func VerifyAuthorization(domain Domain, auth Authorization, sigHex string) error {
	digest, err := Digest(domain, auth)
	if err != nil {
		return err
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return err
	}
	if signer != common.HexToAddress(auth.From) {
		return fmt.Errorf("signature recovers %s, expected %s", signer.Hex(), auth.From)
	}
	return nil
}
