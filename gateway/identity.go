package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

// DefaultIdentityWindow bounds how old a signed identity may be.
const DefaultIdentityWindow = 5 * time.Minute

// identity extracts the consumer address from the X-Consumer-* headers.
// It returns "" with a nil error when no identity was offered. A signature
// is only checked when signed is true.
func identity(r *http.Request, contentID string, signed bool, window time.Duration, now time.Time) (string, error) {
	addr := r.Header.Get(types.HeaderConsumerAddress)
	if addr == "" {
		return "", nil
	}
	if err := utils.ValidateAddress("consumer address", addr); err != nil {
		return "", err
	}
	if !signed {
		return common.HexToAddress(addr).Hex(), nil
	}

	sig := r.Header.Get(types.HeaderConsumerSignature)
	raw := r.Header.Get(types.HeaderConsumerTimestamp)
	if sig == "" || raw == "" {
		return "", invalidIdentity("signature and timestamp headers are required")
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", invalidIdentity("timestamp %q is not unix seconds", raw)
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > window || age < -window {
		return "", invalidIdentity("signature timestamp is outside the %s window", window)
	}

	ok, err := utils.VerifyPersonalMessage(utils.AccessMessage(contentID, addr, ts), sig, common.HexToAddress(addr))
	if err != nil {
		return "", invalidIdentity("malformed signature: %v", err)
	}
	if !ok {
		return "", invalidIdentity("signature does not match %s", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

func invalidIdentity(format string, args ...any) error {
	return types.NewError(types.KindValidation, types.ErrInvalidIdentity, format, args...)
}
