// Package ledger is the system of record for content and access grants.
//
// Three backends implement Gateway: Registry talks to the on-chain content
// registry, SQLite keeps a local development ledger and Memory serves tests.
package ledger

import (
	"context"
	"crypto/rand"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vitwit/paygate/types"
)

// Gateway is the ledger surface used by the access gateway and publisher.
// Write methods return the hash of the submitted transaction; callers wait
// for it with WaitForConfirmation.
type Gateway interface {
	RegisterContent(ctx context.Context, caller, metadataBlobID, contentBlobID string, priceMinorUnits uint64) (string, error)
	GetContent(ctx context.Context, contentID string) (*types.ContentRecord, error)
	GetCreatorContents(ctx context.Context, creator string) ([]string, error)
	HasAccess(ctx context.Context, contentID, consumer string) (bool, error)
	GrantAccess(ctx context.Context, grant types.AccessGrant) (string, error)
	UpdatePrice(ctx context.Context, caller, contentID string, priceMinorUnits uint64) (string, error)
	SetActive(ctx context.Context, caller, contentID string, active bool) (string, error)
	SetFacilitator(ctx context.Context, facilitator string) (string, error)
	WaitForConfirmation(ctx context.Context, txHash string) (*Confirmation, error)
	Ping(ctx context.Context) error
}

// Confirmation describes a mined ledger write.
type Confirmation struct {
	TxHash string
	// ContentID is set when the transaction registered content.
	ContentID string
}

func notFound(contentID string) error {
	return types.NewError(types.KindNotFound, types.ErrContentNotFound, "content %s not found", contentID)
}

func notCreator(caller, contentID string) error {
	return types.NewError(types.KindValidation, types.ErrInvalidAddress, "%s is not the creator of content %s", caller, contentID)
}

func normalize(addr string) string {
	return strings.ToLower(addr)
}

// syntheticTxHash stands in for a transaction hash on local backends.
func syntheticTxHash() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return hexutil.Encode(b[:])
}
