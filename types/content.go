package types

import "time"

// ContentRecord is the ledger's view of a published item. The ledger is the
// only source of truth for price and active status.
type ContentRecord struct {
	ID              string    `json:"id"`
	Creator         string    `json:"creator"`
	MetadataBlobID  string    `json:"metadataBlobId"`
	ContentBlobID   string    `json:"contentBlobId"`
	PriceMinorUnits uint64    `json:"priceMinorUnits"`
	CreatedAt       time.Time `json:"createdAt"`
	Active          bool      `json:"active"`
}

// AccessGrant records that Consumer may decrypt ContentID.
// ExpiryTimestamp is unix seconds; zero means it never expires.
type AccessGrant struct {
	ContentID       string    `json:"contentId"`
	Consumer        string    `json:"consumer"`
	PaymentProofID  string    `json:"paymentProofId"`
	GrantedAt       time.Time `json:"grantedAt"`
	ExpiryTimestamp int64     `json:"expiryTimestamp"`
}

// Active reports whether the grant is usable at now.
func (g *AccessGrant) Active(now time.Time) bool {
	return g.ExpiryTimestamp == 0 || g.ExpiryTimestamp > now.Unix()
}

// EncryptionAlgorithm is the only algorithm the metadata format declares.
const EncryptionAlgorithm = "AES-256-GCM"

// ContentMetadata is the JSON document stored next to an encrypted blob.
// PriceMinorUnits here is informational only.
type ContentMetadata struct {
	Title               string   `json:"title" validate:"required"`
	Description         string   `json:"description"`
	Category            string   `json:"category,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	ContentBlobID       string   `json:"contentBlobId" validate:"required"`
	ThumbnailBlobID     string   `json:"thumbnailBlobId,omitempty"`
	EncryptedKeyBlob    string   `json:"encryptedKeyBlob" validate:"required,base64"`
	EncryptionAlgorithm string   `json:"encryptionAlgorithm" validate:"required,eq=AES-256-GCM"`
	CreatorAddress      string   `json:"creatorAddress" validate:"required,eth_addr"`
	PriceMinorUnits     uint64   `json:"priceMinorUnits"`
	MimeType            string   `json:"mimeType,omitempty"`
	FileName            string   `json:"fileName,omitempty"`
	CreatedAt           int64    `json:"createdAt"`
}

// KeyResponse is returned once access is established.
type KeyResponse struct {
	Success       bool   `json:"success"`
	Key           string `json:"key"`
	ContentBlobID string `json:"contentBlobId"`
	SettledTxHash string `json:"settledTxHash,omitempty"`
	GrantTxHash   string `json:"grantTxHash,omitempty"`
}
