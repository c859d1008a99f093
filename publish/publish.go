// Package publish encrypts content, stores it and registers it on the ledger.
package publish

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/vitwit/paygate/blobstore"
	"github.com/vitwit/paygate/codec"
	"github.com/vitwit/paygate/grant"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

// Item describes the content being published. It becomes the public part of
// the metadata document.
type Item struct {
	Title           string   `json:"title" validate:"required"`
	Description     string   `json:"description"`
	Category        string   `json:"category,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	MimeType        string   `json:"mimeType,omitempty"`
	FileName        string   `json:"fileName,omitempty"`
	ThumbnailBlobID string   `json:"thumbnailBlobId,omitempty"`
}

// Result identifies a registered item.
type Result struct {
	ContentID      string `json:"contentId"`
	ContentBlobID  string `json:"contentBlobId"`
	MetadataBlobID string `json:"metadataBlobId"`
	TxHash         string `json:"txHash"`
}

// Publisher acts for a single creator address.
type Publisher struct {
	ledger         ledger.Gateway
	blobs          blobstore.Store
	creator        string
	confirmTimeout time.Duration
	log            logger.Logger
	metrics        metrics.Recorder
	now            func() time.Time
}

type Option func(*Publisher)

func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) { p.log = logger.Component(l, "publish") }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(p *Publisher) { p.metrics = metrics.OrNoop(r) }
}

// WithConfirmTimeout bounds each wait for a ledger write.
func WithConfirmTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.confirmTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// New returns a publisher writing as creator.
func New(l ledger.Gateway, blobs blobstore.Store, creator string, opts ...Option) (*Publisher, error) {
	if err := utils.ValidateAddress("creator", creator); err != nil {
		return nil, err
	}
	p := &Publisher{
		ledger:         l,
		blobs:          blobs,
		creator:        creator,
		confirmTimeout: grant.PublishConfirmTimeout,
		log:            logger.NoopLogger{},
		metrics:        metrics.NoopRecorder{},
		now:            time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Creator returns the address items are registered under.
func (p *Publisher) Creator() string { return p.creator }

// Publish encrypts r under a fresh key and registers it at priceMinor. The
// key only leaves the process inside the metadata document.
func (p *Publisher) Publish(ctx context.Context, r io.Reader, item Item, priceMinor uint64) (*Result, error) {
	start := time.Now()
	res, err := p.publish(ctx, r, item, priceMinor)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	p.metrics.IncCounter(metrics.Publishes, map[string]string{"outcome": outcome})
	metrics.Since(p.metrics, metrics.Publishes, start, nil)
	return res, err
}

func (p *Publisher) publish(ctx context.Context, r io.Reader, item Item, priceMinor uint64) (*Result, error) {
	if priceMinor == 0 {
		return nil, types.NewError(types.KindValidation, types.ErrInvalidAmount, "price must be positive")
	}
	if err := utils.Validator().Struct(&item); err != nil {
		return nil, types.WrapError(err, types.KindValidation, types.ErrInvalidPayload, "invalid item")
	}

	plaintext, err := io.ReadAll(io.LimitReader(r, blobstore.MaxBlobSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read content")
	}
	if len(plaintext) == 0 {
		return nil, types.NewError(types.KindValidation, types.ErrInvalidPayload, "content is empty")
	}
	if len(plaintext) > blobstore.MaxBlobSize {
		return nil, types.NewError(types.KindValidation, types.ErrInvalidPayload, "content exceeds %d bytes", blobstore.MaxBlobSize)
	}

	key, err := codec.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer codec.Wipe(key)

	blob, err := codec.Encrypt(plaintext, key)
	codec.Wipe(plaintext)
	if err != nil {
		return nil, err
	}
	contentBlobID, err := p.blobs.Put(ctx, blob)
	if err != nil {
		return nil, errors.Wrap(err, "store content blob")
	}

	meta := types.ContentMetadata{
		Title:               item.Title,
		Description:         item.Description,
		Category:            item.Category,
		Tags:                item.Tags,
		ContentBlobID:       contentBlobID,
		ThumbnailBlobID:     item.ThumbnailBlobID,
		EncryptedKeyBlob:    codec.EncodeKey(key),
		EncryptionAlgorithm: codec.Algorithm,
		CreatorAddress:      p.creator,
		PriceMinorUnits:     priceMinor,
		MimeType:            item.MimeType,
		FileName:            item.FileName,
		CreatedAt:           p.now().Unix(),
	}
	if err := utils.Validator().Struct(&meta); err != nil {
		return nil, types.WrapError(err, types.KindInternal, types.ErrInternal, "metadata document")
	}
	metadataBlobID, err := blobstore.PutJSON(ctx, p.blobs, meta)
	if err != nil {
		return nil, errors.Wrap(err, "store metadata blob")
	}

	hash, err := p.ledger.RegisterContent(ctx, p.creator, metadataBlobID, contentBlobID, priceMinor)
	if err != nil {
		return nil, errors.Wrap(err, "register content")
	}
	conf, err := grant.Confirm(ctx, p.ledger, hash, p.confirmTimeout)
	if err != nil {
		return nil, err
	}
	if conf.ContentID == "" {
		return nil, types.NewError(types.KindInternal, types.ErrInternal, "registration %s did not report a content id", hash)
	}

	p.log.Info("content published", map[string]any{
		"content": conf.ContentID, "blob": contentBlobID, "metadata": metadataBlobID, "price": priceMinor, "tx": hash,
	})
	return &Result{
		ContentID:      conf.ContentID,
		ContentBlobID:  contentBlobID,
		MetadataBlobID: metadataBlobID,
		TxHash:         hash,
	}, nil
}

// UpdatePrice sets a new price for contentID and waits for the write.
func (p *Publisher) UpdatePrice(ctx context.Context, contentID string, priceMinor uint64) (string, error) {
	if err := utils.ValidateContentID(contentID); err != nil {
		return "", err
	}
	if priceMinor == 0 {
		return "", types.NewError(types.KindValidation, types.ErrInvalidAmount, "price must be positive")
	}
	hash, err := p.ledger.UpdatePrice(ctx, p.creator, contentID, priceMinor)
	if err != nil {
		return "", err
	}
	return p.confirm(ctx, hash, "price updated", map[string]any{"content": contentID, "price": priceMinor})
}

// Deactivate stops contentID from being sold. Existing grants keep working.
func (p *Publisher) Deactivate(ctx context.Context, contentID string) (string, error) {
	return p.setActive(ctx, contentID, false)
}

// Activate puts a deactivated item back on sale.
func (p *Publisher) Activate(ctx context.Context, contentID string) (string, error) {
	return p.setActive(ctx, contentID, true)
}

func (p *Publisher) setActive(ctx context.Context, contentID string, active bool) (string, error) {
	if err := utils.ValidateContentID(contentID); err != nil {
		return "", err
	}
	hash, err := p.ledger.SetActive(ctx, p.creator, contentID, active)
	if err != nil {
		return "", err
	}
	return p.confirm(ctx, hash, "content status changed", map[string]any{"content": contentID, "active": active})
}

// Contents lists the creator's content ids.
func (p *Publisher) Contents(ctx context.Context) ([]string, error) {
	return p.ledger.GetCreatorContents(ctx, p.creator)
}

func (p *Publisher) confirm(ctx context.Context, hash, msg string, fields map[string]any) (string, error) {
	if _, err := grant.Confirm(ctx, p.ledger, hash, p.confirmTimeout); err != nil {
		return "", err
	}
	fields["tx"] = hash
	p.log.Info(msg, fields)
	return hash, nil
}
