package publish

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paygate/blobstore"
	"github.com/vitwit/paygate/codec"
	"github.com/vitwit/paygate/grant"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

const creator = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"

func newPublisher(t *testing.T, l ledger.Gateway, opts ...Option) (*Publisher, *blobstore.Memory) {
	t.Helper()
	blobs := blobstore.NewMemory()
	p, err := New(l, blobs, creator, opts...)
	require.NoError(t, err)
	return p, blobs
}

func TestPublishRoundTrip(t *testing.T) {
	l := ledger.NewMemory()
	p, blobs := newPublisher(t, l, WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	ctx := context.Background()

	res, err := p.Publish(ctx, strings.NewReader("chapter one"), Item{Title: "Novel", MimeType: "text/plain"}, 1_500_000)
	require.NoError(t, err)
	assert.Equal(t, "1", res.ContentID)

	rec, err := l.GetContent(ctx, res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, creator, rec.Creator)
	assert.Equal(t, uint64(1_500_000), rec.PriceMinorUnits)
	assert.Equal(t, res.ContentBlobID, rec.ContentBlobID)
	assert.Equal(t, res.MetadataBlobID, rec.MetadataBlobID)

	raw, err := blobs.Get(ctx, res.MetadataBlobID)
	require.NoError(t, err)
	meta, err := utils.ParseContentMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, "Novel", meta.Title)
	assert.Equal(t, types.EncryptionAlgorithm, meta.EncryptionAlgorithm)
	assert.Equal(t, int64(1_700_000_000), meta.CreatedAt)

	key, err := codec.DecodeKey(meta.EncryptedKeyBlob)
	require.NoError(t, err)
	blob, err := blobs.Get(ctx, res.ContentBlobID)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(blob, []byte("chapter one")))
	plain, err := codec.Decrypt(blob, key)
	require.NoError(t, err)
	assert.Equal(t, "chapter one", string(plain))

	ids, err := p.Contents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)
}

func TestPublishRejectsBadInput(t *testing.T) {
	l := ledger.NewMemory()
	p, blobs := newPublisher(t, l)
	ctx := context.Background()

	_, err := p.Publish(ctx, strings.NewReader("x"), Item{Title: "t"}, 0)
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = p.Publish(ctx, strings.NewReader("x"), Item{}, 10)
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = p.Publish(ctx, strings.NewReader(""), Item{Title: "t"}, 10)
	assert.True(t, types.IsKind(err, types.KindValidation))

	assert.Equal(t, 0, blobs.Len())

	_, err = New(l, blobs, "not-an-address")
	assert.Error(t, err)
}

type failingStore struct{ blobstore.Store }

func (failingStore) Put(context.Context, []byte) (string, error) { return "", assert.AnError }

func TestPublishStoreFailureSkipsRegistration(t *testing.T) {
	l := ledger.NewMemory()
	p, err := New(l, failingStore{blobstore.NewMemory()}, creator)
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), strings.NewReader("x"), Item{Title: "t"}, 10)
	assert.ErrorIs(t, err, assert.AnError)

	ids, err := l.GetCreatorContents(context.Background(), creator)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// stalled never confirms a write.
type stalled struct{ *ledger.Memory }

func (stalled) WaitForConfirmation(ctx context.Context, _ string) (*ledger.Confirmation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPublishConfirmationTimeout(t *testing.T) {
	p, _ := newPublisher(t, stalled{ledger.NewMemory()}, WithConfirmTimeout(10*time.Millisecond))

	_, err := p.Publish(context.Background(), strings.NewReader("x"), Item{Title: "t"}, 10)
	require.Error(t, err)
	assert.True(t, grant.IsConfirmationTimeout(err))
}

func TestUpdatePriceAndDeactivate(t *testing.T) {
	l := ledger.NewMemory()
	p, _ := newPublisher(t, l)
	ctx := context.Background()

	res, err := p.Publish(ctx, strings.NewReader("x"), Item{Title: "t"}, 10)
	require.NoError(t, err)

	_, err = p.UpdatePrice(ctx, res.ContentID, 25)
	require.NoError(t, err)
	_, err = p.UpdatePrice(ctx, res.ContentID, 0)
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = p.Deactivate(ctx, res.ContentID)
	require.NoError(t, err)
	rec, err := l.GetContent(ctx, res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), rec.PriceMinorUnits)
	assert.False(t, rec.Active)

	_, err = p.Activate(ctx, res.ContentID)
	require.NoError(t, err)
	rec, err = l.GetContent(ctx, res.ContentID)
	require.NoError(t, err)
	assert.True(t, rec.Active)

	other, err := New(l, blobstore.NewMemory(), "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb")
	require.NoError(t, err)
	_, err = other.Deactivate(ctx, res.ContentID)
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = p.Deactivate(ctx, "abc")
	assert.True(t, types.IsKind(err, types.KindValidation))
}
