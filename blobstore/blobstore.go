// Package blobstore stores encrypted content and metadata documents by
// content identifier.
package blobstore

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/vitwit/paygate/types"
)

// MaxBlobSize bounds reads so a hostile store cannot exhaust memory.
const MaxBlobSize = 512 << 20

// ErrNotFound is returned when no blob exists under an id.
var ErrNotFound = errors.New("blob not found")

// Store puts and gets immutable blobs. Ids are content identifiers: the same
// bytes always map to the same id.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Ping(ctx context.Context) error
}

// PutJSON encodes v and stores it.
func PutJSON(ctx context.Context, s Store, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode json blob")
	}
	return s.Put(ctx, b)
}

// GetJSON fetches id and decodes it into v.
func GetJSON(ctx context.Context, s Store, id string, v any) error {
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(b, v), "decode json blob %s", id)
}

// GetMetadata fetches and validates a content metadata document.
func GetMetadata(ctx context.Context, s Store, id string) (*types.ContentMetadata, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var meta types.ContentMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, types.WrapError(err, types.KindInternal, types.ErrInternal, "content metadata %s is not JSON", id)
	}
	if meta.EncryptedKeyBlob == "" {
		return nil, types.NewError(types.KindInternal, types.ErrInternal, "content metadata %s carries no key", id)
	}
	return &meta, nil
}
