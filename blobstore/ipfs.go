package blobstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/pkg/errors"

	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/types"
)

var _ Store = (*IPFS)(nil)

// DefaultIPFSTimeout bounds a single add or cat against the IPFS API.
const DefaultIPFSTimeout = 120 * time.Second

// IPFS stores blobs on an IPFS node through its HTTP API. Added blobs are
// pinned by the node.
type IPFS struct {
	sh  *shell.Shell
	log logger.Logger
}

// NewIPFS connects to the node API at url, e.g. "localhost:5001".
func NewIPFS(url string, timeout time.Duration, log logger.Logger) *IPFS {
	sh := shell.NewShell(url)
	if timeout <= 0 {
		timeout = DefaultIPFSTimeout
	}
	sh.SetTimeout(timeout)
	return &IPFS{sh: sh, log: logger.Component(log, "ipfs")}
}

func (s *IPFS) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := time.Now()
	cid, err := s.sh.Add(bytes.NewReader(data))
	if err != nil {
		return "", types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "ipfs add")
	}
	s.log.Debug("blob stored", map[string]any{"cid": cid, "bytes": len(data), "took": time.Since(start).String()})
	return cid, nil
}

func (s *IPFS) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := s.sh.Cat(id)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrNotFound
		}
		return nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "ipfs cat %s", id)
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, MaxBlobSize+1))
	if err != nil {
		return nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "read %s", id)
	}
	if len(b) > MaxBlobSize {
		return nil, errors.Errorf("blob %s exceeds %d bytes", id, MaxBlobSize)
	}
	return b, nil
}

func (s *IPFS) Ping(context.Context) error {
	if !s.sh.IsUp() {
		return types.NewError(types.KindTransientNetwork, types.ErrNetworkError, "ipfs node unreachable")
	}
	return nil
}
