// Package headerdownload defines the network-facing collaborators the
// Headers stage consumes: the request/response client, the status
// fire-and-forget sink, and the streaming downloader that turns the two
// into a descending sequence of validated headers. The actual P2P
// transport is out of scope — these are the typed seams a real devp2p (or
// test) implementation plugs into.
package headerdownload

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/gateway-fm/chainkit/types"
)

// Direction a GetHeaders request walks in.
type Direction int

const (
	Falling Direction = iota // descending, toward genesis
	Rising
)

// HeadersRequest carries a start point (by hash, since the downloader
// always walks backward from a known tip) and how many headers to return.
type HeadersRequest struct {
	StartHash types.Hash
	Limit     uint64
	Direction Direction
}

// PeerError classifies why a HeadersClient request failed. Errors wrapping
// ErrTimeout or ErrConnectionDropped are retried by the pipeline as
// Recoverable; the rest are fatal to that request, and the Headers stage
// still surfaces them to the pipeline as Recoverable (see headers.go).
var (
	ErrTimeout             = errors.New("header request timed out")
	ErrConnectionDropped   = errors.New("peer connection dropped")
	ErrUnsupportedCapability = errors.New("peer does not support this capability")
	ErrBadResponse         = errors.New("peer returned a malformed response")
	ErrChannelClosed       = errors.New("response channel closed")
)

// IsRetryable reports whether err (or something it wraps) is one of the
// two retryable PeerError sentinels.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionDropped)
}

// HeadersClient issues the request/response protocol against the network.
type HeadersClient interface {
	GetHeaders(ctx context.Context, req HeadersRequest) ([]*types.Header, error)
}

// StatusUpdater is a fire-and-forget sink for our own chain status.
type StatusUpdater interface {
	UpdateStatus(height uint64, hash types.Hash, td *uint256.Int)
}

// HeaderValidationError reports a header the downloader itself rejected
// (parent-hash mismatch, bad PoW, etc.) before ever handing it to the stage.
type HeaderValidationError struct {
	Hash  types.Hash
	Cause error
}

func (e *HeaderValidationError) Error() string {
	return fmt.Sprintf("header validation failed for %x: %v", e.Hash, e.Cause)
}
func (e *HeaderValidationError) Unwrap() error { return e.Cause }

// HeaderDownloader streams validated headers in strictly descending order
// from tip down to, but not including, head. The returned channel is closed
// when the range is exhausted; each element is a batch (so callers can
// chunk by commit threshold without buffering the whole range themselves)
// or an error terminating the stream.
type HeaderDownloader interface {
	Stream(ctx context.Context, head *types.Header, tip types.Hash, chunkSize int) <-chan HeaderChunk
}

type HeaderChunk struct {
	Headers []*types.Header
	Err     error
}
