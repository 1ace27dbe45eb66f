package stagedsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/chainkit/kv"
	"github.com/gateway-fm/chainkit/stagedsync/stages"
	"github.com/gateway-fm/chainkit/turbo/consensus"
	"github.com/gateway-fm/chainkit/turbo/headerdownload"
	"github.com/gateway-fm/chainkit/types"
)

// flakyTimeoutDownloader fails with a retryable timeout on its first
// `failures` calls, then serves `headers` on every call after that —
// letting a test drive Sync.Run through more than one retry loop.
type flakyTimeoutDownloader struct {
	calls    int
	failures int
	headers  []*types.Header
}

func (f *flakyTimeoutDownloader) Stream(ctx context.Context, head *types.Header, tip types.Hash, chunkSize int) <-chan headerdownload.HeaderChunk {
	f.calls++
	ch := make(chan headerdownload.HeaderChunk, 1)
	if f.calls <= f.failures {
		ch <- headerdownload.HeaderChunk{Err: headerdownload.ErrTimeout}
	} else {
		ch <- headerdownload.HeaderChunk{Headers: f.headers}
	}
	close(ch)
	return ch
}

// Scenario 2 end to end: a recoverable error must not halt the pipeline or
// trigger any unwind — Run just retries the same stage until it succeeds.
func TestSyncRunRetriesRecoverableErrorThenSucceeds(t *testing.T) {
	old := recoverableRetryDelay
	recoverableRetryDelay = time.Millisecond
	defer func() { recoverableRetryDelay = old }()

	db := newTestDB(t)
	head := seedGenesisAndHead(t, db, 10)
	require.NoError(t, db.Update(context.Background(), func(tx kv.RwTx) error {
		return stages.SaveStageProgress(tx, stages.Headers, head.Number)
	}))
	newHeaders := chainFrom(head, 5)

	dl := &flakyTimeoutDownloader{failures: 2, headers: newHeaders}
	cons := newFakeConsensus()
	for i := 0; i < 3; i++ {
		cons.ch <- consensus.ForkchoiceState{HeadBlockHash: newHeaders[0].Hash()}
	}
	cfg := StageHeadersCfg(dl, cons, &fakeStatusUpdater{}, 1000, log.Root())
	stage := NewHeaderStage(cfg)

	s := New(db, []Stage{stage}, log.Root())
	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, 3, dl.calls, "two timeouts then one success")

	require.NoError(t, db.View(context.Background(), func(tx kv.Tx) error {
		progress, err := stages.GetStageProgress(tx, stages.Headers)
		require.NoError(t, err)
		require.Equal(t, head.Number+5, progress)
		return nil
	}))
}

// validationThenSuccessDownloader fails its first Stream call with a
// validation error and serves `headers` on every call after that.
type validationThenSuccessDownloader struct {
	calls    int
	failWith error
	headers  []*types.Header
}

func (f *validationThenSuccessDownloader) Stream(ctx context.Context, head *types.Header, tip types.Hash, chunkSize int) <-chan headerdownload.HeaderChunk {
	f.calls++
	ch := make(chan headerdownload.HeaderChunk, 1)
	if f.calls == 1 {
		ch <- headerdownload.HeaderChunk{Err: f.failWith}
	} else {
		ch <- headerdownload.HeaderChunk{Headers: f.headers}
	}
	close(ch)
	return ch
}

func buildHeaderChain(n uint64) []*types.Header {
	out := make([]*types.Header, n+1)
	parent := types.Hash{}
	for i := uint64(0); i <= n; i++ {
		h := &types.Header{ParentHash: parent, Number: i, Difficulty: uint256.NewInt(1)}
		out[i] = h
		parent = h.Hash()
	}
	return out
}

func reversedHeaders(hs []*types.Header) []*types.Header {
	out := make([]*types.Header, len(hs))
	for i, h := range hs {
		out[len(hs)-1-i] = h
	}
	return out
}

// Scenario 3 end to end: a validation error from the Headers stage must
// unwind every stage (Senders included, even though it never ran yet) back
// to Block-1, then resume forward execution from the first stage and reach
// a clean, fully-synced state.
func TestSyncRunUnwindsAllStagesOnValidationErrorAndResumes(t *testing.T) {
	db := newTestDB(t)
	headers := buildHeaderChain(54)

	require.NoError(t, db.Update(context.Background(), func(tx kv.RwTx) error {
		td := uint256.NewInt(0)
		for n := uint64(0); n <= 49; n++ {
			h := headers[n]
			hash := h.Hash()
			if err := tx.Put(kv.HeaderNumbers, hash[:], kv.EncodeBlockNumber(n)); err != nil {
				return err
			}
			if err := tx.Put(kv.Headers, kv.HeaderKey(n, hash), encodeHeader(h)); err != nil {
				return err
			}
			if err := tx.Put(kv.CanonicalHeaders, kv.EncodeBlockNumber(n), hash[:]); err != nil {
				return err
			}
			td = new(uint256.Int).Add(td, h.Difficulty)
			if err := tx.Put(kv.HeaderTD, kv.HeaderKey(n, hash), encodeTD(td)); err != nil {
				return err
			}
		}

		// Bodies and transactions for the whole range, including the blocks
		// that haven't been downloaded as headers yet — one tx per block,
		// so FirstTxIndex == block number.
		for n := uint64(0); n < uint64(len(headers)); n++ {
			hash := headers[n].Hash()
			body := types.BlockBody{FirstTxIndex: n, TxCount: 1}
			if err := tx.Put(kv.BlockBodies, kv.HeaderKey(n, hash), encodeBlockBody(body)); err != nil {
				return err
			}
			txn := &types.Transaction{Data: []byte{byte(n)}, V: uint256.NewInt(27), R: uint256.NewInt(1), S: uint256.NewInt(1)}
			if err := tx.Put(kv.Transactions, kv.EncodeTxIndex(n), encodeTransaction(txn)); err != nil {
				return err
			}
		}

		if err := stages.SaveStageProgress(tx, stages.Headers, 49); err != nil {
			return err
		}
		return stages.SaveStageProgress(tx, stages.Senders, 0)
	}))

	dl := &validationThenSuccessDownloader{
		failWith: &headerdownload.HeaderValidationError{Hash: types.Hash{0xaa}, Cause: errors.New("bad parent hash")},
		headers:  reversedHeaders(headers[49:55]),
	}
	cons := newFakeConsensus()
	cons.ch <- consensus.ForkchoiceState{HeadBlockHash: headers[54].Hash()}
	cons.ch <- consensus.ForkchoiceState{HeadBlockHash: headers[54].Hash()}
	headerCfg := StageHeadersCfg(dl, cons, &fakeStatusUpdater{}, 1000, log.Root())
	headerStage := NewHeaderStage(headerCfg)
	sendersStage := NewSendersStage(StageSendersCfg(recoverByEchoingData, 1000, 1000, log.Root()))

	s := New(db, []Stage{headerStage, sendersStage}, log.Root())
	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, 2, dl.calls, "the first attempt fails validation, the restart succeeds")

	require.NoError(t, db.View(context.Background(), func(tx kv.Tx) error {
		headersProgress, err := stages.GetStageProgress(tx, stages.Headers)
		require.NoError(t, err)
		require.Equal(t, uint64(54), headersProgress)

		sendersProgress, err := stages.GetStageProgress(tx, stages.Senders)
		require.NoError(t, err)
		require.Equal(t, uint64(54), sendersProgress)

		hash, err := canonicalHash(tx, 49)
		require.NoError(t, err)
		require.Equal(t, headers[49].Hash(), *hash, "block 49 must be restored after the unwind-and-redownload round trip")

		for n := uint64(49); n <= 54; n++ {
			v, err := tx.GetOne(kv.TxSenders, kv.EncodeTxIndex(n))
			require.NoError(t, err)
			require.Equal(t, types.BytesToAddress([]byte{byte(n)}).Bytes(), v)
		}
		return nil
	}))
}
