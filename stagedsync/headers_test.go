package stagedsync

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/chainkit/kv"
	"github.com/gateway-fm/chainkit/kv/memdb"
	"github.com/gateway-fm/chainkit/stagedsync/stages"
	"github.com/gateway-fm/chainkit/turbo/consensus"
	"github.com/gateway-fm/chainkit/turbo/headerdownload"
	"github.com/gateway-fm/chainkit/types"
)

type fakeDownloader struct {
	chunks []headerdownload.HeaderChunk
}

func (f *fakeDownloader) Stream(ctx context.Context, head *types.Header, tip types.Hash, chunkSize int) <-chan headerdownload.HeaderChunk {
	ch := make(chan headerdownload.HeaderChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch
}

type fakeConsensus struct {
	ch chan consensus.ForkchoiceState
}

func newFakeConsensus() *fakeConsensus { return &fakeConsensus{ch: make(chan consensus.ForkchoiceState, 4)} }
func (f *fakeConsensus) ForkChoiceState() <-chan consensus.ForkchoiceState { return f.ch }

type fakeStatusUpdater struct {
	calls int
}

func (f *fakeStatusUpdater) UpdateStatus(height uint64, hash types.Hash, td *uint256.Int) { f.calls++ }

func newTestDB(t *testing.T) kv.RwDB {
	t.Helper()
	return memdb.New(kv.ChainTables)
}

func seedGenesisAndHead(t *testing.T, db kv.RwDB, headNum uint64) *types.Header {
	t.Helper()
	var head *types.Header
	require.NoError(t, db.Update(context.Background(), func(tx kv.RwTx) error {
		parent := types.Hash{}
		td := uint256.NewInt(0)
		for n := uint64(0); n <= headNum; n++ {
			h := &types.Header{ParentHash: parent, Number: n, Difficulty: uint256.NewInt(1)}
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
			parent = hash
			head = h
		}
		return nil
	}))
	return head
}

func chainFrom(head *types.Header, n int) []*types.Header {
	out := make([]*types.Header, 0, n)
	parent := head
	for i := 1; i <= n; i++ {
		h := &types.Header{ParentHash: parent.Hash(), Number: parent.Number + uint64(i), Difficulty: uint256.NewInt(1)}
		out = append(out, h)
		parent = h
	}
	// descending order, as the downloader promises
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Scenario 1: Headers empty-DB.
func TestHeadersEmptyDB(t *testing.T) {
	db := newTestDB(t)
	cfg := StageHeadersCfg(&fakeDownloader{}, newFakeConsensus(), &fakeStatusUpdater{}, 10, log.Root())
	stage := NewHeaderStage(cfg)

	w, err := NewTxWrapper(context.Background(), db)
	require.NoError(t, err)
	defer w.Rollback()

	_, err = stage.Execute(context.Background(), w, ExecInput{StageProgress: 0})
	var dbErr *DatabaseIntegrityError
	require.True(t, errors.As(err, &dbErr))
}

// Scenario 2: Headers timeout.
func TestHeadersTimeout(t *testing.T) {
	db := newTestDB(t)
	head := seedGenesisAndHead(t, db, 100)

	dl := &fakeDownloader{chunks: []headerdownload.HeaderChunk{{Err: headerdownload.ErrTimeout}}}
	cons := newFakeConsensus()
	cons.ch <- consensus.ForkchoiceState{HeadBlockHash: types.BytesToHash([]byte{9, 9})}
	cfg := StageHeadersCfg(dl, cons, &fakeStatusUpdater{}, 10, log.Root())
	stage := NewHeaderStage(cfg)

	w, err := NewTxWrapper(context.Background(), db)
	require.NoError(t, err)
	defer w.Rollback()

	_, err = stage.Execute(context.Background(), w, ExecInput{StageProgress: head.Number, PreviousStageProgress: 500})
	var recErr *RecoverableError
	require.True(t, errors.As(err, &recErr))

	// database unchanged
	latest, err := latestCanonicalNumber(w.Tx())
	require.NoError(t, err)
	require.Equal(t, head.Number, latest)
}

// Scenario 3: Headers validation error (parent hash mismatch).
func TestHeadersValidationError(t *testing.T) {
	db := newTestDB(t)
	head := seedGenesisAndHead(t, db, 1000)

	// The downloader rejects a header that fails its own consensus
	// checks before ever handing a batch to the stage.
	valErrFromDownloader := &headerdownload.HeaderValidationError{Hash: types.Hash{0xaa}, Cause: errors.New("bad parent hash")}
	dl := &fakeDownloader{chunks: []headerdownload.HeaderChunk{{Err: valErrFromDownloader}}}
	cons := newFakeConsensus()
	cons.ch <- consensus.ForkchoiceState{HeadBlockHash: types.Hash{0xaa}}
	cfg := StageHeadersCfg(dl, cons, &fakeStatusUpdater{}, 10, log.Root())
	stage := NewHeaderStage(cfg)

	w, err := NewTxWrapper(context.Background(), db)
	require.NoError(t, err)
	defer w.Rollback()

	_, err = stage.Execute(context.Background(), w, ExecInput{StageProgress: head.Number, PreviousStageProgress: head.Number + 200})
	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
}

// Scenario 4: Headers happy path.
func TestHeadersHappyPath(t *testing.T) {
	db := newTestDB(t)
	head := seedGenesisAndHead(t, db, 1000)
	newHeaders := chainFrom(head, 200) // descending 1200..1001

	dl := &fakeDownloader{chunks: []headerdownload.HeaderChunk{{Headers: newHeaders}}}
	cons := newFakeConsensus()
	cons.ch <- consensus.ForkchoiceState{HeadBlockHash: newHeaders[0].Hash()}
	cfg := StageHeadersCfg(dl, cons, &fakeStatusUpdater{}, 1000, log.Root())
	stage := NewHeaderStage(cfg)

	w, err := NewTxWrapper(context.Background(), db)
	require.NoError(t, err)
	defer w.Rollback()

	out, err := stage.Execute(context.Background(), w, ExecInput{StageProgress: head.Number, PreviousStageProgress: head.Number + 200})
	require.NoError(t, err)
	require.True(t, out.Done)
	require.True(t, out.ReachedTip)
	require.Equal(t, head.Number+200, out.StageProgress)

	// TD monotonic: verify last entry's TD > first new entry's TD.
	tx := w.Tx()
	firstHash, err := canonicalHash(tx, head.Number+1)
	require.NoError(t, err)
	lastHash, err := canonicalHash(tx, head.Number+200)
	require.NoError(t, err)
	firstTDBytes, err := tx.GetOne(kv.HeaderTD, kv.HeaderKey(head.Number+1, *firstHash))
	require.NoError(t, err)
	lastTDBytes, err := tx.GetOne(kv.HeaderTD, kv.HeaderKey(head.Number+200, *lastHash))
	require.NoError(t, err)
	require.True(t, decodeTD(lastTDBytes).Gt(decodeTD(firstTDBytes)))
}

// Scenario 6: head/tip lookup with a gap.
func TestHeadAndTipLookupWithGap(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Update(context.Background(), func(tx kv.RwTx) error {
		h0 := &types.Header{Number: 0, Difficulty: uint256.NewInt(1)}
		h0Hash := h0.Hash()
		if err := tx.Put(kv.CanonicalHeaders, kv.EncodeBlockNumber(0), h0Hash[:]); err != nil {
			return err
		}
		if err := tx.Put(kv.Headers, kv.HeaderKey(0, h0Hash), encodeHeader(h0)); err != nil {
			return err
		}
		h1 := &types.Header{ParentHash: h0Hash, Number: 1, Difficulty: uint256.NewInt(1)}
		h1Hash := h1.Hash()
		h2 := &types.Header{ParentHash: h1Hash, Number: 2, Difficulty: uint256.NewInt(1)}
		h2Hash := h2.Hash()
		// Only write block 2 into canonical/headers — block 1 is the gap.
		if err := tx.Put(kv.CanonicalHeaders, kv.EncodeBlockNumber(2), h2Hash[:]); err != nil {
			return err
		}
		return tx.Put(kv.Headers, kv.HeaderKey(2, h2Hash), encodeHeader(h2))
	}))

	cfg := StageHeadersCfg(&fakeDownloader{}, newFakeConsensus(), &fakeStatusUpdater{}, 10, log.Root())
	stage := NewHeaderStage(cfg)

	w, err := NewTxWrapper(context.Background(), db)
	require.NoError(t, err)
	defer w.Rollback()

	h0 := &types.Header{Number: 0, Difficulty: uint256.NewInt(1)}
	tip, err := stage.getHeadAndTip(context.Background(), w.Tx(), h0, 0)
	require.NoError(t, err)

	h1 := &types.Header{ParentHash: h0.Hash(), Number: 1, Difficulty: uint256.NewInt(1)}
	require.Equal(t, h1.Hash(), tip, "tip must be the parent hash of the next canonical header past the gap")
}
