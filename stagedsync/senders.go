package stagedsync

import (
	"context"
	"fmt"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/chainkit/kv"
	"github.com/gateway-fm/chainkit/stagedsync/stages"
	"github.com/gateway-fm/chainkit/types"
)

// SendersStage walks the flat Transactions table over a bounded block
// range, recovers each transaction's signer in parallel batches, and
// appends the results to TxSenders.
type SendersStage struct {
	cfg SendersCfg
}

func NewSendersStage(cfg SendersCfg) *SendersStage { return &SendersStage{cfg: cfg} }

func (ss *SendersStage) ID() stages.StageID { return stages.Senders }

func (ss *SendersStage) Execute(ctx context.Context, w *TxWrapper, input ExecInput) (ExecOutput, error) {
	logPrefix := string(stages.Senders)
	stageProgress := input.StageProgress

	maxBlock := input.PreviousStageProgress
	if stageProgress+ss.cfg.CommitThreshold < maxBlock {
		maxBlock = stageProgress + ss.cfg.CommitThreshold
	}

	if maxBlock <= stageProgress {
		return ExecOutput{StageProgress: stageProgress, Done: true, ReachedTip: true}, nil
	}

	startBody, err := w.GetBlockBody(stageProgress + 1)
	if err != nil {
		return ExecOutput{}, err
	}
	endBody, err := w.GetBlockBody(maxBlock)
	if err != nil {
		return ExecOutput{}, err
	}
	startTx, endTx := startBody.FirstTxIndex, endBody.LastTxIndex()

	if startTx > endTx {
		return ExecOutput{StageProgress: maxBlock, Done: true, ReachedTip: true}, nil
	}

	// boundaries maps the last tx index of each block in the range to that
	// block's number, so an in-flight byte-budget trip (see CommitByteLimit)
	// can be resolved back to the last block number fully written.
	boundaries, err := blockLastTxIndices(w, stageProgress+1, maxBlock)
	if err != nil {
		return ExecOutput{}, err
	}

	txCursor, err := w.Tx().Cursor(kv.Transactions)
	if err != nil {
		return ExecOutput{}, err
	}
	defer txCursor.Close()
	sendersCursor, err := w.Tx().RwCursor(kv.TxSenders)
	if err != nil {
		return ExecOutput{}, err
	}
	defer sendersCursor.Close()

	var chunk []struct {
		idx uint64
		tx  *types.Transaction
	}
	var bytesWritten datasize.ByteSize
	lastWrittenIdx := stageProgress // sentinel: no block completed yet
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		senders := make([]types.Address, len(chunk))
		g, _ := errgroup.WithContext(ctx)
		for i := range chunk {
			i := i
			g.Go(func() error {
				addr, err := ss.cfg.Recover(chunk[i].tx)
				if err != nil {
					return fmt.Errorf("%s: sender recovery failed for tx %d: %w", logPrefix, chunk[i].idx, err)
				}
				senders[i] = addr
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return &FatalError{Err: err}
		}
		for i := range chunk {
			key := kv.EncodeTxIndex(chunk[i].idx)
			val := senders[i].Bytes()
			if err := sendersCursor.Append(key, val); err != nil {
				return err
			}
			bytesWritten += datasize.ByteSize(len(key) + len(val))
			lastWrittenIdx = chunk[i].idx
		}
		chunk = chunk[:0]
		return nil
	}

	budgetHit := false
	err = kv.WalkAscend(txCursor, kv.EncodeTxIndex(startTx), kv.EncodeTxIndex(endTx), func(k, v []byte) (bool, error) {
		idx := kv.DecodeTxIndex(k)
		chunk = append(chunk, struct {
			idx uint64
			tx  *types.Transaction
		}{idx, decodeTransaction(v)})
		if len(chunk) >= ss.cfg.BatchSize {
			if err := flush(); err != nil {
				return false, err
			}
			if ss.cfg.CommitByteLimit > 0 && bytesWritten >= ss.cfg.CommitByteLimit {
				budgetHit = true
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return ExecOutput{}, err
	}
	if err := flush(); err != nil {
		return ExecOutput{}, err
	}

	if budgetHit {
		// Resolve lastWrittenIdx back to the highest block number whose
		// entire tx range is now in TxSenders; blocks are processed in tx
		// order so this is the last boundary not past lastWrittenIdx.
		if cut, ok := lastCompletedBlock(boundaries, lastWrittenIdx); ok && cut > stageProgress {
			ss.cfg.Logger.Info(fmt.Sprintf("[%s] committing early: byte budget exceeded", logPrefix), "limit", ss.cfg.CommitByteLimit)
			maxBlock = cut
		}
	}

	done := maxBlock >= input.PreviousStageProgress && !budgetHit
	return ExecOutput{StageProgress: maxBlock, Done: done, ReachedTip: done}, nil
}

// blockLastTxIndices returns, for every block in [from, to], its inclusive
// last transaction index, in ascending block order.
func blockLastTxIndices(w *TxWrapper, from, to uint64) ([]struct {
	number    uint64
	lastTxIdx uint64
}, error) {
	out := make([]struct {
		number    uint64
		lastTxIdx uint64
	}, 0, to-from+1)
	for n := from; n <= to; n++ {
		body, err := w.GetBlockBody(n)
		if err != nil {
			return nil, err
		}
		out = append(out, struct {
			number    uint64
			lastTxIdx uint64
		}{n, body.LastTxIndex()})
	}
	return out, nil
}

// lastCompletedBlock returns the highest block number in boundaries whose
// lastTxIdx is <= writtenUpTo, i.e. the last block entirely covered by what
// has actually been appended to TxSenders.
func lastCompletedBlock(boundaries []struct {
	number    uint64
	lastTxIdx uint64
}, writtenUpTo uint64) (uint64, bool) {
	found := uint64(0)
	ok := false
	for _, b := range boundaries {
		if b.lastTxIdx <= writtenUpTo {
			found = b.number
			ok = true
		} else {
			break
		}
	}
	return found, ok
}

func (ss *SendersStage) Unwind(ctx context.Context, tx kv.RwTx, input UnwindInput) (UnwindOutput, error) {
	body, err := bodyAt(tx, input.UnwindTo)
	if err != nil {
		return UnwindOutput{}, err
	}
	if err := kv.UnwindByNumber(tx, kv.TxSenders, body.LastTxIndex()); err != nil {
		return UnwindOutput{}, err
	}
	return UnwindOutput{StageProgress: input.UnwindTo}, nil
}

func bodyAt(tx kv.Tx, number uint64) (types.BlockBody, error) {
	hash, err := canonicalHash(tx, number)
	if err != nil {
		return types.BlockBody{}, err
	}
	if hash == nil {
		return types.BlockBody{}, &DatabaseIntegrityError{Reason: fmt.Sprintf("no canonical header at %d", number)}
	}
	v, err := tx.GetOne(kv.BlockBodies, kv.HeaderKey(number, *hash))
	if err != nil {
		return types.BlockBody{}, err
	}
	if v == nil {
		return types.BlockBody{}, &DatabaseIntegrityError{Reason: fmt.Sprintf("no block body at %d", number)}
	}
	return decodeBlockBody(v), nil
}
