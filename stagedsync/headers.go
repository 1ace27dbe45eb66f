package stagedsync

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/gateway-fm/chainkit/kv"
	"github.com/gateway-fm/chainkit/stagedsync/stages"
	"github.com/gateway-fm/chainkit/turbo/headerdownload"
	"github.com/gateway-fm/chainkit/types"
)

// seenHashCacheSize bounds the recently-seen header hash cache a single
// Execute call uses to catch a downloader re-serving the same header twice
// within one streaming session, mirroring the recents/signatures LRU caches
// erigon's header chain keeps for duplicate/cycle detection.
const seenHashCacheSize = 8192

// HeaderStage downloads headers from the local head to the network tip in
// descending order, validates parent linkage, writes the four header
// tables, and accumulates total difficulty.
type HeaderStage struct {
	cfg HeadersCfg
}

func NewHeaderStage(cfg HeadersCfg) *HeaderStage { return &HeaderStage{cfg: cfg} }

func (hs *HeaderStage) ID() stages.StageID { return stages.Headers }

func (hs *HeaderStage) Execute(ctx context.Context, w *TxWrapper, input ExecInput) (ExecOutput, error) {
	logPrefix := string(stages.Headers)
	stageProgress := input.StageProgress

	head, err := hs.headerAt(w.Tx(), stageProgress)
	if err != nil {
		return ExecOutput{}, err
	}

	// 1. Update status broadcast.
	if hs.cfg.StatusUpdater != nil {
		td, err := hs.tdAt(w.Tx(), stageProgress, head.Hash())
		if err != nil {
			return ExecOutput{}, err
		}
		hs.cfg.StatusUpdater.UpdateStatus(stageProgress, head.Hash(), td)
	}

	// 2. Determine head and tip.
	tip, err := hs.getHeadAndTip(ctx, w.Tx(), head, stageProgress)
	if err != nil {
		return ExecOutput{}, err
	}

	hs.cfg.Logger.Debug(fmt.Sprintf("[%s] syncing range", logPrefix), "head", stageProgress, "tip", tip)

	// 3. Stream and write in commit-sized chunks.
	currentProgress := stageProgress
	seen, _ := lru.New[types.Hash, struct{}](seenHashCacheSize)
	stream := hs.cfg.Downloader.Stream(ctx, head, tip, hs.cfg.CommitThreshold)
	for chunk := range stream {
		if chunk.Err != nil {
			if headerdownload.IsRetryable(chunk.Err) {
				hs.cfg.Logger.Warn(fmt.Sprintf("[%s] no response for header request", logPrefix))
				return ExecOutput{}, &RecoverableError{Err: chunk.Err}
			}
			var verr *headerdownload.HeaderValidationError
			if errors.As(chunk.Err, &verr) {
				hs.cfg.Logger.Error(fmt.Sprintf("[%s] validation error", logPrefix), "hash", verr.Hash, "err", verr.Cause)
				return ExecOutput{}, &ValidationError{Block: currentProgress, Err: verr}
			}
			return ExecOutput{}, &RecoverableError{Err: chunk.Err}
		}

		hs.cfg.Logger.Info(fmt.Sprintf("[%s] received headers", logPrefix), "len", len(chunk.Headers))

		if err := validateHeaderLinkage(chunk.Headers); err != nil {
			return ExecOutput{}, &ValidationError{Block: currentProgress, Err: err}
		}
		if err := rejectDuplicateHeaders(seen, chunk.Headers); err != nil {
			return ExecOutput{}, &ValidationError{Block: currentProgress, Err: err}
		}

		written, err := writeHeaders(w.Tx(), chunk.Headers)
		if err != nil {
			return ExecOutput{}, err
		}
		if written > currentProgress {
			currentProgress = written
		}

		if err := stages.SaveStageProgress(w.Tx(), stages.Headers, currentProgress); err != nil {
			return ExecOutput{}, err
		}
		if err := w.Commit(ctx); err != nil {
			return ExecOutput{}, err
		}
	}

	// 4. Total difficulty pass.
	if err := writeTotalDifficulty(w.Tx(), head); err != nil {
		return ExecOutput{}, &DatabaseIntegrityError{Reason: err.Error()}
	}

	latest, err := latestCanonicalNumber(w.Tx())
	if err != nil {
		return ExecOutput{}, err
	}
	if latest > currentProgress {
		currentProgress = latest
	}

	return ExecOutput{StageProgress: currentProgress, Done: true, ReachedTip: true}, nil
}

func (hs *HeaderStage) Unwind(ctx context.Context, tx kv.RwTx, input UnwindInput) (UnwindOutput, error) {
	if err := unwindHeaderTables(tx, input.UnwindTo); err != nil {
		return UnwindOutput{}, err
	}
	return UnwindOutput{StageProgress: input.UnwindTo}, nil
}

func unwindHeaderTables(tx kv.RwTx, unwindTo uint64) error {
	// HeaderNumbers is the one table keyed purely by hash; nothing else
	// shares its key space, so the walker only needs to drop the index
	// rows themselves (dataTable == "").
	if err := kv.UnwindByWalker(tx, kv.HeaderNumbers, "", unwindTo, nil); err != nil {
		return err
	}
	if err := kv.UnwindByNumber(tx, kv.CanonicalHeaders, unwindTo); err != nil {
		return err
	}
	if err := kv.UnwindByNumHash(tx, kv.Headers, unwindTo); err != nil {
		return err
	}
	if err := kv.UnwindByNumHash(tx, kv.HeaderTD, unwindTo); err != nil {
		return err
	}
	return nil
}

func (hs *HeaderStage) headerAt(tx kv.Tx, number uint64) (*types.Header, error) {
	hash, err := canonicalHash(tx, number)
	if err != nil {
		return nil, err
	}
	if hash == nil {
		return nil, &DatabaseIntegrityError{Reason: fmt.Sprintf("no canonical header at %d", number)}
	}
	v, err := tx.GetOne(kv.Headers, kv.HeaderKey(number, *hash))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &DatabaseIntegrityError{Reason: fmt.Sprintf("no header body at %d/%x", number, *hash)}
	}
	return decodeHeader(v), nil
}

func canonicalHash(tx kv.Tx, number uint64) (*types.Hash, error) {
	v, err := tx.GetOne(kv.CanonicalHeaders, kv.EncodeBlockNumber(number))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	h := types.BytesToHash(v)
	return &h, nil
}

func (hs *HeaderStage) tdAt(tx kv.Tx, number uint64, hash types.Hash) (*uint256.Int, error) {
	v, err := tx.GetOne(kv.HeaderTD, kv.HeaderKey(number, hash))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &DatabaseIntegrityError{Reason: fmt.Sprintf("no total difficulty at %d", number)}
	}
	return decodeTD(v), nil
}

// getHeadAndTip implements the three-case gap detection of section 4.5
// step 2. head is assumed already resolved by the caller.
func (hs *HeaderStage) getHeadAndTip(ctx context.Context, tx kv.Tx, head *types.Header, stageProgress uint64) (types.Hash, error) {
	c, err := tx.Cursor(kv.CanonicalHeaders)
	if err != nil {
		return types.Hash{}, err
	}
	defer c.Close()

	k, _, err := c.Seek(kv.EncodeBlockNumber(stageProgress + 1))
	if err != nil {
		return types.Hash{}, err
	}

	if k == nil {
		// No next header: subscribe to forkchoice and wait for a
		// non-zero head different from ours.
		return hs.awaitForkchoice(ctx, head.Hash())
	}

	nextNum := kv.DecodeBlockNumber(k)
	if nextNum != stageProgress+1 {
		// Gap: use the parent hash of the next canonical header we do have.
		hash, err := canonicalHash(tx, nextNum)
		if err != nil {
			return types.Hash{}, err
		}
		v, err := tx.GetOne(kv.Headers, kv.HeaderKey(nextNum, *hash))
		if err != nil {
			return types.Hash{}, err
		}
		if v == nil {
			return types.Hash{}, &DatabaseIntegrityError{Reason: fmt.Sprintf("no header body at %d", nextNum)}
		}
		return decodeHeader(v).ParentHash, nil
	}

	// No gap, nothing to do.
	return types.Hash{}, &StageProgressError{Block: stageProgress}
}

func (hs *HeaderStage) awaitForkchoice(ctx context.Context, head types.Hash) (types.Hash, error) {
	ch := hs.cfg.Consensus.ForkChoiceState()
	for {
		select {
		case <-ctx.Done():
			return types.Hash{}, ctx.Err()
		case state := <-ch:
			if !state.HeadBlockHash.IsZero() && state.HeadBlockHash != head {
				return state.HeadBlockHash, nil
			}
		}
	}
}

// validateHeaderLinkage checks, for a descending batch, that every adjacent
// (child, parent) pair actually links: child.ParentHash == parent.Hash()
// and child.Number == parent.Number + 1.
func validateHeaderLinkage(headers []*types.Header) error {
	for i := 0; i+1 < len(headers); i++ {
		child, parent := headers[i], headers[i+1]
		if child.Number != parent.Number+1 {
			return &headerdownload.HeaderValidationError{Hash: child.Hash(), Cause: fmt.Errorf("number %d is not parent %d + 1", child.Number, parent.Number)}
		}
		if child.ParentHash != parent.Hash() {
			return &headerdownload.HeaderValidationError{Hash: child.Hash(), Cause: errors.New("parent hash mismatch")}
		}
	}
	return nil
}

// rejectDuplicateHeaders flags a header hash the downloader has already
// served earlier in this same streaming session. A well-behaved downloader
// never re-serves a hash while walking strictly descending from tip to
// head; seeing one again indicates a cycling or misbehaving peer.
func rejectDuplicateHeaders(seen *lru.Cache[types.Hash, struct{}], headers []*types.Header) error {
	for _, h := range headers {
		hash := h.Hash()
		if _, ok := seen.Get(hash); ok {
			return &headerdownload.HeaderValidationError{Hash: hash, Cause: errors.New("header hash already seen in this stream")}
		}
		seen.Add(hash, struct{}{})
	}
	return nil
}

// writeHeaders reverses the descending chunk into ascending order and
// writes HeaderNumbers (unordered put), Headers, and CanonicalHeaders
// (both appending cursors). Genesis (number 0) is skipped since it is
// preloaded. Returns the highest block number written, or 0 if nothing
// was written.
func writeHeaders(tx kv.RwTx, headers []*types.Header) (uint64, error) {
	headerCursor, err := tx.RwCursor(kv.Headers)
	if err != nil {
		return 0, err
	}
	defer headerCursor.Close()
	canonicalCursor, err := tx.RwCursor(kv.CanonicalHeaders)
	if err != nil {
		return 0, err
	}
	defer canonicalCursor.Close()

	var latest uint64
	for i := len(headers) - 1; i >= 0; i-- {
		h := headers[i]
		if h.Number == 0 {
			continue
		}
		hash := h.Hash()
		if err := tx.Put(kv.HeaderNumbers, hash[:], kv.EncodeBlockNumber(h.Number)); err != nil {
			return 0, err
		}
		if err := headerCursor.Append(kv.HeaderKey(h.Number, hash), encodeHeader(h)); err != nil {
			return 0, err
		}
		if err := canonicalCursor.Append(kv.EncodeBlockNumber(h.Number), hash[:]); err != nil {
			return 0, err
		}
		latest = h.Number
	}
	return latest, nil
}

// writeTotalDifficulty walks newly inserted headers above head and appends
// cumulative TD entries, per section 4.5 step 4.
func writeTotalDifficulty(tx kv.RwTx, head *types.Header) error {
	headHash := head.Hash()
	v, err := tx.GetOne(kv.HeaderTD, kv.HeaderKey(head.Number, headHash))
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("no total difficulty entry at head %d", head.Number)
	}
	td := decodeTD(v)

	c, err := tx.Cursor(kv.Headers)
	if err != nil {
		return err
	}
	defer c.Close()
	tdCursor, err := tx.RwCursor(kv.HeaderTD)
	if err != nil {
		return err
	}
	defer tdCursor.Close()

	startKey := kv.EncodeBlockNumber(head.Number + 1)
	return kv.Walk(c, startKey, func(k, v []byte) (bool, error) {
		h := decodeHeader(v)
		td = new(uint256.Int).Add(td, h.Difficulty)
		if err := tdCursor.Append(k, encodeTD(td)); err != nil {
			return false, err
		}
		return true, nil
	})
}

func latestCanonicalNumber(tx kv.Tx) (uint64, error) {
	c, err := tx.Cursor(kv.CanonicalHeaders)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	k, _, err := c.Last()
	if err != nil {
		return 0, err
	}
	if k == nil {
		return 0, nil
	}
	return kv.DecodeBlockNumber(k), nil
}
