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
	"github.com/gateway-fm/chainkit/types"
)

// seedChainWithBodies writes canonical headers for blocks 0..numBlocks (block
// 0 being a genesis with a zero parent hash), each block, genesis included,
// owning txPerBlock flat transactions, and returns the total transaction
// count written.
func seedChainWithBodies(t *testing.T, db kv.RwDB, numBlocks, txPerBlock int) uint64 {
	t.Helper()
	var nextTxIdx uint64
	require.NoError(t, db.Update(context.Background(), func(tx kv.RwTx) error {
		parent := types.Hash{}
		for n := 0; n <= numBlocks; n++ {
			h := &types.Header{ParentHash: parent, Number: uint64(n), Difficulty: uint256.NewInt(1)}
			hash := h.Hash()
			if err := tx.Put(kv.CanonicalHeaders, kv.EncodeBlockNumber(uint64(n)), hash[:]); err != nil {
				return err
			}
			if err := tx.Put(kv.Headers, kv.HeaderKey(uint64(n), hash), encodeHeader(h)); err != nil {
				return err
			}

			body := types.BlockBody{FirstTxIndex: nextTxIdx, TxCount: uint64(txPerBlock)}
			if err := tx.Put(kv.BlockBodies, kv.HeaderKey(uint64(n), hash), encodeBlockBody(body)); err != nil {
				return err
			}
			for i := 0; i < txPerBlock; i++ {
				txn := &types.Transaction{Data: []byte{byte(n), byte(i)}, V: uint256.NewInt(27), R: uint256.NewInt(1), S: uint256.NewInt(1)}
				if err := tx.Put(kv.Transactions, kv.EncodeTxIndex(nextTxIdx), encodeTransaction(txn)); err != nil {
					return err
				}
				nextTxIdx++
			}
			parent = hash
		}
		return nil
	}))
	return nextTxIdx
}

func recoverByEchoingData(txn *types.Transaction) (types.Address, error) {
	return types.BytesToAddress(txn.Data), nil
}

// Scenario 5: Senders intermediate commit under a tight threshold.
func TestSendersIntermediateCommit(t *testing.T) {
	db := newTestDB(t)
	seedChainWithBodies(t, db, 1100, 1) // blocks 0..1100, one tx each

	cfg := StageSendersCfg(recoverByEchoingData, 10, 50, log.Root())
	stage := NewSendersStage(cfg)

	w, err := NewTxWrapper(context.Background(), db)
	require.NoError(t, err)
	defer w.Rollback()

	out, err := stage.Execute(context.Background(), w, ExecInput{StageProgress: 1000, PreviousStageProgress: 1100})
	require.NoError(t, err)
	require.False(t, out.Done)
	require.Equal(t, uint64(1050), out.StageProgress)

	out, err = stage.Execute(context.Background(), w, ExecInput{StageProgress: out.StageProgress, PreviousStageProgress: 1100})
	require.NoError(t, err)
	require.True(t, out.Done)
	require.True(t, out.ReachedTip)
	require.Equal(t, uint64(1100), out.StageProgress)
}

func TestSendersHappyPathRecoversEveryTransaction(t *testing.T) {
	db := newTestDB(t)
	total := seedChainWithBodies(t, db, 20, 3)

	cfg := StageSendersCfg(recoverByEchoingData, 4, 1000, log.Root())
	stage := NewSendersStage(cfg)

	w, err := NewTxWrapper(context.Background(), db)
	require.NoError(t, err)
	defer w.Rollback()

	out, err := stage.Execute(context.Background(), w, ExecInput{StageProgress: 0, PreviousStageProgress: 20})
	require.NoError(t, err)
	require.True(t, out.Done)
	require.Equal(t, uint64(20), out.StageProgress)

	// Genesis owns tx indices 0..2; Execute from StageProgress 0 covers
	// blocks 1..20, so every index from 3 on is recovered and genesis's are not.
	tx := w.Tx()
	for idx := uint64(0); idx < total; idx++ {
		v, err := tx.GetOne(kv.TxSenders, kv.EncodeTxIndex(idx))
		require.NoError(t, err)
		if idx < 3 {
			require.Nil(t, v)
			continue
		}
		require.NotNil(t, v)
	}
}

func TestSendersRecoveryFailureIsFatal(t *testing.T) {
	db := newTestDB(t)
	seedChainWithBodies(t, db, 5, 1)

	boom := errors.New("bad signature")
	cfg := StageSendersCfg(func(*types.Transaction) (types.Address, error) {
		return types.Address{}, boom
	}, 10, 1000, log.Root())
	stage := NewSendersStage(cfg)

	w, err := NewTxWrapper(context.Background(), db)
	require.NoError(t, err)
	defer w.Rollback()

	_, err = stage.Execute(context.Background(), w, ExecInput{StageProgress: 0, PreviousStageProgress: 5})
	var fatalErr *FatalError
	require.True(t, errors.As(err, &fatalErr))
}

// Scenario: unwind drops senders recorded past the target block.
func TestSendersUnwind(t *testing.T) {
	db := newTestDB(t)
	seedChainWithBodies(t, db, 10, 2)

	cfg := StageSendersCfg(recoverByEchoingData, 10, 1000, log.Root())
	stage := NewSendersStage(cfg)

	w, err := NewTxWrapper(context.Background(), db)
	require.NoError(t, err)
	defer w.Rollback()

	_, err = stage.Execute(context.Background(), w, ExecInput{StageProgress: 0, PreviousStageProgress: 10})
	require.NoError(t, err)
	require.NoError(t, w.Commit(context.Background()))

	_, err = stage.Unwind(context.Background(), w.Tx(), UnwindInput{UnwindTo: 5})
	require.NoError(t, err)

	// Tx indices for blocks 6..10 (2 per block, starting at index 12) must be gone.
	v, err := w.Tx().GetOne(kv.TxSenders, kv.EncodeTxIndex(12))
	require.NoError(t, err)
	require.Nil(t, v)

	// Tx indices up to and including block 5 (index 11) must remain.
	v, err = w.Tx().GetOne(kv.TxSenders, kv.EncodeTxIndex(11))
	require.NoError(t, err)
	require.NotNil(t, v)
}
