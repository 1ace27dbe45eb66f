package stagedsync

import (
	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/chainkit/types"
)

// SignerRecoverer recovers the address that signed a transaction. Injected
// so this package stays free of any particular signature scheme.
type SignerRecoverer func(tx *types.Transaction) (types.Address, error)

// SendersCfg bundles the Senders stage's tuning knobs: BatchSize is the
// chunk size for parallel signer recovery, CommitThreshold is the number
// of blocks processed before yielding back to the pipeline. CommitByteLimit
// bounds the accumulated size of pending TxSenders writes within a single
// block-count chunk: the design note in spec.md §9 warns that measuring a
// commit purely by block count is unsafe for very large ranges, so once the
// pending batch crosses this many bytes the stage commits early even if the
// block-count threshold hasn't been reached yet.
type SendersCfg struct {
	Recover         SignerRecoverer
	BatchSize       int
	CommitThreshold uint64
	CommitByteLimit datasize.ByteSize
	Logger          log.Logger
}

func StageSendersCfg(recover SignerRecoverer, batchSize int, commitThreshold uint64, logger log.Logger) SendersCfg {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if commitThreshold == 0 {
		commitThreshold = 100_000
	}
	if logger == nil {
		logger = log.Root()
	}
	return SendersCfg{
		Recover:         recover,
		BatchSize:       batchSize,
		CommitThreshold: commitThreshold,
		CommitByteLimit: 256 * datasize.MB,
		Logger:          logger,
	}
}
