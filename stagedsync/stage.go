package stagedsync

import (
	"context"

	"github.com/gateway-fm/chainkit/kv"
	"github.com/gateway-fm/chainkit/stagedsync/stages"
)

// ExecInput carries what a stage needs to decide how much work is
// available. StageProgress is this stage's last committed block; 0 means
// the stage has never run. PreviousStageProgress is the upper bound of
// work available — the minimum of the immediately prior stage's progress
// and chain tip.
type ExecInput struct {
	StageProgress         uint64
	PreviousStageProgress uint64
}

// ExecOutput is what a stage hands back to the pipeline after execute.
// Done=false means the stage voluntarily yielded before reaching
// PreviousStageProgress (commit-threshold chunking) and should be
// re-entered immediately. ReachedTip asserts the stage believes it has
// caught up to the tip of its input.
type ExecOutput struct {
	StageProgress uint64
	Done          bool
	ReachedTip    bool
}

// UnwindInput tells a stage's Unwind to remove every row it wrote for
// blocks above UnwindTo.
type UnwindInput struct {
	UnwindTo uint64
}

type UnwindOutput struct {
	StageProgress uint64
}

// Stage is the uniform execute/unwind contract every pipeline phase
// implements. Execute receives the TxWrapper itself rather than a bare
// transaction so stages that process an unbounded range (Headers) can
// commit intermediate chunks via w.Commit while the pipeline still owns
// overall rollback-on-error; stages that write a single bounded range
// (Senders) simply never call w.Commit and let the pipeline's own final
// commit cover their writes.
//
// A stage reports a validation failure by returning a *ValidationError from
// Execute; it never unwinds other stages itself. The pipeline executor is
// the only thing that walks the stage list in reverse.
type Stage interface {
	ID() stages.StageID
	Execute(ctx context.Context, w *TxWrapper, input ExecInput) (ExecOutput, error)
	Unwind(ctx context.Context, tx kv.RwTx, input UnwindInput) (UnwindOutput, error)
}

// StageState pairs a stage's ID with its checkpoint block number and gives
// the stage's log prefix. Execute itself receives an ExecInput, not a
// StageState.
type StageState struct {
	ID          stages.StageID
	BlockNumber uint64
}

func (s *StageState) LogPrefix() string { return string(s.ID) }

// UnwindState pairs a stage's ID with an unwind target. Unwind itself
// receives an UnwindInput, not an UnwindState.
type UnwindState struct {
	ID       stages.StageID
	UnwindTo uint64
}
