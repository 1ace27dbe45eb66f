package stagedsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/chainkit/kv"
	"github.com/gateway-fm/chainkit/stagedsync/stages"
)

// recoverableRetryDelay is how long the pipeline pauses before re-entering a
// stage that returned a RecoverableError.
var recoverableRetryDelay = 500 * time.Millisecond

// Sync is the pipeline executor: it holds the totally-ordered stage list
// and drives them forward, unwinding on validation failure and retrying on
// recoverable errors.
type Sync struct {
	db     kv.RwDB
	stages []Stage
	logger log.Logger
}

func New(db kv.RwDB, stageList []Stage, logger log.Logger) *Sync {
	if logger == nil {
		logger = log.Root()
	}
	return &Sync{db: db, stages: stageList, logger: logger}
}

// Run drives every stage forward exactly once each, re-entering a stage
// that yields with Done=false, retrying a stage that returns a
// RecoverableError, and performing a full unwind pass when a stage
// requests one. It returns when every stage has reached Done=true in a
// single pass with no pending unwind, or when a Fatal/DatabaseIntegrity
// error surfaces.
func (s *Sync) Run(ctx context.Context) error {
	for i := 0; i < len(s.stages); i++ {
		stage := s.stages[i]

		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			done, err := s.runStageOnce(ctx, stage)
			if err != nil {
				var recoverable *RecoverableError
				if errors.As(err, &recoverable) {
					s.logger.Warn(fmt.Sprintf("[%s] recoverable error, retrying", stage.ID()), "err", recoverable.Err)
					time.Sleep(recoverableRetryDelay)
					continue
				}

				var valErr *ValidationError
				if errors.As(err, &valErr) {
					target := valErr.Block - 1
					s.logger.Error(fmt.Sprintf("[%s] validation error, unwinding pipeline", stage.ID()), "block", valErr.Block, "to", target, "cause", valErr.Err)
					if err := s.unwindAll(ctx, target); err != nil {
						return err
					}
					// restart the forward pass from the first stage.
					i = -1
					break
				}

				var dbErr *DatabaseIntegrityError
				var fatal *FatalError
				if errors.As(err, &dbErr) || errors.As(err, &fatal) {
					s.logger.Error(fmt.Sprintf("[%s] halting pipeline", stage.ID()), "err", err)
					return err
				}
				return err
			}

			if done {
				break
			}
		}
	}
	return nil
}

// runStageOnce opens a transaction wrapper, reads the stage's persisted
// progress and the previous stage's progress, calls Execute, persists the
// new progress, and commits — all within one transaction unless the stage
// itself commits intermediate chunks via its own TxWrapper.
func (s *Sync) runStageOnce(ctx context.Context, stage Stage) (done bool, err error) {
	w, err := NewTxWrapper(ctx, s.db)
	if err != nil {
		return false, err
	}
	defer w.Rollback()

	progress, err := stages.GetStageProgress(w.Tx(), stage.ID())
	if err != nil {
		return false, err
	}
	prevProgress, err := s.previousStageProgress(w.Tx(), stage)
	if err != nil {
		return false, err
	}

	out, err := stage.Execute(ctx, w, ExecInput{
		StageProgress:         progress,
		PreviousStageProgress: prevProgress,
	})
	if err != nil {
		return false, err
	}

	// Flush whatever the stage left pending, including the final progress
	// value — stages that committed intermediate chunks (Headers) have
	// already persisted those via their own w.Commit calls, so this is a
	// no-op write of the same value in that case.
	if err := stages.SaveStageProgress(w.Tx(), stage.ID(), out.StageProgress); err != nil {
		return false, err
	}
	if err := w.Commit(ctx); err != nil {
		return false, err
	}
	return out.Done, nil
}

// previousStageProgress is the minimum of the immediately prior stage's
// progress and chain tip; for the first stage in the list there is no
// prior stage, so it is unbounded and the stage decides its own range
// (e.g. Headers bounds itself by the forkchoice tip).
func (s *Sync) previousStageProgress(tx kv.Tx, stage Stage) (uint64, error) {
	idx := -1
	for i, st := range s.stages {
		if st.ID() == stage.ID() {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return ^uint64(0), nil
	}
	return stages.GetStageProgress(tx, s.stages[idx-1].ID())
}

// unwindAll walks every stage in reverse order, calling Unwind(unwindTo =
// target), committing after each so a crash mid-unwind resumes correctly.
// A stage whose progress is already at or below target keeps its progress.
func (s *Sync) unwindAll(ctx context.Context, target uint64) error {
	for i := len(s.stages) - 1; i >= 0; i-- {
		stage := s.stages[i]
		w, err := NewTxWrapper(ctx, s.db)
		if err != nil {
			return err
		}
		progress, err := stages.GetStageProgress(w.Tx(), stage.ID())
		if err != nil {
			w.Rollback()
			return err
		}
		out, err := stage.Unwind(ctx, w.Tx(), UnwindInput{UnwindTo: target})
		if err != nil {
			w.Rollback()
			return err
		}
		if out.StageProgress > progress {
			out.StageProgress = progress
		}
		if err := stages.SaveStageProgress(w.Tx(), stage.ID(), out.StageProgress); err != nil {
			w.Rollback()
			return err
		}
		if err := w.Tx().Commit(); err != nil {
			return fmt.Errorf("unwind commit for %s: %w", stage.ID(), err)
		}
	}
	return nil
}
