// Package stages holds the registry of stage identifiers and the
// StageProgress table accessors shared by every stage and by the pipeline
// executor.
package stages

import (
	"encoding/binary"

	"github.com/gateway-fm/chainkit/kv"
)

// StageID names a stage for logging and for keying the StageProgress table.
// Stage ids are typed constants rather than bare strings scattered across
// call sites.
type StageID string

const (
	Headers StageID = "Headers"
	Senders StageID = "Senders"
)

// SyncStages lists every stage ID the pipeline knows about, in no
// particular order — the pipeline's own stage slice decides run order.
var SyncStages = []StageID{Headers, Senders}

// GetStageProgress returns the last block number id committed, or 0 if the
// stage has never run.
func GetStageProgress(tx kv.Tx, id StageID) (uint64, error) {
	v, err := tx.GetOne(kv.StageProgress, []byte(id))
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(v), nil
}

// SaveStageProgress persists the stage's new checkpoint. Callers must do
// this before committing the transaction that produced the progress, so a
// crash never leaves progress ahead of the data it describes.
func SaveStageProgress(tx kv.RwTx, id StageID, progress uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], progress)
	return tx.Put(kv.StageProgress, []byte(id), v[:])
}
