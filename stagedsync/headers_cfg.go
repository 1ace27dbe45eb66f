package stagedsync

import (
	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/chainkit/turbo/consensus"
	"github.com/gateway-fm/chainkit/turbo/headerdownload"
)

// HeadersCfg bundles the Headers stage's network-facing collaborators and
// tuning knobs. It is built once at node startup and threaded through every
// call to the stage.
type HeadersCfg struct {
	Downloader     headerdownload.HeaderDownloader
	Consensus      consensus.Consensus
	StatusUpdater  headerdownload.StatusUpdater
	CommitThreshold int
	Logger         log.Logger
}

func StageHeadersCfg(d headerdownload.HeaderDownloader, c consensus.Consensus, su headerdownload.StatusUpdater, commitThreshold int, logger log.Logger) HeadersCfg {
	if commitThreshold <= 0 {
		commitThreshold = 1000
	}
	if logger == nil {
		logger = log.Root()
	}
	return HeadersCfg{Downloader: d, Consensus: c, StatusUpdater: su, CommitThreshold: commitThreshold, Logger: logger}
}
