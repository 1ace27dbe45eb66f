// Package consensus defines the minimal forkchoice subscription surface the
// Headers stage depends on. The consensus engine itself — payload
// validation, fork choice rules — is an external collaborator and out of
// scope here; this package only fixes the channel contract.
package consensus

import "github.com/gateway-fm/chainkit/types"

// ForkchoiceState is what the consensus client publishes. The Headers
// stage is interested only in HeadBlockHash; a zero hash means unset.
type ForkchoiceState struct {
	HeadBlockHash      types.Hash
	SafeBlockHash      types.Hash
	FinalizedBlockHash types.Hash
}

// Consensus is a broadcast channel: subscribers see states published after
// they subscribe. Delivery is coalescing, not guaranteed: a subscriber may
// miss intermediate states.
type Consensus interface {
	// ForkChoiceState returns a channel that receives forkchoice updates
	// published from this point on. Closing ctx (via the caller
	// cancelling it upstream) is the subscriber's responsibility; this
	// interface does not accept a context because subscription itself
	// never blocks.
	ForkChoiceState() <-chan ForkchoiceState
}

// BroadcastConsensus is a simple fan-out implementation: one writer
// (UpdateTip), many readers, each reader getting its own buffered channel so
// a slow subscriber cannot stall the publisher. A state sent while a
// subscriber's buffer is full is dropped for that subscriber.
type BroadcastConsensus struct {
	subs chan chan ForkchoiceState
	pub  chan ForkchoiceState
}

func NewBroadcastConsensus() *BroadcastConsensus {
	b := &BroadcastConsensus{
		subs: make(chan chan ForkchoiceState, 16),
		pub:  make(chan ForkchoiceState, 16),
	}
	go b.run()
	return b
}

func (b *BroadcastConsensus) run() {
	var subscribers []chan ForkchoiceState
	for {
		select {
		case ch := <-b.subs:
			subscribers = append(subscribers, ch)
		case state := <-b.pub:
			for _, ch := range subscribers {
				select {
				case ch <- state:
				default:
				}
			}
		}
	}
}

func (b *BroadcastConsensus) ForkChoiceState() <-chan ForkchoiceState {
	ch := make(chan ForkchoiceState, 8)
	b.subs <- ch
	return ch
}

// UpdateTip publishes a new forkchoice state to every subscriber.
func (b *BroadcastConsensus) UpdateTip(head types.Hash) {
	b.pub <- ForkchoiceState{HeadBlockHash: head}
}
