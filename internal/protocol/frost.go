package protocol

import (
	"context"

	"github.com/meesign/meesignd/internal/communicator"
	"github.com/meesign/meesignd/internal/domain"
)

// frostLastRound is fixed at 3 for both FROST variants.
const frostLastRound uint16 = 3

// FROSTGroup is the distributed-key-generation variant of FROST.
type FROSTGroup struct{ roundState }

func newFROSTGroup() *FROSTGroup {
	return &FROSTGroup{roundState{lastRound: frostLastRound, ptype: domain.ProtocolFROST}}
}

func (f *FROSTGroup) Initialize(ctx context.Context, comm *communicator.Communicator, seed []byte) error {
	return initializeRounds(ctx, &f.roundState, comm, seed)
}
func (f *FROSTGroup) Advance(ctx context.Context, comm *communicator.Communicator) error {
	return advanceRounds(ctx, &f.roundState, comm)
}
func (f *FROSTGroup) Finalize(ctx context.Context, comm *communicator.Communicator) ([]byte, error) {
	return finalizeRounds(ctx, &f.roundState, comm)
}

// FROSTSign is the threshold-signing variant of FROST (SignChallenge only,
// per the admissible (protocol, key_type) pairs).
type FROSTSign struct{ roundState }

func newFROSTSign() *FROSTSign {
	return &FROSTSign{roundState{lastRound: frostLastRound, ptype: domain.ProtocolFROST}}
}

func (f *FROSTSign) Initialize(ctx context.Context, comm *communicator.Communicator, seed []byte) error {
	return initializeRounds(ctx, &f.roundState, comm, seed)
}
func (f *FROSTSign) Advance(ctx context.Context, comm *communicator.Communicator) error {
	return advanceRounds(ctx, &f.roundState, comm)
}
func (f *FROSTSign) Finalize(ctx context.Context, comm *communicator.Communicator) ([]byte, error) {
	return finalizeRounds(ctx, &f.roundState, comm)
}
