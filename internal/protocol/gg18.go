package protocol

import (
	"context"

	"github.com/meesign/meesignd/internal/communicator"
	"github.com/meesign/meesignd/internal/domain"
)

// gg18GroupLastRound and gg18SignLastRound fix the number of rounds each
// GG18 flavor runs: DKG and signing/decryption need different round counts.
const (
	gg18GroupLastRound uint16 = 6
	gg18SignLastRound  uint16 = 10
)

// GG18Group is the distributed-key-generation variant of GG18.
type GG18Group struct{ roundState }

func newGG18Group() *GG18Group {
	return &GG18Group{roundState{lastRound: gg18GroupLastRound, ptype: domain.ProtocolGG18}}
}

func (g *GG18Group) Initialize(ctx context.Context, comm *communicator.Communicator, seed []byte) error {
	return initializeRounds(ctx, &g.roundState, comm, seed)
}
func (g *GG18Group) Advance(ctx context.Context, comm *communicator.Communicator) error {
	return advanceRounds(ctx, &g.roundState, comm)
}
func (g *GG18Group) Finalize(ctx context.Context, comm *communicator.Communicator) ([]byte, error) {
	return finalizeRounds(ctx, &g.roundState, comm)
}

// GG18Sign is the threshold-signing variant of GG18, also used for
// PDF/challenge signing per the Group's key_type.
type GG18Sign struct{ roundState }

func newGG18Sign() *GG18Sign {
	return &GG18Sign{roundState{lastRound: gg18SignLastRound, ptype: domain.ProtocolGG18}}
}

func (g *GG18Sign) Initialize(ctx context.Context, comm *communicator.Communicator, seed []byte) error {
	return initializeRounds(ctx, &g.roundState, comm, seed)
}
func (g *GG18Sign) Advance(ctx context.Context, comm *communicator.Communicator) error {
	return advanceRounds(ctx, &g.roundState, comm)
}
func (g *GG18Sign) Finalize(ctx context.Context, comm *communicator.Communicator) ([]byte, error) {
	return finalizeRounds(ctx, &g.roundState, comm)
}
