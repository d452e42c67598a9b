package protocol

import (
	"context"

	"github.com/meesign/meesignd/internal/communicator"
	"github.com/meesign/meesignd/internal/domain"
)

// elgamalGroupLastRound fixes ElGamal key generation at two rounds.
const elgamalGroupLastRound uint16 = 2

// ElGamalGroup is the distributed-key-generation variant backing Decrypt
// groups. Decrypt tasks run ElGamalDecrypt below; there is no ElGamalSign
// type because decryption, not signing, is ElGamal's only admissible
// key_type.
type ElGamalGroup struct{ roundState }

func newElGamalGroup() *ElGamalGroup {
	return &ElGamalGroup{roundState{lastRound: elgamalGroupLastRound, ptype: domain.ProtocolElGamal}}
}

func (e *ElGamalGroup) Initialize(ctx context.Context, comm *communicator.Communicator, seed []byte) error {
	return initializeRounds(ctx, &e.roundState, comm, seed)
}
func (e *ElGamalGroup) Advance(ctx context.Context, comm *communicator.Communicator) error {
	return advanceRounds(ctx, &e.roundState, comm)
}
func (e *ElGamalGroup) Finalize(ctx context.Context, comm *communicator.Communicator) ([]byte, error) {
	return finalizeRounds(ctx, &e.roundState, comm)
}

// elgamalDecryptLastRound is implementation-defined; a threshold decryption
// under ElGamal needs one round for partial decryption shares to combine.
const elgamalDecryptLastRound uint16 = 1

// ElGamalDecrypt runs the threshold-decryption round for a Decrypt task
// bound to an existing ElGamal group.
type ElGamalDecrypt struct{ roundState }

func newElGamalDecrypt() *ElGamalDecrypt {
	return &ElGamalDecrypt{roundState{lastRound: elgamalDecryptLastRound, ptype: domain.ProtocolElGamal}}
}

func (e *ElGamalDecrypt) Initialize(ctx context.Context, comm *communicator.Communicator, seed []byte) error {
	return initializeRounds(ctx, &e.roundState, comm, seed)
}
func (e *ElGamalDecrypt) Advance(ctx context.Context, comm *communicator.Communicator) error {
	return advanceRounds(ctx, &e.roundState, comm)
}
func (e *ElGamalDecrypt) Finalize(ctx context.Context, comm *communicator.Communicator) ([]byte, error) {
	return finalizeRounds(ctx, &e.roundState, comm)
}
