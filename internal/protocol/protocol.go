// Package protocol defines the abstract four-operation contract every MPC
// protocol variant implements: initialize, advance, finalize and the
// round/last_round/type accessors. Protocol implementations are pure state
// machines — they mutate only the Communicator passed to them and perform
// no I/O, persistence or networking of their own. The concrete crypto
// bodies (GG18, FROST, ElGamal) are not implemented here; the variants
// below are deterministic stand-ins that exercise the full round contract
// so Task, Communicator and State are exercised end to end.
package protocol

import (
	"context"

	"github.com/meesign/meesignd/internal/communicator"
	"github.com/meesign/meesignd/internal/domain"
)

// Protocol is the contract a Task drives to advance its MPC rounds.
type Protocol interface {
	// Initialize is performed at kickoff, after the caller has marked the
	// active devices on comm: it enqueues round-1 outbound messages for
	// every active participant and sets round := 1.
	Initialize(ctx context.Context, comm *communicator.Communicator, seed []byte) error
	// Advance moves buffered inbound messages through a relay step and sets
	// round := round+1. Precondition: 1 <= round < LastRound().
	Advance(ctx context.Context, comm *communicator.Communicator) error
	// Finalize consumes the final inbound bundle, sets round := LastRound()+1,
	// and returns the resulting artifact, or nil if the protocol aborted.
	// Precondition: round == LastRound().
	Finalize(ctx context.Context, comm *communicator.Communicator) ([]byte, error)
	// Round returns the protocol's current round; 0 means not yet kicked off.
	Round() uint16
	// LastRound returns the fixed number of rounds this protocol runs.
	LastRound() uint16
	// Type identifies the protocol family.
	Type() domain.ProtocolType
	// Reset rewinds the protocol to round 0 so Initialize may run again;
	// used by Task.Restart.
	Reset()
}

// New constructs the Protocol variant for the given (protocol, task type)
// pair. tt selects between a protocol's DKG variant and its signing or
// decryption variant; unsupported pairs return an InvalidArgument error.
func New(p domain.ProtocolType, tt domain.TaskType) (Protocol, error) {
	switch {
	case p == domain.ProtocolGG18 && tt == domain.TaskGroup:
		return newGG18Group(), nil
	case p == domain.ProtocolGG18 && (tt == domain.TaskSign || tt == domain.TaskDecrypt):
		return newGG18Sign(), nil
	case p == domain.ProtocolFROST && tt == domain.TaskGroup:
		return newFROSTGroup(), nil
	case p == domain.ProtocolFROST && tt == domain.TaskSign:
		return newFROSTSign(), nil
	case p == domain.ProtocolElGamal && tt == domain.TaskGroup:
		return newElGamalGroup(), nil
	case p == domain.ProtocolElGamal && tt == domain.TaskDecrypt:
		return newElGamalDecrypt(), nil
	default:
		return nil, errUnsupportedCombination(p, tt)
	}
}
