// Package task implements the per-task orchestrator: a Task composes a
// Protocol, a Communicator and a persisted row, and exposes a uniform
// contract consumed by the coordination State registry. GroupTask (DKG)
// and SignTask (signing/decryption) are the two variants, dispatched by a
// tagged union rather than a class hierarchy.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/meesign/meesignd/coreerrors"
	"github.com/meesign/meesignd/internal/communicator"
	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/internal/protocol"
	"github.com/meesign/meesignd/internal/repository"
	"github.com/meesign/meesignd/log"
)

var logger = log.NewModuleLogger(log.Task)

// Result is the artifact produced by a finished Task: a Group for DKG, or
// raw signature/plaintext bytes for sign/decrypt.
type Result struct {
	Group *domain.Group
	Bytes []byte
}

// Task is the uniform contract both variants implement.
type Task interface {
	ID() string
	TaskType() domain.TaskType
	GetStatus() domain.TaskState
	Round() uint16
	GetWork(device []byte) ([]byte, error)
	GetResult() (*Result, error)
	Update(ctx context.Context, device []byte, data []byte, attempt uint32) (bool, error)
	Decide(ctx context.Context, device []byte, accept bool) (*bool, error)
	Restart(ctx context.Context) (bool, error)
	Acknowledge(ctx context.Context, device []byte) error
	WaitingFor(device []byte) bool
	IsApproved() bool
	GetDecisions() map[string]domain.Decision
	GetAttempts() uint32
	GetRequest() []byte
	Participants() [][]byte
	Threshold() int
}

// base holds the bookkeeping shared by groupTask and signTask: the
// repository row mirror, the protocol instance, the communicator, and the
// mutex ordering (the Communicator carries its
// own RWMutex; this mutex additionally serializes the repository-row
// mirror and decision bookkeeping that live outside it).
type base struct {
	mu sync.Mutex

	id           string
	taskType     domain.TaskType
	state        domain.TaskState
	attempt      uint32
	threshold    int
	request      []byte
	errorMessage *string
	resultBytes  []byte

	comm *communicator.Communicator
	proto protocol.Protocol
	repo  repository.Repository

	decided map[string]bool // not populated; decisions are read from comm
}

func (b *base) ID() string                  { return b.id }
func (b *base) TaskType() domain.TaskType   { return b.taskType }
func (b *base) Threshold() int              { return b.threshold }
func (b *base) Participants() [][]byte      { return b.comm.Participants() }
func (b *base) GetRequest() []byte          { return b.request }

func (b *base) GetStatus() domain.TaskState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) Round() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.proto.Round()
}

func (b *base) GetAttempts() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

func (b *base) IsApproved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != domain.TaskCreated
}

func (b *base) GetDecisions() map[string]domain.Decision {
	out := make(map[string]domain.Decision, len(b.comm.Participants()))
	for _, p := range b.comm.Participants() {
		switch b.comm.DecisionOf(p) {
		case communicator.DecisionAccepted:
			out[string(p)] = domain.DecisionAccepted
		case communicator.DecisionRejected:
			out[string(p)] = domain.DecisionRejected
		default:
			out[string(p)] = domain.DecisionPending
		}
	}
	return out
}

// acceptedDevices returns the subset of participants that voted to accept,
// the quorum that actually runs the protocol rounds. Called at kickoff,
// before Protocol.Initialize, so a rejecting or never-deciding device is
// never waited on.
func (b *base) acceptedDevices() [][]byte {
	var out [][]byte
	for _, p := range b.comm.Participants() {
		if b.comm.DecisionOf(p) == communicator.DecisionAccepted {
			out = append(out, p)
		}
	}
	return out
}

// WaitingFor implements the phase table: round 0
// awaits a decision from any device that hasn't decided; 1..last_round
// awaits protocol messages; beyond last_round awaits acknowledgement.
func (b *base) WaitingFor(device []byte) bool {
	if !b.comm.IsParticipant(device) {
		return false
	}
	b.mu.Lock()
	round := b.proto.Round()
	lastRound := b.proto.LastRound()
	b.mu.Unlock()
	switch {
	case round == 0:
		return !b.comm.DeviceDecided(device)
	case round <= lastRound:
		return b.comm.WaitingFor(device)
	default:
		return !b.comm.DeviceAcknowledged(device)
	}
}

func (b *base) GetWork(device []byte) ([]byte, error) {
	if !b.comm.IsParticipant(device) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "device %x is not a participant of this task", device)
	}
	b.mu.Lock()
	round := b.proto.Round()
	lastRound := b.proto.LastRound()
	b.mu.Unlock()
	if round == 0 || round > lastRound {
		return nil, nil
	}
	return b.comm.GetMessage(device), nil
}

func (b *base) Acknowledge(ctx context.Context, device []byte) error {
	if !b.comm.IsParticipant(device) {
		return coreerrors.New(coreerrors.InvalidArgument, "device %x is not a participant of this task", device)
	}
	b.comm.Acknowledge(device)
	return nil
}

// recordFailure transitions the task to Failed, persisting the error
// message, per the failure semantics/7.
func (b *base) recordFailure(ctx context.Context, msg string) {
	b.state = domain.TaskFailed
	b.errorMessage = &msg
	if b.repo != nil {
		if err := b.repo.SetTaskError(ctx, b.id, msg); err != nil {
			logger.Error("failed to persist task error", "task", b.id, "err", err)
		}
	}
	logger.Warn("task failed", "task", b.id, "reason", msg)
}

func (b *base) recordFinished(ctx context.Context, result []byte) {
	b.state = domain.TaskFinished
	b.resultBytes = result
	if b.repo != nil {
		if err := b.repo.SetTaskResult(ctx, b.id, result); err != nil {
			logger.Error("failed to persist task result", "task", b.id, "err", err)
		}
	}
	logger.Info("task finished", "task", b.id)
}

// advanceRound runs the round-advance algorithm: if
// more rounds remain, call Protocol.Advance; otherwise call
// Protocol.Finalize and transition to Finished/Failed based on its result.
// Returns true if the round actually advanced (including a terminal
// finalize), matching Update's documented return value.
//
// onFinalize may be a slow, blocking call (e.g. a certificate-issuer
// subprocess), so advanceRound releases b.mu for its duration rather than
// holding the task lock across it; the caller (update) must therefore not
// rely on b.mu being held continuously across this call.
func (b *base) advanceRound(ctx context.Context, onFinalize func(ctx context.Context, artifact []byte) error) (bool, error) {
	if b.proto.Round() < b.proto.LastRound() {
		if err := b.proto.Advance(ctx, b.comm); err != nil {
			return false, coreerrors.Wrap(coreerrors.ProtocolError, err, "advance failed")
		}
		b.touch(ctx)
		return true, nil
	}

	artifact, err := b.proto.Finalize(ctx, b.comm)
	if err != nil || artifact == nil {
		msg := "no output"
		if err != nil {
			msg = err.Error()
		}
		b.recordFailure(ctx, msg)
		b.touch(ctx)
		return true, nil
	}

	if onFinalize != nil {
		b.mu.Unlock()
		finalizeErr := onFinalize(ctx, artifact)
		b.mu.Lock()
		if finalizeErr != nil {
			b.recordFailure(ctx, finalizeErr.Error())
			b.touch(ctx)
			return true, nil
		}
	}
	b.recordFinished(ctx, artifact)
	b.touch(ctx)
	return true, nil
}

func (b *base) touch(ctx context.Context) {
	if b.repo == nil {
		return
	}
	if err := b.repo.SetTaskLastUpdate(ctx, b.id); err != nil {
		logger.Error("failed to touch task last_update", "task", b.id, "err", err)
	}
}

// checkAttempt rejects stale updates.
func (b *base) checkAttempt(attempt uint32) error {
	if attempt != b.attempt {
		return coreerrors.New(coreerrors.StaleUpdate, "task %s: attempt %d does not match current attempt %d", b.id, attempt, b.attempt)
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }

// kickoffRule decides, given the current accept/reject tally and the total
// participant count, whether the task should kick off or fail outright.
// groupTask and signTask supply different thresholds.
type kickoffRule func(accept, reject, total int) (kickoff, fail bool)

// decide implements the Task.Decide contract shared by both variants:
// record the vote, then evaluate rule to see whether the task should now
// kick off (Protocol.Initialize) or fail.
func (b *base) decide(ctx context.Context, device []byte, accept bool, rule kickoffRule) (*bool, error) {
	return b.decideWithSeed(ctx, device, accept, rule, b.request)
}

// decideWithSeed is decide with an explicit initialization seed, letting
// signTask substitute its preprocessed payload without mutating b.request.
func (b *base) decideWithSeed(ctx context.Context, device []byte, accept bool, rule kickoffRule, seed []byte) (*bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.proto.Round() != 0 {
		return nil, coreerrors.New(coreerrors.ProtocolError, "task %s already kicked off", b.id)
	}
	if !b.comm.IsParticipant(device) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "device %x is not a participant of task %s", device, b.id)
	}

	b.comm.Decide(device, accept)
	total := len(b.comm.Participants())
	kickoff, fail := rule(b.comm.AcceptCount(), b.comm.RejectCount(), total)

	switch {
	case fail:
		b.recordFailure(ctx, "participants rejected the task")
		b.touch(ctx)
		result := false
		return &result, nil
	case kickoff:
		b.comm.SetActiveDevices(b.acceptedDevices())
		if err := b.proto.Initialize(ctx, b.comm, seed); err != nil {
			return nil, coreerrors.Wrap(coreerrors.ProtocolError, err, "initialize failed")
		}
		b.state = domain.TaskRunning
		if b.repo != nil {
			if err := b.repo.SetTaskState(ctx, b.id, domain.TaskRunning); err != nil {
				logger.Error("failed to persist running state", "task", b.id, "err", err)
			}
		}
		b.touch(ctx)
		result := true
		return &result, nil
	default:
		return nil, nil
	}
}

// update implements the Task.Update contract shared by both variants:
// reject stale/out-of-phase/non-participant input, store the device's
// inbound bundle, and advance the round if the Communicator now reports it
// complete.
func (b *base) update(ctx context.Context, device []byte, data []byte, attempt uint32, onFinalize func(ctx context.Context, artifact []byte) error) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	round := b.proto.Round()
	if round == 0 {
		return false, coreerrors.New(coreerrors.ProtocolError, "task %s has not been approved yet", b.id)
	}
	if round > b.proto.LastRound() {
		return false, coreerrors.New(coreerrors.ProtocolError, "task %s is awaiting acknowledgement, not messages", b.id)
	}
	if !b.comm.IsParticipant(device) {
		return false, coreerrors.New(coreerrors.InvalidArgument, "device %x is not a participant of task %s", device, b.id)
	}
	if !b.comm.WaitingFor(device) {
		return false, coreerrors.New(coreerrors.ProtocolError, "task %s is not waiting for device %x", b.id, device)
	}
	if err := b.checkAttempt(attempt); err != nil {
		return false, err
	}

	messages := communicator.DecodeBundle(data)
	if err := b.comm.ReceiveMessages(device, messages); err != nil {
		return false, coreerrors.Wrap(coreerrors.ProtocolError, err, "malformed update")
	}

	if !b.comm.RoundReceived() {
		return false, nil
	}
	return b.advanceRound(ctx, onFinalize)
}

// restart implements the Task.Restart contract: a Finished task is never
// restarted; a task that was never approved (still Created) has nothing to
// restart; otherwise the protocol rewinds to round 0, re-initializes (kept
// decisions are preserved by ResetForRestart), and the attempt counter
// increments.
func (b *base) restart(ctx context.Context) (bool, error) {
	return b.restartWithSeed(ctx, b.request)
}

// restartWithSeed is restart with an explicit initialization seed, letting
// signTask substitute its preprocessed payload without mutating b.request.
func (b *base) restartWithSeed(ctx context.Context, seed []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == domain.TaskFinished {
		return false, nil
	}
	if b.proto.Round() == 0 && b.state == domain.TaskCreated {
		return false, nil
	}

	b.proto.Reset()
	b.comm.ResetForRestart()
	if err := b.proto.Initialize(ctx, b.comm, seed); err != nil {
		return false, coreerrors.Wrap(coreerrors.ProtocolError, err, "restart initialize failed")
	}
	b.state = domain.TaskRunning
	b.attempt++
	if b.repo != nil {
		if err := b.repo.IncrementTaskAttemptCount(ctx, b.id); err != nil {
			logger.Error("failed to persist attempt increment", "task", b.id, "err", err)
		}
		if err := b.repo.SetTaskState(ctx, b.id, domain.TaskRunning); err != nil {
			logger.Error("failed to persist running state", "task", b.id, "err", err)
		}
	}
	b.touch(ctx)
	logger.Info("task restarted", "task", b.id, "attempt", b.attempt)
	return true, nil
}
