package task

import (
	"context"

	"github.com/meesign/meesignd/internal/communicator"
	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/internal/protocol"
	"github.com/meesign/meesignd/internal/repository"
)

// signTask covers both Sign and Decrypt task types: both are bound to a
// pre-existing Group, draw threshold and participant set from it, and run
// to completion once enough of the quorum accepts.
type signTask struct {
	base

	group *domain.Group

	// preprocessed, if set, is fed to Protocol.Initialize in place of
	// request, without mutating the request the client originally sent
	// (e.g. a canonicalised PDF-digest substitution).
	preprocessed []byte
}

// NewSign constructs a SignTask or DecryptTask (selected by tt, which must
// be TaskSign or TaskDecrypt) bound to group. request seeds the protocol
// unless SetPreprocessed installs a substitution; data is not stored.
func NewSign(id string, tt domain.TaskType, group *domain.Group, request []byte, data []byte, participants [][]byte, repo repository.Repository) (Task, error) {
	proto, err := protocol.New(group.Protocol, tt)
	if err != nil {
		return nil, err
	}
	return &signTask{
		base: base{
			id:        id,
			taskType:  tt,
			state:     domain.TaskCreated,
			threshold: group.Threshold,
			request:   request,
			comm:      communicator.New(participants),
			proto:     proto,
			repo:      repo,
		},
		group: group,
	}, nil
}

// SetPreprocessed installs a canonicalised payload substitution that feeds
// protocol initialization in place of the raw request; it does not alter
// GetRequest's output.
func (t *signTask) SetPreprocessed(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.preprocessed = data
}

func (t *signTask) seed() []byte {
	if t.preprocessed != nil {
		return t.preprocessed
	}
	return t.request
}

// signKickoffRule requires only the group's threshold to accept, and fails
// as soon as enough devices have rejected that the threshold can no longer
// be reached.
func (t *signTask) kickoffRule(accept, reject, total int) (kickoff, fail bool) {
	if reject > total-t.threshold {
		return false, true
	}
	return accept >= t.threshold, false
}

func (t *signTask) Decide(ctx context.Context, device []byte, accept bool) (*bool, error) {
	return t.base.decideWithSeed(ctx, device, accept, t.kickoffRule, t.seed())
}

func (t *signTask) Update(ctx context.Context, device []byte, data []byte, attempt uint32) (bool, error) {
	return t.base.update(ctx, device, data, attempt, t.onFinalize)
}

func (t *signTask) Restart(ctx context.Context) (bool, error) {
	return t.base.restartWithSeed(ctx, t.seed())
}

func (t *signTask) GetResult() (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != domain.TaskFinished {
		return nil, nil
	}
	return &Result{Group: t.group, Bytes: t.resultBytes}, nil
}

func (t *signTask) onFinalize(ctx context.Context, artifact []byte) error {
	return nil
}
