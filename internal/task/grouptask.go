package task

import (
	"context"

	"github.com/meesign/meesignd/coreerrors"
	"github.com/meesign/meesignd/internal/communicator"
	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/internal/protocol"
	"github.com/meesign/meesignd/internal/repository"
	"github.com/meesign/meesignd/internal/task/groupcert"
)

// groupTask is the DKG variant: every invited device must accept before the
// protocol kicks off, any single rejection fails the task outright, and a
// successful finalize synthesizes a new Group row (with a certificate for
// protocols that carry one) rather than a bare result blob.
type groupTask struct {
	base

	name     string
	protocol domain.ProtocolType
	keyType  domain.KeyType
	issuer   groupcert.Issuer

	result *Result
}

// NewGroup constructs a GroupTask bound to the given invitees. request is
// the opaque client-supplied payload surfaced verbatim via GetRequest.
func NewGroup(id string, name string, request []byte, participants [][]byte, threshold int, p domain.ProtocolType, kt domain.KeyType, repo repository.Repository, issuer groupcert.Issuer) (Task, error) {
	proto, err := protocol.New(p, domain.TaskGroup)
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		issuer = &groupcert.Fake{}
	}
	return &groupTask{
		base: base{
			id:        id,
			taskType:  domain.TaskGroup,
			state:     domain.TaskCreated,
			threshold: threshold,
			request:   request,
			comm:      communicator.New(participants),
			proto:     proto,
			repo:      repo,
		},
		name:     name,
		protocol: p,
		keyType:  kt,
		issuer:   issuer,
	}, nil
}

// groupKickoffRule requires unanimous acceptance to kick off: a DKG group
// either includes every invited device or none.
func groupKickoffRule(accept, reject, total int) (kickoff, fail bool) {
	if reject > 0 {
		return false, true
	}
	return accept == total, false
}

func (t *groupTask) Decide(ctx context.Context, device []byte, accept bool) (*bool, error) {
	return t.base.decide(ctx, device, accept, groupKickoffRule)
}

func (t *groupTask) Update(ctx context.Context, device []byte, data []byte, attempt uint32) (bool, error) {
	return t.base.update(ctx, device, data, attempt, t.onFinalize)
}

func (t *groupTask) Restart(ctx context.Context) (bool, error) {
	return t.base.restart(ctx)
}

func (t *groupTask) GetResult() (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != domain.TaskFinished {
		return nil, nil
	}
	return t.result, nil
}

// onFinalize is called from base.advanceRound with t.mu released for its
// duration, so the certificate helper's subprocess wait never blocks other
// readers of the task; it must not touch t.mu-guarded fields other than
// t.result, which is only ever read after t.state reaches TaskFinished.
func (t *groupTask) onFinalize(ctx context.Context, artifact []byte) error {
	var cert []byte
	if t.protocol == domain.ProtocolGG18 {
		issued, err := t.issuer.Issue(ctx, artifact, artifact)
		if err != nil {
			return coreerrors.Wrap(coreerrors.ExternalHelperError, err, "certificate issuance failed")
		}
		cert = issued
	}

	group, err := t.repo.AddGroup(ctx, artifact, t.name, t.comm.Participants(), t.threshold, t.protocol, t.keyType, cert)
	if err != nil {
		return coreerrors.Wrap(coreerrors.StorageError, err, "persist group")
	}
	t.result = &Result{Group: group}
	return nil
}
