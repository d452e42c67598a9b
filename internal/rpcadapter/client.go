package rpcadapter

import (
	"context"

	"github.com/meesign/meesignd/coreerrors"
	"github.com/meesign/meesignd/internal/coordstate"
	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/internal/repository"
	"github.com/meesign/meesignd/internal/task"
)

// InProcessClient is an in-process Adapter implementation: it drives
// State/Repository directly rather than over any wire transport, so
// integration tests exercise the full stack end to end.
type InProcessClient struct {
	state *coordstate.State
	repo  repository.Repository
}

// NewInProcessClient builds an Adapter backed by state and repo.
func NewInProcessClient(state *coordstate.State, repo repository.Repository) *InProcessClient {
	return &InProcessClient{state: state, repo: repo}
}

func (c *InProcessClient) RegisterDevice(ctx context.Context, device []byte, name string, cert []byte) (*domain.Device, error) {
	return c.repo.AddDevice(ctx, device, name, cert)
}

func (c *InProcessClient) SubscribeUpdates(ctx context.Context, device []byte) (<-chan *domain.TaskSnapshot, error) {
	d, err := c.repo.GetDevice(ctx, device)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "unknown device %x", device)
	}
	return c.state.Subscribe(device), nil
}

func (c *InProcessClient) GroupRequest(ctx context.Context, name string, deviceIDs [][]byte, threshold int, protocol domain.ProtocolType, keyType domain.KeyType) (*TaskView, error) {
	t, err := c.state.CreateGroupTask(ctx, name, nil, deviceIDs, threshold, protocol, keyType)
	if err != nil {
		return nil, err
	}
	return viewOf(t, nil), nil
}

func (c *InProcessClient) SignRequest(ctx context.Context, groupIdentifier []byte, name string, data []byte, deviceIDs [][]byte) (*TaskView, error) {
	t, err := c.state.CreateSignTask(ctx, groupIdentifier, name, data, deviceIDs)
	if err != nil {
		return nil, err
	}
	return viewOf(t, nil), nil
}

func (c *InProcessClient) DecryptRequest(ctx context.Context, groupIdentifier []byte, name string, data []byte, deviceIDs [][]byte) (*TaskView, error) {
	t, err := c.state.CreateDecryptTask(ctx, groupIdentifier, name, data, deviceIDs)
	if err != nil {
		return nil, err
	}
	return viewOf(t, nil), nil
}

func (c *InProcessClient) GetTask(ctx context.Context, taskID string, device []byte) (*TaskView, error) {
	t := c.state.GetTask(taskID)
	if t == nil {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", taskID)
	}
	work, err := t.GetWork(device)
	if err != nil {
		work = nil
	}
	return viewOf(t, work), nil
}

func (c *InProcessClient) UpdateTask(ctx context.Context, taskID string, device []byte, data []byte, attempt uint32) (bool, error) {
	return c.state.UpdateTask(ctx, taskID, device, data, attempt)
}

func (c *InProcessClient) DecideTask(ctx context.Context, taskID string, device []byte, accept bool) (*bool, error) {
	return c.state.DecideTask(ctx, taskID, device, accept)
}

func (c *InProcessClient) AcknowledgeTask(ctx context.Context, taskID string, device []byte) error {
	return c.state.AcknowledgeTask(ctx, taskID, device)
}

func viewOf(t task.Task, work []byte) *TaskView {
	return &TaskView{
		ID:           t.ID(),
		TaskType:     t.TaskType(),
		TaskState:    t.GetStatus(),
		Round:        t.Round(),
		AttemptCount: t.GetAttempts(),
		Work:         work,
	}
}
