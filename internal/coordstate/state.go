// Package coordstate holds the process-wide task registry and subscriber
// fanout: it constructs tasks (delegating row insertion to Repository),
// routes update/decide/acknowledge/restart calls to the right task, and
// notifies live subscribers on every state-changing success.
package coordstate

import (
	"context"
	"sync"

	uatomic "go.uber.org/atomic"

	"github.com/meesign/meesignd/coreerrors"
	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/internal/metrics"
	"github.com/meesign/meesignd/internal/repository"
	"github.com/meesign/meesignd/internal/task"
	"github.com/meesign/meesignd/internal/task/groupcert"
	"github.com/meesign/meesignd/log"
)

var logger = log.NewModuleLogger(log.CoordState)

// subscriberBuffer bounds how many unconsumed snapshots a device's channel
// holds before State starts evicting; a slow/vanished subscriber never
// blocks task progress.
const subscriberBuffer = 8

// State is the process-wide registry: the live task map keyed by id, the
// subscriber map keyed by device identifier, and a shared Repository
// reference. A single mutex guards registry lookup/insert only; Task
// handles are retrieved under that lock and then mutated outside it.
type State struct {
	mu    sync.Mutex
	tasks map[string]task.Task

	subMu       sync.Mutex
	subscribers map[string]chan *domain.TaskSnapshot

	repo   repository.Repository
	issuer groupcert.Issuer

	// liveTasks mirrors len(tasks) as an atomic gauge so debug/metrics
	// surfaces can read it without taking mu.
	liveTasks uatomic.Int64
}

// LiveTasks returns the number of tasks currently held in the registry.
func (s *State) LiveTasks() int64 {
	return s.liveTasks.Load()
}

// New constructs an empty State bound to repo. issuer may be nil, in which
// case GroupTask finalize uses groupcert.Fake.
func New(repo repository.Repository, issuer groupcert.Issuer) *State {
	return &State{
		tasks:       make(map[string]task.Task),
		subscribers: make(map[string]chan *domain.TaskSnapshot),
		repo:        repo,
		issuer:      issuer,
	}
}

// Subscribe registers a notification sink for device and returns the
// receive end; any previous subscription for the same device is replaced
// and its channel closed, matching a device that reconnects.
func (s *State) Subscribe(device []byte) <-chan *domain.TaskSnapshot {
	ch := make(chan *domain.TaskSnapshot, subscriberBuffer)
	key := string(device)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if old, ok := s.subscribers[key]; ok {
		close(old)
	}
	s.subscribers[key] = ch
	return ch
}

// Unsubscribe removes and closes device's sink, if any.
func (s *State) Unsubscribe(device []byte) {
	key := string(device)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[key]; ok {
		close(ch)
		delete(s.subscribers, key)
	}
}

// CreateGroupTask mints a DKG task row via Repository and registers the
// live task.
func (s *State) CreateGroupTask(ctx context.Context, name string, request []byte, deviceIDs [][]byte, threshold int, protocol domain.ProtocolType, keyType domain.KeyType) (task.Task, error) {
	if !domain.ValidTaskName(name) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "invalid task name")
	}
	row, err := s.repo.CreateGroupTask(ctx, request, deviceIDs, threshold, protocol, keyType)
	if err != nil {
		return nil, err
	}
	t, err := task.NewGroup(row.ID, name, request, deviceIDs, threshold, protocol, keyType, s.repo, s.issuer)
	if err != nil {
		return nil, err
	}
	s.insert(t)
	return t, nil
}

// CreateSignTask mints a signing task row bound to an existing group.
func (s *State) CreateSignTask(ctx context.Context, groupIdentifier []byte, name string, data []byte, deviceIDs [][]byte) (task.Task, error) {
	return s.createBoundTask(ctx, domain.TaskSign, groupIdentifier, name, data, deviceIDs)
}

// CreateDecryptTask mints a decryption task row bound to an existing group.
func (s *State) CreateDecryptTask(ctx context.Context, groupIdentifier []byte, name string, data []byte, deviceIDs [][]byte) (task.Task, error) {
	return s.createBoundTask(ctx, domain.TaskDecrypt, groupIdentifier, name, data, deviceIDs)
}

func (s *State) createBoundTask(ctx context.Context, tt domain.TaskType, groupIdentifier []byte, name string, data []byte, deviceIDs [][]byte) (task.Task, error) {
	if !domain.ValidTaskName(name) || !domain.ValidTaskData(data) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "invalid task fields")
	}
	group, err := s.repo.GetGroup(ctx, groupIdentifier)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "unknown group %x", groupIdentifier)
	}

	var row *domain.Task
	switch tt {
	case domain.TaskSign:
		row, err = s.repo.CreateSignTask(ctx, groupIdentifier, data, data, deviceIDs, group.Threshold)
	case domain.TaskDecrypt:
		row, err = s.repo.CreateDecryptTask(ctx, groupIdentifier, data, data, deviceIDs, group.Threshold)
	}
	if err != nil {
		return nil, err
	}

	t, err := task.NewSign(row.ID, tt, group, data, data, deviceIDs, s.repo)
	if err != nil {
		return nil, err
	}
	s.insert(t)
	return t, nil
}

func (s *State) insert(t task.Task) {
	s.mu.Lock()
	s.tasks[t.ID()] = t
	s.mu.Unlock()
	s.liveTasks.Inc()
	metrics.TasksCreated.WithLabelValues(t.TaskType().String()).Inc()
}

// GetTask returns the live task for id, or nil if unknown.
func (s *State) GetTask(id string) task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// GetTasks returns every live task, for status/debug surfaces.
func (s *State) GetTasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// UpdateTask routes a protocol-round message to the task, then notifies
// subscribers on success.
func (s *State) UpdateTask(ctx context.Context, id string, device []byte, data []byte, attempt uint32) (bool, error) {
	t := s.GetTask(id)
	if t == nil {
		return false, coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", id)
	}
	advanced, err := t.Update(ctx, device, data, attempt)
	if err != nil {
		return false, err
	}
	if advanced {
		metrics.RoundsAdvanced.Inc()
		s.recordTerminal(t)
		s.sendUpdates(t)
	}
	return advanced, nil
}

// recordTerminal increments the finished/failed counters the instant a
// task reaches a terminal state; sendUpdates reads the same GetStatus value
// a moment later so this stays consistent with what subscribers observe.
func (s *State) recordTerminal(t task.Task) {
	switch t.GetStatus() {
	case domain.TaskFinished:
		metrics.TasksFinished.WithLabelValues(t.TaskType().String()).Inc()
	case domain.TaskFailed:
		metrics.TasksFailed.WithLabelValues(t.TaskType().String()).Inc()
	}
}

// DecideTask routes an accept/reject vote to the task.
func (s *State) DecideTask(ctx context.Context, id string, device []byte, accept bool) (*bool, error) {
	t := s.GetTask(id)
	if t == nil {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", id)
	}
	kicked, err := t.Decide(ctx, device, accept)
	if err != nil {
		return nil, err
	}
	if kicked != nil {
		s.recordTerminal(t)
		s.sendUpdates(t)
	}
	return kicked, nil
}

// AcknowledgeTask routes an acknowledgement to the task.
func (s *State) AcknowledgeTask(ctx context.Context, id string, device []byte) error {
	t := s.GetTask(id)
	if t == nil {
		return coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", id)
	}
	return t.Acknowledge(ctx, device)
}

// RestartTask is invoked by the Timer for stalled tasks.
func (s *State) RestartTask(ctx context.Context, id string) (bool, error) {
	t := s.GetTask(id)
	if t == nil {
		return false, coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", id)
	}
	restarted, err := t.Restart(ctx)
	if err != nil {
		return false, err
	}
	if restarted {
		logger.Info("task restarted by timer", "task", id)
		s.sendUpdates(t)
	}
	return restarted, nil
}

// sendUpdates formats a snapshot for every participant of t that has a live
// subscription and tries to deliver it without blocking; a subscriber whose
// channel refuses the send (its buffer is full) is evicted: the channel is
// closed and removed from the subscriber map. A refused send never fails
// the task.
func (s *State) sendUpdates(t task.Task) {
	batch := newBatchID()
	for _, device := range t.Participants() {
		work, err := t.GetWork(device)
		if err != nil {
			work = nil
		}
		snap := &domain.TaskSnapshot{
			TaskID:       t.ID(),
			TaskState:    t.GetStatus(),
			Round:        t.Round(),
			AttemptCount: t.GetAttempts(),
			Work:         work,
		}
		s.subMu.Lock()
		if ch, ok := s.subscribers[string(device)]; ok {
			select {
			case ch <- snap:
			default:
				logger.Warn("evicting slow subscriber", "batch", batch, "device", device, "task", t.ID())
				close(ch)
				delete(s.subscribers, string(device))
			}
		}
		s.subMu.Unlock()
	}
}

// EvictClosed does nothing and is not called by the Timer's sweep or
// anywhere else in this package. Go channels give no direct signal for
// "receiver vanished", so subscriptions are removed by sendUpdates when a
// send is refused and through Unsubscribe.
func (s *State) EvictClosed() {}
