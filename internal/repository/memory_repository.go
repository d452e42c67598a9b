package repository

import (
	"context"
	"sync"
	"time"

	"github.com/meesign/meesignd/coreerrors"
	"github.com/meesign/meesignd/internal/domain"
)

// memoryRepository is an in-process Repository used by tests and by the
// in-process rpcadapter fake client; it implements the Repository contract
// without a SQL fixture. Unlike the gorm-backed store, AddGroup and the
// Create*Task methods do not check that the given device identifiers
// belong to enrolled devices.
type memoryRepository struct {
	mu sync.Mutex

	devices      map[string]*domain.Device // identifier -> device
	groups       map[string]*domain.Group  // identifier -> group
	groupDevices map[string][][]byte       // group identifier -> member identifiers
	tasks        map[string]*domain.Task   // id -> task
	taskDevices  map[string][][]byte       // task id -> participant identifiers
	nextID       int64
}

// NewMemory constructs an empty in-memory Repository.
func NewMemory() Repository {
	return &memoryRepository{
		devices:      make(map[string]*domain.Device),
		groups:       make(map[string]*domain.Group),
		groupDevices: make(map[string][][]byte),
		tasks:        make(map[string]*domain.Task),
		taskDevices:  make(map[string][][]byte),
	}
}

func (m *memoryRepository) AddDevice(ctx context.Context, identifier []byte, name string, cert []byte) (*domain.Device, error) {
	if !domain.ValidIdentifier(identifier) || !domain.ValidDeviceName(name) || len(cert) == 0 {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "invalid device fields")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[string(identifier)]; ok {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "device %x already enrolled", identifier)
	}
	m.nextID++
	d := &domain.Device{ID: m.nextID, Identifier: identifier, Name: name, Certificate: cert, LastActive: time.Now().UTC()}
	m.devices[string(identifier)] = d
	return d, nil
}

func (m *memoryRepository) GetDevices(ctx context.Context) ([]*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Device, 0, len(m.devices))
	for _, d := range m.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memoryRepository) GetDevice(ctx context.Context, identifier []byte) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[string(identifier)]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *memoryRepository) ActivateDevice(ctx context.Context, identifier []byte) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[string(identifier)]
	if !ok {
		return nil, nil
	}
	d.LastActive = time.Now().UTC()
	cp := *d
	return &cp, nil
}

func (m *memoryRepository) AddGroup(ctx context.Context, identifier []byte, name string, deviceIDs [][]byte, threshold int, protocol domain.ProtocolType, keyType domain.KeyType, cert []byte) (*domain.Group, error) {
	if !domain.ValidIdentifier(identifier) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "empty group identifier")
	}
	if !domain.ValidThreshold(threshold, len(deviceIDs)) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "threshold %d invalid for %d devices", threshold, len(deviceIDs))
	}
	if !domain.ValidProtocolKeyTypePair(protocol, keyType) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "protocol %s does not admit key type %s", protocol, keyType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	g := &domain.Group{ID: m.nextID, Identifier: identifier, Name: name, Threshold: threshold, Protocol: protocol, KeyType: keyType, Certificate: cert}
	m.groups[string(identifier)] = g
	m.groupDevices[string(identifier)] = deviceIDs
	return g, nil
}

func (m *memoryRepository) GetGroups(ctx context.Context) ([]*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memoryRepository) GetGroup(ctx context.Context, identifier []byte) (*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[string(identifier)]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *memoryRepository) GetDeviceGroups(ctx context.Context, deviceIdentifier []byte) ([]*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Group
	for identifier, members := range m.groupDevices {
		for _, member := range members {
			if string(member) == string(deviceIdentifier) {
				cp := *m.groups[identifier]
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryRepository) createTask(taskType domain.TaskType, groupID *int64, request, data []byte, deviceIDs [][]byte, threshold int, protocol *domain.ProtocolType, keyType *domain.KeyType) (*domain.Task, error) {
	id, err := domain.NewTaskID()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "generate task id")
	}
	t := &domain.Task{
		ID:            id,
		TaskType:      taskType,
		TaskState:     domain.TaskCreated,
		ProtocolRound: 0,
		AttemptCount:  0,
		LastUpdate:    time.Now().UTC(),
		Threshold:     threshold,
		GroupID:       groupID,
		TaskData:      data,
		Request:       request,
		ProtocolType:  protocol,
		KeyType:       keyType,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id] = t
	m.taskDevices[id] = deviceIDs
	return t, nil
}

func (m *memoryRepository) CreateGroupTask(ctx context.Context, request []byte, deviceIDs [][]byte, threshold int, protocol domain.ProtocolType, keyType domain.KeyType) (*domain.Task, error) {
	if !domain.ValidProtocolKeyTypePair(protocol, keyType) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "protocol %s does not admit key type %s", protocol, keyType)
	}
	if !domain.ValidThreshold(threshold, len(deviceIDs)) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "threshold %d invalid for %d devices", threshold, len(deviceIDs))
	}
	return m.createTask(domain.TaskGroup, nil, request, nil, deviceIDs, threshold, &protocol, &keyType)
}

func (m *memoryRepository) CreateSignTask(ctx context.Context, groupIdentifier []byte, request []byte, data []byte, deviceIDs [][]byte, threshold int) (*domain.Task, error) {
	if !domain.ValidTaskData(data) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "invalid sign task payload size")
	}
	g, err := m.GetGroup(ctx, groupIdentifier)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "unknown group %x", groupIdentifier)
	}
	return m.createTask(domain.TaskSign, &g.ID, request, data, deviceIDs, threshold, &g.Protocol, &g.KeyType)
}

func (m *memoryRepository) CreateDecryptTask(ctx context.Context, groupIdentifier []byte, request []byte, data []byte, deviceIDs [][]byte, threshold int) (*domain.Task, error) {
	if !domain.ValidTaskData(data) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "invalid decrypt task payload size")
	}
	g, err := m.GetGroup(ctx, groupIdentifier)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "unknown group %x", groupIdentifier)
	}
	return m.createTask(domain.TaskDecrypt, &g.ID, request, data, deviceIDs, threshold, &g.Protocol, &g.KeyType)
}

func (m *memoryRepository) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memoryRepository) GetTasks(ctx context.Context) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memoryRepository) GetTaskDevices(ctx context.Context, id string) ([]*domain.Device, error) {
	m.mu.Lock()
	ids := m.taskDevices[id]
	m.mu.Unlock()
	out := make([]*domain.Device, 0, len(ids))
	for _, id := range ids {
		d, _ := m.GetDevice(ctx, id)
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memoryRepository) GetTasksForRestart(ctx context.Context, stallTimeout time.Duration) ([]*domain.Task, error) {
	cutoff := time.Now().UTC().Add(-stallTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if (t.TaskState == domain.TaskCreated || t.TaskState == domain.TaskRunning) && t.LastUpdate.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryRepository) SetTaskLastUpdate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", id)
	}
	t.LastUpdate = time.Now().UTC()
	return nil
}

func (m *memoryRepository) IncrementTaskAttemptCount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", id)
	}
	t.AttemptCount++
	return nil
}

func (m *memoryRepository) SetTaskState(ctx context.Context, id string, state domain.TaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", id)
	}
	t.TaskState = state
	return nil
}

func (m *memoryRepository) SetTaskResult(ctx context.Context, id string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", id)
	}
	t.TaskState = domain.TaskFinished
	t.ResultData = result
	t.LastUpdate = time.Now().UTC()
	return nil
}

func (m *memoryRepository) SetTaskError(ctx context.Context, id string, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return coreerrors.New(coreerrors.InvalidArgument, "unknown task %s", id)
	}
	t.TaskState = domain.TaskFailed
	t.ErrorMessage = &msg
	t.LastUpdate = time.Now().UTC()
	return nil
}
