// Package rpcadapter defines the transport-facing façade over
// internal/coordstate: the logical method list a
// bidirectional streaming RPC would expose, independent of any concrete
// gRPC/HTTP binding (out of scope). Boundary validation
// (name length, control characters, payload size) is not done in this
// package: it happens in coordstate.State and again in Repository.
package rpcadapter

import (
	"context"

	"github.com/meesign/meesignd/internal/domain"
)

// TaskView is the return-message shape for a task: id, type, state, round,
// attempt_count and the calling device's optional work bytes.
type TaskView struct {
	ID           string
	TaskType     domain.TaskType
	TaskState    domain.TaskState
	Round        uint16
	AttemptCount uint32
	Work         []byte
}

// Adapter is the method surface a transport binding drives. Every call is
// made on behalf of device, the identifier the transport authenticated the
// peer as.
type Adapter interface {
	RegisterDevice(ctx context.Context, device []byte, name string, cert []byte) (*domain.Device, error)
	SubscribeUpdates(ctx context.Context, device []byte) (<-chan *domain.TaskSnapshot, error)

	GroupRequest(ctx context.Context, name string, deviceIDs [][]byte, threshold int, protocol domain.ProtocolType, keyType domain.KeyType) (*TaskView, error)
	SignRequest(ctx context.Context, groupIdentifier []byte, name string, data []byte, deviceIDs [][]byte) (*TaskView, error)
	DecryptRequest(ctx context.Context, groupIdentifier []byte, name string, data []byte, deviceIDs [][]byte) (*TaskView, error)

	GetTask(ctx context.Context, taskID string, device []byte) (*TaskView, error)
	UpdateTask(ctx context.Context, taskID string, device []byte, data []byte, attempt uint32) (bool, error)
	DecideTask(ctx context.Context, taskID string, device []byte, accept bool) (*bool, error)
	AcknowledgeTask(ctx context.Context, taskID string, device []byte) error
}
