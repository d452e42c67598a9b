// Package repository is the durable store for devices, groups, tasks,
// task-device membership and per-task results. It
// exposes a narrow async (context-aware) data-access contract; callers
// never see SQL or gorm types.
package repository

import (
	"context"
	"time"

	"github.com/meesign/meesignd/internal/domain"
)

// Repository is the data-access contract consumed by internal/task and
// internal/coordstate. Every method returns a coreerrors-tagged error on
// failure (InvalidArgument for validation/uniqueness failures,
// StorageError for anything else).
type Repository interface {
	AddDevice(ctx context.Context, identifier []byte, name string, cert []byte) (*domain.Device, error)
	GetDevices(ctx context.Context) ([]*domain.Device, error)
	GetDevice(ctx context.Context, identifier []byte) (*domain.Device, error)
	ActivateDevice(ctx context.Context, identifier []byte) (*domain.Device, error)

	AddGroup(ctx context.Context, identifier []byte, name string, deviceIDs [][]byte, threshold int, protocol domain.ProtocolType, keyType domain.KeyType, cert []byte) (*domain.Group, error)
	GetGroups(ctx context.Context) ([]*domain.Group, error)
	GetGroup(ctx context.Context, identifier []byte) (*domain.Group, error)
	GetDeviceGroups(ctx context.Context, deviceIdentifier []byte) ([]*domain.Group, error)

	CreateGroupTask(ctx context.Context, request []byte, deviceIDs [][]byte, threshold int, protocol domain.ProtocolType, keyType domain.KeyType) (*domain.Task, error)
	CreateSignTask(ctx context.Context, groupIdentifier []byte, request []byte, data []byte, deviceIDs [][]byte, threshold int) (*domain.Task, error)
	CreateDecryptTask(ctx context.Context, groupIdentifier []byte, request []byte, data []byte, deviceIDs [][]byte, threshold int) (*domain.Task, error)

	GetTask(ctx context.Context, id string) (*domain.Task, error)
	GetTasks(ctx context.Context) ([]*domain.Task, error)
	GetTaskDevices(ctx context.Context, id string) ([]*domain.Device, error)
	GetTasksForRestart(ctx context.Context, stallTimeout time.Duration) ([]*domain.Task, error)

	SetTaskLastUpdate(ctx context.Context, id string) error
	IncrementTaskAttemptCount(ctx context.Context, id string) error
	SetTaskState(ctx context.Context, id string, state domain.TaskState) error
	SetTaskResult(ctx context.Context, id string, result []byte) error
	SetTaskError(ctx context.Context, id string, msg string) error
}
