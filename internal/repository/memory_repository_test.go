package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meesign/meesignd/internal/domain"
)

func TestMemoryAddDevice(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()

	d, err := r.AddDevice(ctx, []byte("dev1"), "phone", []byte("cert"))
	require.NoError(t, err)
	assert.Equal(t, "phone", d.Name)

	_, err = r.AddDevice(ctx, []byte("dev1"), "phone2", []byte("cert"))
	assert.Error(t, err)

	_, err = r.AddDevice(ctx, nil, "phone", []byte("cert"))
	assert.Error(t, err)
}

func TestMemoryAddGroupValidatesThresholdAndPair(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	devices := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, d := range devices {
		_, err := r.AddDevice(ctx, d, "name", []byte("cert"))
		require.NoError(t, err)
	}

	_, err := r.AddGroup(ctx, []byte("g1"), "group", devices, 4, domain.ProtocolGG18, domain.KeySignPDF, nil)
	assert.Error(t, err)

	_, err = r.AddGroup(ctx, []byte("g1"), "group", devices, 2, domain.ProtocolFROST, domain.KeySignPDF, nil)
	assert.Error(t, err)

	g, err := r.AddGroup(ctx, []byte("g1"), "group", devices, 2, domain.ProtocolGG18, domain.KeySignPDF, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Threshold)

	groups, err := r.GetDeviceGroups(ctx, []byte("a"))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, g.Identifier, groups[0].Identifier)
}

func TestMemoryCreateSignTaskRequiresKnownGroup(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	_, err := r.CreateSignTask(ctx, []byte("missing"), []byte("req"), []byte("data"), nil, 1)
	assert.Error(t, err)
}

func TestMemoryTaskLifecycleBookkeeping(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	devices := [][]byte{[]byte("a"), []byte("b")}
	for _, d := range devices {
		_, err := r.AddDevice(ctx, d, "name", []byte("cert"))
		require.NoError(t, err)
	}
	g, err := r.AddGroup(ctx, []byte("g1"), "group", devices, 2, domain.ProtocolGG18, domain.KeySignPDF, nil)
	require.NoError(t, err)

	task, err := r.CreateSignTask(ctx, g.Identifier, []byte("req"), []byte("data"), devices, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCreated, task.TaskState)

	require.NoError(t, r.SetTaskState(ctx, task.ID, domain.TaskRunning))
	require.NoError(t, r.IncrementTaskAttemptCount(ctx, task.ID))
	require.NoError(t, r.SetTaskLastUpdate(ctx, task.ID))

	got, err := r.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRunning, got.TaskState)
	assert.Equal(t, uint32(1), got.AttemptCount)

	require.NoError(t, r.SetTaskResult(ctx, task.ID, []byte("sig")))
	got, _ = r.GetTask(ctx, task.ID)
	assert.Equal(t, domain.TaskFinished, got.TaskState)
	assert.Equal(t, []byte("sig"), got.ResultData)
}

func TestMemoryGetTasksForRestart(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	devices := [][]byte{[]byte("a")}
	_, err := r.AddDevice(ctx, devices[0], "name", []byte("cert"))
	require.NoError(t, err)

	task, err := r.CreateGroupTask(ctx, []byte("req"), devices, 1, domain.ProtocolGG18, domain.KeySignPDF)
	require.NoError(t, err)

	stalled, err := r.GetTasksForRestart(ctx, 0*time.Second)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, task.ID, stalled[0].ID)

	stalled, err = r.GetTasksForRestart(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stalled)
}
