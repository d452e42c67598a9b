package rpcadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meesign/meesignd/internal/coordstate"
	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/internal/repository"
)

func newTestClient() (*InProcessClient, repository.Repository) {
	repo := repository.NewMemory()
	state := coordstate.New(repo, nil)
	return NewInProcessClient(state, repo), repo
}

func TestRegisterDeviceAndSubscribe(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient()

	device := []byte("dev1")
	d, err := c.RegisterDevice(ctx, device, "phone", []byte("cert"))
	require.NoError(t, err)
	assert.Equal(t, "phone", d.Name)

	ch, err := c.SubscribeUpdates(ctx, device)
	require.NoError(t, err)
	assert.NotNil(t, ch)

	_, err = c.SubscribeUpdates(ctx, []byte("ghost"))
	assert.Error(t, err)
}

func TestGroupRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient()

	devices := [][]byte{[]byte("a"), []byte("b")}
	for _, d := range devices {
		_, err := c.RegisterDevice(ctx, d, "dev", []byte("cert"))
		require.NoError(t, err)
	}

	view, err := c.GroupRequest(ctx, "my group", devices, 2, domain.ProtocolElGamal, domain.KeyDecrypt)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskGroup, view.TaskType)
	assert.Equal(t, domain.TaskCreated, view.TaskState)

	for _, d := range devices {
		_, err := c.DecideTask(ctx, view.ID, d, true)
		require.NoError(t, err)
	}

	got, err := c.GetTask(ctx, view.ID, devices[0])
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRunning, got.TaskState)
	assert.NotNil(t, got.Work)
}

func TestSignRequestAgainstUnknownGroupFails(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient()
	devices := [][]byte{[]byte("a")}
	_, err := c.SignRequest(ctx, []byte("no-such-group"), "sign", []byte("data"), devices)
	assert.Error(t, err)
}

func TestSignRequestAndUpdateDelegatesToState(t *testing.T) {
	ctx := context.Background()
	c, repo := newTestClient()
	devices := [][]byte{[]byte("a"), []byte("b")}
	for _, d := range devices {
		_, err := c.RegisterDevice(ctx, d, "dev", []byte("cert"))
		require.NoError(t, err)
	}
	group, err := repo.AddGroup(ctx, []byte("g1"), "g", devices, 2, domain.ProtocolGG18, domain.KeySignPDF, nil)
	require.NoError(t, err)

	view, err := c.SignRequest(ctx, group.Identifier, "sign", []byte("data"), devices)
	require.NoError(t, err)

	for _, d := range devices {
		_, err := c.DecideTask(ctx, view.ID, d, true)
		require.NoError(t, err)
	}

	got, err := c.GetTask(ctx, view.ID, devices[0])
	require.NoError(t, err)
	require.NotNil(t, got.Work)

	advanced, err := c.UpdateTask(ctx, view.ID, devices[0], encodeEmptyBundle(len(devices)), 0)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func encodeEmptyBundle(n int) []byte {
	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		out = append(out, 0, 0, 0, 0)
	}
	return out
}

func TestGetTaskUnknownID(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient()
	_, err := c.GetTask(ctx, "ghost", []byte("dev"))
	assert.Error(t, err)
}

func TestAcknowledgeTaskUnknownID(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient()
	err := c.AcknowledgeTask(ctx, "ghost", []byte("dev"))
	assert.Error(t, err)
}
