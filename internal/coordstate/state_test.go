package coordstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/internal/repository"
)

func registerDevices(t *testing.T, repo repository.Repository, n int) [][]byte {
	devices := make([][]byte, n)
	for i := 0; i < n; i++ {
		devices[i] = []byte{byte('a' + i)}
		_, err := repo.AddDevice(context.Background(), devices[i], "dev", []byte("cert"))
		require.NoError(t, err)
	}
	return devices
}

func TestCreateGroupTaskRegistersLiveTask(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	s := New(repo, nil)
	devices := registerDevices(t, repo, 3)

	tk, err := s.CreateGroupTask(ctx, "my group", []byte("req"), devices, 2, domain.ProtocolElGamal, domain.KeyDecrypt)
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Equal(t, int64(1), s.LiveTasks())
	assert.Same(t, tk, s.GetTask(tk.ID()))
}

func TestCreateGroupTaskRejectsInvalidName(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	s := New(repo, nil)
	devices := registerDevices(t, repo, 2)

	_, err := s.CreateGroupTask(ctx, "", []byte("req"), devices, 2, domain.ProtocolElGamal, domain.KeyDecrypt)
	assert.Error(t, err)
}

func TestCreateSignTaskRequiresExistingGroup(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	s := New(repo, nil)
	devices := registerDevices(t, repo, 2)

	_, err := s.CreateSignTask(ctx, []byte("missing-group"), "sign it", []byte("payload"), devices)
	assert.Error(t, err)
}

func TestCreateSignTaskBindsToGroup(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	s := New(repo, nil)
	devices := registerDevices(t, repo, 3)

	group, err := repo.AddGroup(ctx, []byte("grp1"), "g", devices, 2, domain.ProtocolGG18, domain.KeySignPDF, nil)
	require.NoError(t, err)

	tk, err := s.CreateSignTask(ctx, group.Identifier, "sign it", []byte("payload"), devices)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSign, tk.TaskType())
	assert.Equal(t, 2, tk.Threshold())
}

func TestSubscribeReplacesPriorChannel(t *testing.T) {
	repo := repository.NewMemory()
	s := New(repo, nil)
	device := []byte("dev1")

	first := s.Subscribe(device)
	second := s.Subscribe(device)

	_, open := <-first
	assert.False(t, open, "first channel should be closed when replaced")

	select {
	case <-second:
		t.Fatal("second channel should have no pending message")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	repo := repository.NewMemory()
	s := New(repo, nil)
	device := []byte("dev1")

	ch := s.Subscribe(device)
	s.Unsubscribe(device)
	_, open := <-ch
	assert.False(t, open)
}

func TestDecideTaskNotifiesSubscriberOnKickoff(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	s := New(repo, nil)
	devices := registerDevices(t, repo, 2)

	tk, err := s.CreateGroupTask(ctx, "g", []byte("req"), devices, 2, domain.ProtocolElGamal, domain.KeyDecrypt)
	require.NoError(t, err)

	ch := s.Subscribe(devices[0])

	kicked, err := s.DecideTask(ctx, tk.ID(), devices[0], true)
	require.NoError(t, err)
	assert.Nil(t, kicked)

	kicked, err = s.DecideTask(ctx, tk.ID(), devices[1], true)
	require.NoError(t, err)
	require.NotNil(t, kicked)
	assert.True(t, *kicked)

	select {
	case snap := <-ch:
		assert.Equal(t, tk.ID(), snap.TaskID)
		assert.Equal(t, domain.TaskRunning, snap.TaskState)
	default:
		t.Fatal("expected a snapshot to be delivered on kickoff")
	}
}

func TestDecideTaskUnknownID(t *testing.T) {
	repo := repository.NewMemory()
	s := New(repo, nil)
	_, err := s.DecideTask(context.Background(), "ghost", []byte("dev"), true)
	assert.Error(t, err)
}

func TestUpdateTaskAdvancesAndNotifies(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	s := New(repo, nil)
	devices := registerDevices(t, repo, 2)

	tk, err := s.CreateGroupTask(ctx, "g", []byte("req"), devices, 2, domain.ProtocolElGamal, domain.KeyDecrypt)
	require.NoError(t, err)

	ch := s.Subscribe(devices[0])
	for _, d := range devices {
		_, err := s.DecideTask(ctx, tk.ID(), d, true)
		require.NoError(t, err)
	}
	<-ch // drain the kickoff snapshot

	advanced, err := s.UpdateTask(ctx, tk.ID(), devices[0], encodeEmptyBundle(len(devices)), 0)
	require.NoError(t, err)
	assert.False(t, advanced, "round is incomplete until every participant reports")

	advanced, err = s.UpdateTask(ctx, tk.ID(), devices[1], encodeEmptyBundle(len(devices)), 0)
	require.NoError(t, err)
	assert.True(t, advanced)

	select {
	case snap := <-ch:
		assert.Equal(t, tk.ID(), snap.TaskID)
	default:
		t.Fatal("expected a snapshot to be delivered after the round advanced")
	}
}

func TestUpdateTaskUnknownID(t *testing.T) {
	repo := repository.NewMemory()
	s := New(repo, nil)
	_, err := s.UpdateTask(context.Background(), "ghost", []byte("dev"), nil, 0)
	assert.Error(t, err)
}

func TestRestartTaskViaTimerSweep(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	s := New(repo, nil)
	devices := registerDevices(t, repo, 2)

	tk, err := s.CreateGroupTask(ctx, "g", []byte("req"), devices, 2, domain.ProtocolElGamal, domain.KeyDecrypt)
	require.NoError(t, err)
	for _, d := range devices {
		_, err := s.DecideTask(ctx, tk.ID(), d, true)
		require.NoError(t, err)
	}
	require.Equal(t, uint16(1), tk.Round())

	timer := NewTimer(s, repo, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	timer.tick(ctx)

	assert.Equal(t, uint32(1), tk.GetAttempts())
	assert.Equal(t, uint16(1), tk.Round())
	assert.Equal(t, int64(1), timer.Ticks())
}

func TestTimerActivatesSubscribedDevices(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	s := New(repo, nil)
	devices := registerDevices(t, repo, 1)

	s.Subscribe(devices[0])
	timer := NewTimer(s, repo, time.Hour)
	timer.tick(ctx)

	got, err := repo.GetDevice(ctx, devices[0])
	require.NoError(t, err)
	assert.False(t, got.LastActive.IsZero())
}

func encodeEmptyBundle(n int) []byte {
	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		out = append(out, 0, 0, 0, 0)
	}
	return out
}
