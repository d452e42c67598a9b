package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/internal/repository"
	"github.com/meesign/meesignd/internal/task/groupcert"
)

func ids(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte('a' + i)}
	}
	return out
}

// encodeTestBundle builds a length-prefixed bundle of n empty per-sender
// messages, matching the wire framing communicator.DecodeBundle expects.
func encodeTestBundle(n int) []byte {
	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		out = append(out, 0, 0, 0, 0)
	}
	return out
}

func TestGroupTaskUnanimousAcceptKicksOff(t *testing.T) {
	ctx := context.Background()
	devices := ids(3)
	repo := repository.NewMemory()
	for _, d := range devices {
		_, err := repo.AddDevice(ctx, d, "name", []byte("cert"))
		require.NoError(t, err)
	}

	gt, err := NewGroup("g1", "group", []byte("seed"), devices, 2, domain.ProtocolFROST, domain.KeySignChallenge, repo, &groupcert.Fake{})
	require.NoError(t, err)

	kicked, err := gt.Decide(ctx, devices[0], true)
	require.NoError(t, err)
	assert.Nil(t, kicked)

	kicked, err = gt.Decide(ctx, devices[1], true)
	require.NoError(t, err)
	assert.Nil(t, kicked)

	kicked, err = gt.Decide(ctx, devices[2], true)
	require.NoError(t, err)
	require.NotNil(t, kicked)
	assert.True(t, *kicked)
	assert.Equal(t, domain.TaskRunning, gt.GetStatus())
	assert.Equal(t, uint16(1), gt.Round())
}

func TestGroupTaskSingleRejectionFails(t *testing.T) {
	ctx := context.Background()
	devices := ids(3)
	repo := repository.NewMemory()
	for _, d := range devices {
		_, err := repo.AddDevice(ctx, d, "name", []byte("cert"))
		require.NoError(t, err)
	}

	gt, err := NewGroup("g2", "group", []byte("seed"), devices, 2, domain.ProtocolFROST, domain.KeySignChallenge, repo, nil)
	require.NoError(t, err)

	_, err = gt.Decide(ctx, devices[0], true)
	require.NoError(t, err)

	kicked, err := gt.Decide(ctx, devices[1], false)
	require.NoError(t, err)
	require.NotNil(t, kicked)
	assert.False(t, *kicked)
	assert.Equal(t, domain.TaskFailed, gt.GetStatus())
}

func TestGroupTaskFinalizeCreatesGroup(t *testing.T) {
	ctx := context.Background()
	devices := ids(2)
	repo := repository.NewMemory()
	for _, d := range devices {
		_, err := repo.AddDevice(ctx, d, "name", []byte("cert"))
		require.NoError(t, err)
	}

	gt, err := NewGroup("g3", "mygroup", []byte("seed"), devices, 2, domain.ProtocolElGamal, domain.KeyDecrypt, repo, &groupcert.Fake{})
	require.NoError(t, err)

	for _, d := range devices {
		_, err := gt.Decide(ctx, d, true)
		require.NoError(t, err)
	}
	require.Equal(t, domain.TaskRunning, gt.GetStatus())

	// ElGamalGroup runs two rounds; keep delivering bundles from every
	// participant until the protocol finalizes.
	for gt.GetStatus() == domain.TaskRunning {
		for _, d := range devices {
			if !gt.WaitingFor(d) {
				continue
			}
			_, err := gt.Update(ctx, d, encodeTestBundle(len(devices)), 0)
			require.NoError(t, err)
		}
	}

	assert.Equal(t, domain.TaskFinished, gt.GetStatus())
	res, err := gt.GetResult()
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Group)
	assert.Equal(t, "mygroup", res.Group.Name)
}

func TestGroupTaskRestartPreservesDecisions(t *testing.T) {
	ctx := context.Background()
	devices := ids(2)
	repo := repository.NewMemory()
	for _, d := range devices {
		_, err := repo.AddDevice(ctx, d, "name", []byte("cert"))
		require.NoError(t, err)
	}

	gt, err := NewGroup("g4", "group", []byte("seed"), devices, 2, domain.ProtocolFROST, domain.KeySignChallenge, repo, nil)
	require.NoError(t, err)
	for _, d := range devices {
		_, err := gt.Decide(ctx, d, true)
		require.NoError(t, err)
	}
	require.Equal(t, uint16(1), gt.Round())

	restarted, err := gt.Restart(ctx)
	require.NoError(t, err)
	assert.True(t, restarted)
	assert.Equal(t, uint16(1), gt.Round())
	assert.Equal(t, uint32(1), gt.GetAttempts())
	decisions := gt.GetDecisions()
	for _, d := range devices {
		assert.Equal(t, domain.DecisionAccepted, decisions[string(d)])
	}
}

func TestGroupTaskRestartNoOpBeforeApproval(t *testing.T) {
	ctx := context.Background()
	devices := ids(2)
	repo := repository.NewMemory()
	for _, d := range devices {
		_, err := repo.AddDevice(ctx, d, "name", []byte("cert"))
		require.NoError(t, err)
	}
	gt, err := NewGroup("g5", "group", []byte("seed"), devices, 2, domain.ProtocolFROST, domain.KeySignChallenge, repo, nil)
	require.NoError(t, err)

	restarted, err := gt.Restart(ctx)
	require.NoError(t, err)
	assert.False(t, restarted)
}
