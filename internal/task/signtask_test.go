package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/internal/repository"
)

func makeGroup(t *testing.T, repo repository.Repository, devices [][]byte, threshold int) *domain.Group {
	ctx := context.Background()
	for _, d := range devices {
		_, err := repo.AddDevice(ctx, d, "name", []byte("cert"))
		require.NoError(t, err)
	}
	g, err := repo.AddGroup(ctx, []byte("group1"), "g", devices, threshold, domain.ProtocolGG18, domain.KeySignPDF, nil)
	require.NoError(t, err)
	return g
}

func TestSignTaskKicksOffAtThreshold(t *testing.T) {
	ctx := context.Background()
	devices := ids(3)
	repo := repository.NewMemory()
	group := makeGroup(t, repo, devices, 2)

	st, err := NewSign("s1", domain.TaskSign, group, []byte("req"), []byte("data"), devices, repo)
	require.NoError(t, err)

	kicked, err := st.Decide(ctx, devices[0], true)
	require.NoError(t, err)
	assert.Nil(t, kicked)

	kicked, err = st.Decide(ctx, devices[1], true)
	require.NoError(t, err)
	require.NotNil(t, kicked)
	assert.True(t, *kicked)
	assert.Equal(t, domain.TaskRunning, st.GetStatus())
}

func TestSignTaskFailsWhenThresholdUnreachable(t *testing.T) {
	ctx := context.Background()
	devices := ids(3)
	repo := repository.NewMemory()
	group := makeGroup(t, repo, devices, 3)

	st, err := NewSign("s2", domain.TaskSign, group, []byte("req"), []byte("data"), devices, repo)
	require.NoError(t, err)

	_, err = st.Decide(ctx, devices[0], true)
	require.NoError(t, err)
	kicked, err := st.Decide(ctx, devices[1], false)
	require.NoError(t, err)
	require.NotNil(t, kicked)
	assert.False(t, *kicked)
	assert.Equal(t, domain.TaskFailed, st.GetStatus())
}

func TestSignTaskSetPreprocessedOverridesSeedNotRequest(t *testing.T) {
	devices := ids(2)
	repo := repository.NewMemory()
	group := makeGroup(t, repo, devices, 2)

	st, err := NewSign("s3", domain.TaskSign, group, []byte("raw-request"), []byte("raw-request"), devices, repo)
	require.NoError(t, err)
	sign := st.(*signTask)
	sign.SetPreprocessed([]byte("canonical-digest"))

	assert.Equal(t, []byte("raw-request"), st.GetRequest())
	assert.Equal(t, []byte("canonical-digest"), sign.seed())
}

func TestSignTaskGetResultOnlyAfterFinished(t *testing.T) {
	ctx := context.Background()
	devices := ids(2)
	repo := repository.NewMemory()
	group := makeGroup(t, repo, devices, 2)

	st, err := NewSign("s4", domain.TaskDecrypt, group, []byte("req"), []byte("data"), devices, repo)
	require.NoError(t, err)

	res, err := st.GetResult()
	require.NoError(t, err)
	assert.Nil(t, res)

	for _, d := range devices {
		_, err := st.Decide(ctx, d, true)
		require.NoError(t, err)
	}
	require.Equal(t, domain.TaskRunning, st.GetStatus())

	proto, _ := st.(*signTask)
	for proto.Round() <= proto.proto.LastRound() {
		for _, d := range devices {
			if !st.WaitingFor(d) {
				continue
			}
			_, err := st.Update(ctx, d, encodeTestBundle(len(devices)), 0)
			require.NoError(t, err)
		}
	}

	assert.Equal(t, domain.TaskFinished, st.GetStatus())
	res, err = st.GetResult()
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, group, res.Group)
}
