package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meesign/meesignd/internal/communicator"
	"github.com/meesign/meesignd/internal/domain"
)

func ids(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte('a' + i)}
	}
	return out
}

func runToFinish(t *testing.T, p Protocol, comm *communicator.Communicator, numParticipants int) []byte {
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx, comm, []byte("seed")))
	assert.Equal(t, uint16(1), p.Round())

	for p.Round() < p.LastRound() {
		receiveAllMessages(t, comm, numParticipants)
		require.NoError(t, p.Advance(ctx, comm))
	}
	receiveAllMessages(t, comm, numParticipants)
	artifact, err := p.Finalize(ctx, comm)
	require.NoError(t, err)
	return artifact
}

func receiveAllMessages(t *testing.T, comm *communicator.Communicator, numParticipants int) {
	for _, d := range comm.Participants() {
		msgs := make([][]byte, numParticipants)
		require.NoError(t, comm.ReceiveMessages(d, msgs))
	}
}

func TestNewDispatchesKnownCombinations(t *testing.T) {
	cases := []struct {
		p  domain.ProtocolType
		tt domain.TaskType
	}{
		{domain.ProtocolGG18, domain.TaskGroup},
		{domain.ProtocolGG18, domain.TaskSign},
		{domain.ProtocolGG18, domain.TaskDecrypt},
		{domain.ProtocolFROST, domain.TaskGroup},
		{domain.ProtocolFROST, domain.TaskSign},
		{domain.ProtocolElGamal, domain.TaskGroup},
		{domain.ProtocolElGamal, domain.TaskDecrypt},
	}
	for _, c := range cases {
		proto, err := New(c.p, c.tt)
		require.NoError(t, err)
		assert.Equal(t, c.p, proto.Type())
		assert.Equal(t, uint16(0), proto.Round())
	}
}

func TestNewRejectsUnsupportedCombination(t *testing.T) {
	_, err := New(domain.ProtocolFROST, domain.TaskDecrypt)
	assert.Error(t, err)
}

func TestGG18GroupRunsToCompletion(t *testing.T) {
	devices := ids(3)
	comm := communicator.New(devices)
	proto, err := New(domain.ProtocolGG18, domain.TaskGroup)
	require.NoError(t, err)

	artifact := runToFinish(t, proto, comm, 3)
	assert.NotEmpty(t, artifact)
	assert.Equal(t, proto.LastRound()+1, proto.Round())
	assert.Equal(t, artifact, comm.GetFinalMessage())
}

func TestProtocolResetRewindsRound(t *testing.T) {
	devices := ids(2)
	comm := communicator.New(devices)
	proto, err := New(domain.ProtocolElGamal, domain.TaskDecrypt)
	require.NoError(t, err)

	require.NoError(t, proto.Initialize(context.Background(), comm, []byte("seed")))
	assert.Equal(t, uint16(1), proto.Round())

	proto.Reset()
	assert.Equal(t, uint16(0), proto.Round())
}

func TestAdvanceRejectsIncompleteRound(t *testing.T) {
	devices := ids(2)
	comm := communicator.New(devices)
	proto, err := New(domain.ProtocolFROST, domain.TaskGroup)
	require.NoError(t, err)
	require.NoError(t, proto.Initialize(context.Background(), comm, []byte("seed")))

	err = proto.Advance(context.Background(), comm)
	assert.Error(t, err)
}
