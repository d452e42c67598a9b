package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidDeviceName(t *testing.T) {
	assert.True(t, ValidDeviceName("alice phone"))
	assert.False(t, ValidDeviceName(""))
	assert.False(t, ValidDeviceName(strings.Repeat("a", MaxDeviceNameLen+1)))
	assert.False(t, ValidDeviceName("alice;drop"))
	assert.False(t, ValidDeviceName("alice\x00"))
}

func TestValidTaskName(t *testing.T) {
	assert.True(t, ValidTaskName("quarterly report v2"))
	assert.False(t, ValidTaskName(""))
	assert.False(t, ValidTaskName(strings.Repeat("a", MaxSignTaskNameLen+1)))
	assert.False(t, ValidTaskName("bad\nname"))
}

func TestValidTaskData(t *testing.T) {
	assert.True(t, ValidTaskData([]byte("x")))
	assert.False(t, ValidTaskData(nil))
	assert.False(t, ValidTaskData(make([]byte, MaxTaskDataLen+1)))
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier([]byte{1}))
	assert.False(t, ValidIdentifier(nil))
}

func TestValidThreshold(t *testing.T) {
	assert.True(t, ValidThreshold(1, 3))
	assert.True(t, ValidThreshold(3, 3))
	assert.False(t, ValidThreshold(0, 3))
	assert.False(t, ValidThreshold(4, 3))
}

func TestValidProtocolKeyTypePair(t *testing.T) {
	assert.True(t, ValidProtocolKeyTypePair(ProtocolGG18, KeySignPDF))
	assert.True(t, ValidProtocolKeyTypePair(ProtocolGG18, KeySignChallenge))
	assert.False(t, ValidProtocolKeyTypePair(ProtocolGG18, KeyDecrypt))
	assert.True(t, ValidProtocolKeyTypePair(ProtocolFROST, KeySignChallenge))
	assert.False(t, ValidProtocolKeyTypePair(ProtocolFROST, KeySignPDF))
	assert.True(t, ValidProtocolKeyTypePair(ProtocolElGamal, KeyDecrypt))
	assert.False(t, ValidProtocolKeyTypePair(ProtocolElGamal, KeySignPDF))
}
