package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := HeartbeatMessage{NodeID: "node-1"}
	data, err := Encode(TypeHeartbeat, msg)
	require.NoError(t, err)

	frame, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, frame.Type)

	var decoded HeartbeatMessage
	require.NoError(t, json.Unmarshal(frame.Raw, &decoded))
	assert.Equal(t, msg.NodeID, decoded.NodeID)
}

func TestDecodeMissingTypeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"node_id":"x"}`))
	assert.Error(t, err)
}

func TestEncodeWorkloadUpdateRoundTrip(t *testing.T) {
	reason := "bad image"
	msg := WorkloadUpdateMessage{WorkloadID: "w1", State: "failed", Message: &reason}
	data, err := Encode(TypeWorkloadUpdate, msg)
	require.NoError(t, err)

	frame, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeWorkloadUpdate, frame.Type)

	var decoded WorkloadUpdateMessage
	require.NoError(t, json.Unmarshal(frame.Raw, &decoded))
	assert.Equal(t, msg.WorkloadID, decoded.WorkloadID)
	require.NotNil(t, decoded.Message)
	assert.Equal(t, reason, *decoded.Message)
}

func TestEncodeMeshPeerConfigRoundTrip(t *testing.T) {
	keepalive := 25
	msg := MeshPeerConfigMessage{
		PublicKey:     "abc123",
		Endpoint:      "10.0.0.5:51820",
		AllowedIPs:    []string{"10.100.0.2/32"},
		KeepaliveSecs: &keepalive,
	}
	data, err := Encode(TypeMeshPeerConfig, msg)
	require.NoError(t, err)

	frame, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeMeshPeerConfig, frame.Type)

	var decoded MeshPeerConfigMessage
	require.NoError(t, json.Unmarshal(frame.Raw, &decoded))
	assert.Equal(t, msg.PublicKey, decoded.PublicKey)
	assert.Equal(t, msg.AllowedIPs, decoded.AllowedIPs)
	require.NotNil(t, decoded.KeepaliveSecs)
	assert.Equal(t, keepalive, *decoded.KeepaliveSecs)
}
