package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCloneSharesAtomics(t *testing.T) {
	r := NewRegistry()
	clone := r.Clone()

	r.NodesTotal.Set(3)
	clone.GPUUtilizationPercent.Set("node-1", "0", 42.5)

	contentType, body, err := r.Encode()
	require.NoError(t, err)
	assert.Equal(t, ExpositionContentType, contentType)
	text := string(body)
	assert.Contains(t, text, "nodes_total 3")
	assert.Contains(t, text, `gpu_utilization_percent{gpu_id="0",node_id="node-1"} 42.5`)
}

func TestGPUUtilizationFixedPointPrecision(t *testing.T) {
	r := NewRegistry()
	r.GPUUtilizationPercent.Set("n", "0", 33.335)
	_, body, err := r.Encode()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "33.34") || strings.Contains(string(body), "33.33"))
}
