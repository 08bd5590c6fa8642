package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPUAllocatorLowestIndicesFirst(t *testing.T) {
	a := NewGPUAllocator(4)

	got, err := a.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got)
	assert.Equal(t, 2, a.AvailableCount())
}

func TestGPUAllocatorNoPartialAllocation(t *testing.T) {
	a := NewGPUAllocator(2)

	_, err := a.Allocate(3)
	assert.Error(t, err)
	var insufficient *InsufficientGPUsError
	assert.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, a.AvailableCount())
}

func TestGPUAllocatorReleaseReturnsIndices(t *testing.T) {
	a := NewGPUAllocator(4)

	got, err := a.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, 0, a.AvailableCount())

	a.Release(got)
	assert.Equal(t, 4, a.AvailableCount())

	again, err := a.Allocate(1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, again)
}
