package version

import (
	"testing"

	"planvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCommitHash_Deterministic(t *testing.T) {
	payload := commitPayload{
		FileNodeID:    "b7f9a6e2-12cd-4e21-9f30-0f4d1a2b3c4d",
		VersionNumber: 7,
		ChunkRefs: []types.ChunkRef{
			{Hash: mockHash("chunk-0"), Index: 0, Size: 1024},
			{Hash: mockHash("chunk-1"), Index: 1, Size: 512},
		},
		AuthorID:  "0e8c1d2f-3a4b-5c6d-7e8f-9a0b1c2d3e4f",
		Timestamp: 1700000000,
	}

	// 规范化编码：同一载荷永远算出同一个哈希
	h1, err := computeCommitHash(payload)
	require.NoError(t, err)
	h2, err := computeCommitHash(payload)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.True(t, h1.IsValid())

	// 时间戳是载荷的一部分：变时间就变哈希
	payload.Timestamp++
	h3, err := computeCommitHash(payload)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
