package meta

import (
	"context"
	"testing"

	"planvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_EnsureUser_Idempotency(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	userID := types.NewID()

	// 1. 写入两次
	mustEnsureUser(t, repo, userID, "alice", "1st write failed")
	mustEnsureUser(t, repo, userID, "alice", "2nd write (idempotency check) failed")

	// 2. 验证数据库中只有一条记录 (副作用检查)
	var count int64
	err := repo.db.GetConn().Model(&UserModel{}).Where("id = ?", userID).Count(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "Should have exactly 1 record after duplicate inserts")

	// 3. 存在性检查
	ok, err := repo.UserExists(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRepository_UserExists_Unknown(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	ok, err := repo.UserExists(context.Background(), types.NewID())
	require.NoError(t, err)
	assert.False(t, ok, "Unknown user must not exist")
}

func TestRepository_GetFileNode(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	// 1. 未知节点 → 哨兵错误
	_, err := repo.GetFileNode(ctx, types.NewID())
	assert.ErrorIs(t, err, ErrNodeNotFound)

	// 2. 写入后可以读回
	node := FileNodeModel{
		ID:       types.NewID(),
		Name:     "plan.dwg",
		Path:     "/plan.dwg",
		NodeType: types.NodeFile,
		AreaID:   types.NewID(),
	}
	require.NoError(t, db.GetConn().Create(&node).Error)

	got, err := repo.GetFileNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.Path, got.Path)
	assert.Equal(t, types.NodeFile, got.NodeType)
}
