package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"planvault/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskAdapter(t *testing.T) {
	// 1. 创建临时测试目录
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()

	// hash("hello world") 的分片 key
	key := "objects/2c/f2/2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	data := []byte("hello world")

	// 2. 测试 Put
	require.NoError(t, store.Put(ctx, key, data))

	// 验证文件是否真的存在于物理磁盘的分片目录
	expectedPath := filepath.Join(tmpDir, "objects", "2c", "f2",
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	_, err = os.Stat(expectedPath)
	assert.NoError(t, err, "文件应该存在于 Sharding 目录中")

	// 3. 测试 Exists
	exists, err := store.Exists(ctx, key)
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "objects/ff/ff/ffff")
	assert.NoError(t, err)
	assert.False(t, exists)

	// 4. 测试 Get
	content, err := store.Get(ctx, key)
	assert.NoError(t, err)
	assert.Equal(t, data, content)

	// 5. 缺失的 key → 哨兵错误
	_, err = store.Get(ctx, "objects/00/00/missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDiskAdapter_IdempotentPut(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	key := "objects/aa/bb/aabb00"

	require.NoError(t, store.Put(ctx, key, []byte("original")))
	// 第二次 Put 是 no-op：CAS 语义下同 key 即同内容
	require.NoError(t, store.Put(ctx, key, []byte("original")))

	content, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), content)
}

func TestDiskAdapter_Delete(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	key := "objects/cc/dd/ccdd00"
	require.NoError(t, store.Put(ctx, key, []byte("ephemeral")))
	require.NoError(t, store.Delete(ctx, key))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	// 删除不存在的对象视为成功
	assert.NoError(t, store.Delete(ctx, key))
}
