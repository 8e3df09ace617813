package version

import (
	"context"
	"fmt"
	"testing"

	"planvault/pkg/chunkstore"
	"planvault/pkg/meta"
	"planvault/pkg/storage"
	"planvault/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memStore 是最小的内存 Blob 后端，版本测试不关心持久化细节
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(_ context.Context, key string, data []byte) error {
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

// testEnv 打包版本测试需要的全部组件和种子数据
type testEnv struct {
	engine   *Engine
	chunks   *chunkstore.Store
	repo     *meta.Repository
	fileID   types.ID
	authorID types.ID
}

// setupTestEngine 构建隔离环境：内存库 + 内存 Blob + 一个文件节点 + 一个作者
func setupTestEngine(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.AllModels()...))

	repo := meta.NewRepository(metaDB)
	chunks := chunkstore.New(metaDB, newMemStore())
	engine := NewEngine(metaDB, chunks, repo)

	ctx := context.Background()

	authorID := types.NewID()
	require.NoError(t, repo.EnsureUser(ctx, authorID, "alice"))

	node := meta.FileNodeModel{
		ID:       types.NewID(),
		Name:     "plan.dwg",
		Path:     "/plan.dwg",
		NodeType: types.NodeFile,
		AreaID:   types.NewID(),
	}
	require.NoError(t, metaDB.GetConn().Create(&node).Error)

	return &testEnv{
		engine:   engine,
		chunks:   chunks,
		repo:     repo,
		fileID:   node.ID,
		authorID: authorID,
	}
}

// mockHash 生成合法但从未入库的测试 Hash
func mockHash(input string) types.Hash {
	return chunkstore.ComputeHash([]byte(input))
}

// mustStoreRefs 把若干数据块写进 Chunk Store 并返回有序引用列表
func mustStoreRefs(t *testing.T, chunks *chunkstore.Store, payloads ...string) []types.ChunkRef {
	t.Helper()
	ctx := context.Background()

	refs := make([]types.ChunkRef, len(payloads))
	for i, p := range payloads {
		data := []byte(p)
		hash := chunkstore.ComputeHash(data)
		_, err := chunks.StoreChunk(ctx, hash, data)
		require.NoError(t, err, "failed to store chunk %d", i)
		refs[i] = types.ChunkRef{Hash: hash, Index: i, Size: int64(len(data))}
	}
	return refs
}

// mustCreateVersion 创建版本，失败则终止
func mustCreateVersion(t *testing.T, env *testEnv, refs []types.ChunkRef, message string) *meta.FileVersionModel {
	t.Helper()
	ver, err := env.engine.CreateVersion(context.Background(), env.fileID, refs, message, env.authorID, nil)
	require.NoError(t, err, "failed to create version %q", message)
	return ver
}
