package upload

import (
	"context"
	"fmt"
	"testing"

	"planvault/pkg/chunkstore"
	"planvault/pkg/meta"
	"planvault/pkg/storage"
	"planvault/pkg/types"
	"planvault/pkg/version"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memStore 最小内存 Blob 后端
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

// testEnv 打包协调器测试需要的组件和种子数据
type testEnv struct {
	coord  *Coordinator
	chunks *chunkstore.Store
	fileID types.ID
	userID types.ID
}

// setupTestCoordinator 构建隔离环境：文件节点和用户已就位
func setupTestCoordinator(t *testing.T) *testEnv {
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
	versions := version.NewEngine(metaDB, chunks, repo)
	coord := NewCoordinator(metaDB, repo, versions)

	ctx := context.Background()

	userID := types.NewID()
	require.NoError(t, repo.EnsureUser(ctx, userID, "bob"))

	node := meta.FileNodeModel{
		ID:       types.NewID(),
		Name:     "site.dwg",
		Path:     "/site.dwg",
		NodeType: types.NodeFile,
		AreaID:   types.NewID(),
	}
	require.NoError(t, metaDB.GetConn().Create(&node).Error)

	return &testEnv{coord: coord, chunks: chunks, fileID: node.ID, userID: userID}
}

// mustUploadChunks 走完整条上传链路：落 Chunk Store + 会话登记
// 返回 finalize 用的有序引用列表
func mustUploadChunks(t *testing.T, env *testEnv, sessionID types.ID, payloads ...string) []types.ChunkRef {
	t.Helper()
	ctx := context.Background()

	refs := make([]types.ChunkRef, len(payloads))
	for i, p := range payloads {
		data := []byte(p)
		hash := chunkstore.ComputeHash(data)

		_, err := env.chunks.StoreChunk(ctx, hash, data)
		require.NoError(t, err)

		_, err = env.coord.RecordChunk(ctx, sessionID, hash, int64(len(data)))
		require.NoError(t, err)

		refs[i] = types.ChunkRef{Hash: hash, Index: i, Size: int64(len(data))}
	}
	return refs
}

func totalLen(payloads ...string) int64 {
	var n int64
	for _, p := range payloads {
		n += int64(len(p))
	}
	return n
}
