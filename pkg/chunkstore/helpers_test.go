package chunkstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"planvault/pkg/meta"
	"planvault/pkg/storage"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// spyStore 是带计数器的内存 Blob 后端
// 用来断言“去重时绝不重写 Blob”这类副作用
type spyStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putCalls int
	getCalls int
}

func newSpyStore() *spyStore {
	return &spyStore{objects: map[string][]byte{}}
}

func (s *spyStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *spyStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (s *spyStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *spyStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// setupTestStore 构建隔离的 Chunk Store (sqlite 内存库 + spy 后端)
func setupTestStore(t *testing.T) (*Store, *spyStore) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(&meta.ChunkModel{}))

	blobs := newSpyStore()
	return New(metaDB, blobs), blobs
}
