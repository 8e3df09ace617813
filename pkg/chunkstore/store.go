package chunkstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"planvault/pkg/meta"
	"planvault/pkg/storage"
	"planvault/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrHashMismatch 申报哈希与实际内容不符 (损坏或恶意上传)
	ErrHashMismatch = errors.New("chunk hash mismatch")

	// ErrChunkNotFound 元数据里没有这个 Chunk
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrBlobMissing 元数据存在但 Blob 后端没有对应对象
	// 这是比 NotFound 严重得多的状况：两个存储系统失去同步了
	ErrBlobMissing = errors.New("chunk metadata exists but blob is missing")
)

// Store 在 Blob 后端之上实现内容寻址的去重 Chunk 存储
// 引用计数归它管；物理回收 (GC) 不归它管
type Store struct {
	db    *meta.DB
	blobs storage.Store
}

func New(db *meta.DB, blobs storage.Store) *Store {
	return &Store{db: db, blobs: blobs}
}

// ComputeHash 计算数据块的内容哈希 (SHA-256 Hex)
func ComputeHash(data []byte) types.Hash {
	sum := sha256.Sum256(data)
	return types.Hash(hex.EncodeToString(sum[:]))
}

// StorageKey 从内容哈希推导 Blob key
// 两级两位十六进制前缀目录，限制后端单目录扇出
// 布局 objects/{aa}/{bb}/{hash} 是存储格式契约，所有调用点必须一致
func StorageKey(hash types.Hash) string {
	h := string(hash)
	return fmt.Sprintf("objects/%s/%s/%s", h[0:2], h[2:4], h)
}

// MissingChunks 返回尚未入库的哈希子集 (保持输入顺序)
// 纯查询，无副作用；空输入返回空输出
func (s *Store) MissingChunks(ctx context.Context, hashes []types.Hash) ([]types.Hash, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	var existing []string
	err := s.db.GetConn().WithContext(ctx).
		Model(&meta.ChunkModel{}).
		Where("chunk_hash IN ?", hashes).
		Pluck("chunk_hash", &existing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk metadata: %w", err)
	}

	known := make(map[types.Hash]struct{}, len(existing))
	for _, h := range existing {
		known[types.Hash(h)] = struct{}{}
	}

	var missing []types.Hash
	seen := make(map[types.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if _, ok := known[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// StoreChunk 写入一个 Chunk，带去重
//
// 去重契约：同哈希已存在时只递增 ref_count，绝不重写 Blob。
// 并发安全靠两点保证：
//  1. “存在性检查 + 递增”合并为单条 UPDATE (数据库行锁天然原子)；
//  2. 新插入走 ON CONFLICT DO NOTHING，输掉插入竞赛的一方回退到递增路径。
//
// 跨资源顺序是“先写 Blob 再提交元数据”：崩溃最多留下孤儿 Blob (可回收)，
// 绝不会出现指向空 Blob 的元数据行。
func (s *Store) StoreChunk(ctx context.Context, hash types.Hash, data []byte) (*meta.ChunkModel, error) {
	// 1. 重算摘要，防御损坏/恶意上传
	actual := ComputeHash(data)
	if actual != hash {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, hash, actual)
	}

	conn := s.db.GetConn().WithContext(ctx)

	// 2. 快路径：原子递增
	// UPDATE chunks SET ref_count = ref_count + 1 WHERE chunk_hash = ?
	// RowsAffected == 1 说明 Chunk 已存在且计数已安全 +1，完全不碰 Blob
	res := conn.Model(&meta.ChunkModel{}).
		Where("chunk_hash = ?", string(hash)).
		Update("ref_count", gorm.Expr("ref_count + 1"))
	if res.Error != nil {
		return nil, fmt.Errorf("failed to bump ref count: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return s.getByHash(ctx, hash)
	}

	// 3. 新 Chunk：先落 Blob
	key := StorageKey(hash)
	if err := s.blobs.Put(ctx, key, data); err != nil {
		// Blob 失败 -> 不建元数据行
		return nil, fmt.Errorf("blob write failed for chunk %s: %w", hash, err)
	}

	// 4. 再插元数据。与并发写入者竞赛时用 ON CONFLICT 兜底
	chunk := meta.ChunkModel{
		ID:         types.NewID(),
		ChunkHash:  string(hash),
		ChunkSize:  int64(len(data)),
		StorageKey: key,
		RefCount:   1,
	}
	res = conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chunk_hash"}},
		DoNothing: true,
	}).Create(&chunk)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to insert chunk metadata: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// 输掉了插入竞赛：对方的行已经在了，把我们这次写当作一次复用
		// (Blob 写是幂等的，不会出现双份数据)
		res = conn.Model(&meta.ChunkModel{}).
			Where("chunk_hash = ?", string(hash)).
			Update("ref_count", gorm.Expr("ref_count + 1"))
		if res.Error != nil {
			return nil, fmt.Errorf("failed to bump ref count after insert race: %w", res.Error)
		}
	}

	return s.getByHash(ctx, hash)
}

// GetChunk 查询 Chunk 元数据，不碰 Blob
func (s *Store) GetChunk(ctx context.Context, hash types.Hash) (*meta.ChunkModel, error) {
	return s.getByHash(ctx, hash)
}

// LoadChunk 读取 Chunk 内容
// 区分两种缺失：元数据没有 -> ErrChunkNotFound；
// 元数据有但 Blob 没有 -> ErrBlobMissing (存储失步，需要人工介入)
func (s *Store) LoadChunk(ctx context.Context, hash types.Hash) ([]byte, error) {
	chunk, err := s.getByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	data, err := s.blobs.Get(ctx, chunk.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s (key %s)", ErrBlobMissing, hash, chunk.StorageKey)
	}
	if err != nil {
		return nil, fmt.Errorf("blob read failed for chunk %s: %w", hash, err)
	}
	return data, nil
}

// ReleaseChunk 递减引用计数，归零封底
// 对不存在的哈希是 no-op，双重释放也是安全的
func (s *Store) ReleaseChunk(ctx context.Context, hash types.Hash) error {
	// WHERE ref_count > 0 让封底和递减在一条语句里完成
	err := s.db.GetConn().WithContext(ctx).
		Model(&meta.ChunkModel{}).
		Where("chunk_hash = ? AND ref_count > 0", string(hash)).
		Update("ref_count", gorm.Expr("ref_count - 1")).Error
	if err != nil {
		return fmt.Errorf("failed to release chunk %s: %w", hash, err)
	}
	return nil
}

func (s *Store) getByHash(ctx context.Context, hash types.Hash) (*meta.ChunkModel, error) {
	var chunk meta.ChunkModel
	err := s.db.GetConn().WithContext(ctx).
		Where("chunk_hash = ?", string(hash)).
		First(&chunk).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}
