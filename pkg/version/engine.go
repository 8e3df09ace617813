package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"planvault/pkg/chunkstore"
	"planvault/pkg/meta"
	"planvault/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrVersionNotFound = errors.New("file version not found")
	ErrNodeNotFound    = meta.ErrNodeNotFound
	ErrAuthorNotFound  = meta.ErrUserNotFound

	// ErrNotFile 对目录节点做版本操作
	ErrNotFile = errors.New("node is not a file")

	// ErrForeignVersion 版本不属于这个文件
	ErrForeignVersion = errors.New("version does not belong to this file")

	// ErrBadChunkRefs 引用列表的 index 不是从 0 开始连续递增
	ErrBadChunkRefs = errors.New("chunk refs must have contiguous zero-based indices")
)

// MissingChunksError 列出 Chunk Store 里缺失的哈希
// 它弥合“协调器以为 chunk 都到了”和“chunk store 真的有”之间的缝隙
type MissingChunksError struct {
	Hashes []types.Hash
}

func (e *MissingChunksError) Error() string {
	return fmt.Sprintf("missing chunks: %v", e.Hashes)
}

// Engine 负责不可变文件版本的创建与检索
type Engine struct {
	db     *meta.DB
	chunks *chunkstore.Store
	repo   *meta.Repository
}

func NewEngine(db *meta.DB, chunks *chunkstore.Store, repo *meta.Repository) *Engine {
	return &Engine{db: db, chunks: chunks, repo: repo}
}

// CreateVersion 把一份有序 Chunk 引用列表固化成新版本
//
// 版本号分配 (读最大值 + 插入) 和 current-version 指针更新放在同一个
// 事务里，并对文件节点行加锁：并发提交同一个文件会在行锁上排队，
// 不会撞出重复版本号，指针和版本行也保证同生同灭。
func (e *Engine) CreateVersion(ctx context.Context, fileID types.ID, refs []types.ChunkRef, message string, authorID types.ID, parentVersionID *types.ID) (*meta.FileVersionModel, error) {
	// 1. 引用列表形状检查：index 连续、从 0 开始
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrBadChunkRefs)
	}
	for i, ref := range refs {
		if ref.Index != i {
			return nil, fmt.Errorf("%w: got %d at position %d", ErrBadChunkRefs, ref.Index, i)
		}
	}

	// 2. 目标必须是文件节点
	node, err := e.repo.GetFileNode(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if node.NodeType != types.NodeFile {
		return nil, fmt.Errorf("node %s: %w", fileID, ErrNotFile)
	}

	// 3. 作者必须存在
	ok, err := e.repo.UserExists(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("failed to check author: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("author %s: %w", authorID, ErrAuthorNotFound)
	}

	// 4. 引用的 Chunk 必须都已入库
	hashes := make([]types.Hash, len(refs))
	for i, ref := range refs {
		hashes[i] = ref.Hash
	}
	missing, err := e.chunks.MissingChunks(ctx, hashes)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &MissingChunksError{Hashes: missing}
	}

	// 5. 文件大小：自己算，不信客户端
	var fileSize int64
	for _, ref := range refs {
		fileSize += ref.Size
	}

	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chunk refs: %w", err)
	}

	var created meta.FileVersionModel

	err = e.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁文件节点行：版本号分配按文件串行化
		var locked meta.FileNodeModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", fileID).
			First(&locked).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNodeNotFound
		}
		if err != nil {
			return err
		}

		// 下一个版本号 = 1 + max(现有版本号)，空文件从 1 开始
		var maxVersion int
		if err := tx.Model(&meta.FileVersionModel{}).
			Where("file_node_id = ?", fileID).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}
		nextVersion := maxVersion + 1

		now := time.Now().UTC()
		commitHash, err := computeCommitHash(commitPayload{
			FileNodeID:    fileID.String(),
			VersionNumber: nextVersion,
			ChunkRefs:     refs,
			AuthorID:      authorID.String(),
			Timestamp:     now.Unix(),
		})
		if err != nil {
			return err
		}

		created = meta.FileVersionModel{
			ID:              types.NewID(),
			FileNodeID:      fileID,
			VersionNumber:   nextVersion,
			CommitHash:      string(commitHash),
			CommitMessage:   message,
			AuthorID:        authorID,
			ParentVersionID: parentVersionID,
			FileSize:        fileSize,
			ChunkRefs:       datatypes.JSON(refsJSON),
			IsLocked:        false,
			CreatedAt:       now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("failed to insert version: %w", err)
		}

		// 指针更新和版本插入同属一个事务：要么都成功，要么都回滚
		return tx.Model(&meta.FileNodeModel{}).
			Where("id = ?", fileID).
			Updates(map[string]any{
				"current_version_id": created.ID,
				"updated_at":         now,
			}).Error
	})

	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Checkout 把文件的 current-version 指针拨到指定版本
// 纯指针移动，不重写任何数据
func (e *Engine) Checkout(ctx context.Context, fileID, versionID types.ID) (*meta.FileNodeModel, error) {
	node, err := e.repo.GetFileNode(ctx, fileID)
	if err != nil {
		return nil, err
	}

	ver, err := e.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if ver.FileNodeID != fileID {
		return nil, fmt.Errorf("version %s: %w", versionID, ErrForeignVersion)
	}

	now := time.Now().UTC()
	err = e.db.GetConn().WithContext(ctx).
		Model(&meta.FileNodeModel{}).
		Where("id = ?", fileID).
		Updates(map[string]any{
			"current_version_id": versionID,
			"updated_at":         now,
		}).Error
	if err != nil {
		return nil, err
	}

	node.CurrentVersionID = &ver.ID
	node.UpdatedAt = now
	return node, nil
}

// Lock 置位锁定标志
// 锁定是单向的：本引擎只会把它从 false 拨到 true，从不复位
func (e *Engine) Lock(ctx context.Context, versionID types.ID) (*meta.FileVersionModel, error) {
	ver, err := e.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}

	if !ver.IsLocked {
		if err := e.db.GetConn().WithContext(ctx).
			Model(&meta.FileVersionModel{}).
			Where("id = ?", versionID).
			Update("is_locked", true).Error; err != nil {
			return nil, err
		}
		ver.IsLocked = true
	}
	return ver, nil
}

// IsLocked 查询锁定标志
func (e *Engine) IsLocked(ctx context.Context, versionID types.ID) (bool, error) {
	ver, err := e.Get(ctx, versionID)
	if err != nil {
		return false, err
	}
	return ver.IsLocked, nil
}

// Get 按 ID 查版本
func (e *Engine) Get(ctx context.Context, versionID types.ID) (*meta.FileVersionModel, error) {
	var ver meta.FileVersionModel
	err := e.db.GetConn().WithContext(ctx).
		Where("id = ?", versionID).
		First(&ver).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", versionID, ErrVersionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ver, nil
}

// GetByCommitHash 按提交哈希查版本
func (e *Engine) GetByCommitHash(ctx context.Context, commitHash types.Hash) (*meta.FileVersionModel, error) {
	var ver meta.FileVersionModel
	err := e.db.GetConn().WithContext(ctx).
		Where("commit_hash = ?", string(commitHash)).
		First(&ver).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("commit %s: %w", commitHash, ErrVersionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ver, nil
}

// History 返回文件的版本历史，版本号倒序
// limit <= 0 表示不设上限
func (e *Engine) History(ctx context.Context, fileID types.ID, limit int) ([]meta.FileVersionModel, error) {
	q := e.db.GetConn().WithContext(ctx).
		Where("file_node_id = ?", fileID).
		Order("version_number DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	var versions []meta.FileVersionModel
	err := q.Find(&versions).Error
	return versions, err
}

// ChunksOf 返回版本的有序 Chunk 引用，客户端据此重建文件字节
func (e *Engine) ChunksOf(ctx context.Context, versionID types.ID) ([]types.ChunkRef, error) {
	ver, err := e.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}

	var refs []types.ChunkRef
	if err := json.Unmarshal(ver.ChunkRefs, &refs); err != nil {
		return nil, fmt.Errorf("corrupt chunk refs on version %s: %w", versionID, err)
	}
	return refs, nil
}
