package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"planvault/pkg/meta"
	"planvault/pkg/types"
	"planvault/pkg/version"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrSessionClosed 终止态会话拒绝一切后续修改
	ErrSessionClosed = errors.New("upload session is closed")

	// ErrIncompleteUpload finalize 时已确认的 chunk 数量不足
	ErrIncompleteUpload = errors.New("not all declared chunks are uploaded")

	ErrNodeNotFound  = meta.ErrNodeNotFound
	ErrUserNotFound  = meta.ErrUserNotFound
	ErrTargetNotFile = errors.New("upload target is not a file node")
)

// Progress 是会话进度的只读投影
type Progress struct {
	SessionID     types.ID
	Status        types.UploadStatus
	TotalSize     int64
	UploadedSize  int64
	TotalChunks   int
	UploadedCount int
	Percentage    float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Coordinator 驱动上传会话状态机:
//
//	Initializing → InProgress → {Completed | Failed | Cancelled}
//
// 只有前两个状态接受 chunk 上报；终止态恰好进入一次，之后只读。
type Coordinator struct {
	db       *meta.DB
	repo     *meta.Repository
	versions *version.Engine
}

func NewCoordinator(db *meta.DB, repo *meta.Repository, versions *version.Engine) *Coordinator {
	return &Coordinator{db: db, repo: repo, versions: versions}
}

// Start 开启一个新会话
// 申报的 totalSize/totalChunks 只在 finalize 时做完整性校验用，不是安全边界
func (c *Coordinator) Start(ctx context.Context, fileID, userID types.ID, totalSize int64, totalChunks int, message string) (*meta.UploadSessionModel, error) {
	node, err := c.repo.GetFileNode(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if node.NodeType != types.NodeFile {
		return nil, fmt.Errorf("node %s: %w", fileID, ErrTargetNotFile)
	}

	ok, err := c.repo.UserExists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
	}

	session := meta.UploadSessionModel{
		ID:             types.NewID(),
		FileNodeID:     fileID,
		UserID:         userID,
		Status:         types.UploadInProgress,
		TotalSize:      totalSize,
		TotalChunks:    totalChunks,
		UploadedSize:   0,
		UploadedChunks: datatypes.JSON([]byte("[]")),
		CommitMessage:  message,
	}

	if err := c.db.GetConn().WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to create upload session: %w", err)
	}
	return &session, nil
}

// RecordChunk 登记一个已确认上传的 chunk
//
// 幂等性：客户端重传同一个 chunk 不会把进度算两遍。
// 会话行加锁后再读写 JSON 列，同会话的并发上报在行锁上串行化。
func (c *Coordinator) RecordChunk(ctx context.Context, sessionID types.ID, chunkHash types.Hash, chunkSize int64) (*meta.UploadSessionModel, error) {
	var updated meta.UploadSessionModel

	err := c.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session meta.UploadSessionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).
			First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		if session.Status.IsTerminal() {
			return fmt.Errorf("session %s in status %s: %w", sessionID, session.Status, ErrSessionClosed)
		}

		uploaded, err := decodeChunkList(session.UploadedChunks)
		if err != nil {
			return err
		}

		// 重复上报：no-op (重试安全)
		for _, h := range uploaded {
			if h == chunkHash {
				updated = session
				return nil
			}
		}

		uploaded = append(uploaded, chunkHash)
		listJSON, err := json.Marshal(uploaded)
		if err != nil {
			return err
		}

		session.UploadedChunks = datatypes.JSON(listJSON)
		session.UploadedSize += chunkSize
		session.Status = types.UploadInProgress
		if err := tx.Save(&session).Error; err != nil {
			return fmt.Errorf("failed to record chunk: %w", err)
		}

		updated = session
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Progress 返回会话进度的只读投影
func (c *Coordinator) Progress(ctx context.Context, sessionID types.ID) (*Progress, error) {
	session, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	uploaded, err := decodeChunkList(session.UploadedChunks)
	if err != nil {
		return nil, err
	}

	pct := 0.0
	if session.TotalSize > 0 {
		pct = float64(session.UploadedSize) / float64(session.TotalSize) * 100
	}

	return &Progress{
		SessionID:     session.ID,
		Status:        session.Status,
		TotalSize:     session.TotalSize,
		UploadedSize:  session.UploadedSize,
		TotalChunks:   session.TotalChunks,
		UploadedCount: len(uploaded),
		Percentage:    pct,
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
		CompletedAt:   session.CompletedAt,
	}, nil
}

// Finalize 结束会话并把有序引用列表交给 Version Engine
//
// 已确认集合是无序的，最终的 chunk 顺序由调用方在 refs 里声明，
// Version Engine 会再核对一遍这些 chunk 是否真的都在 Chunk Store 里。
// 下游任何失败都把会话打成 Failed 并附上错误文本，绝不悄悄卡在 InProgress。
func (c *Coordinator) Finalize(ctx context.Context, sessionID types.ID, refs []types.ChunkRef, parentVersionID *types.ID) (*meta.FileVersionModel, error) {
	session, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("session %s in status %s: %w", sessionID, session.Status, ErrSessionClosed)
	}

	uploaded, err := decodeChunkList(session.UploadedChunks)
	if err != nil {
		return nil, err
	}

	// 完整性闸门：数量不够直接拒绝，会话留在 InProgress 继续传
	if len(uploaded) != session.TotalChunks {
		return nil, fmt.Errorf("%w: %d/%d", ErrIncompleteUpload, len(uploaded), session.TotalChunks)
	}

	message := session.CommitMessage
	if message == "" {
		message = "File uploaded"
	}

	ver, err := c.versions.CreateVersion(ctx, session.FileNodeID, refs, message, session.UserID, parentVersionID)
	if err != nil {
		// 下游失败 → Failed + 错误文本。不自动重试
		if markErr := c.terminate(ctx, sessionID, types.UploadFailed, err.Error(), nil); markErr != nil {
			return nil, fmt.Errorf("finalize failed (%v) and session could not be marked failed: %w", err, markErr)
		}
		return nil, err
	}

	if err := c.terminate(ctx, sessionID, types.UploadCompleted, "", &ver.ID); err != nil {
		return nil, err
	}
	return ver, nil
}

// Cancel 取消一个未终止的会话
// 注意：不回收已上传 chunk 的引用计数 —— chunk 可能被别的版本共享，
// 释放是对账流程的显式决策，不在这里做
func (c *Coordinator) Cancel(ctx context.Context, sessionID types.ID) error {
	return c.terminate(ctx, sessionID, types.UploadCancelled, "", nil)
}

// MarkFailed 把会话打成 Failed 并附上错误文本
// 供上层在 chunk 上传阶段遇到 Integrity/Backend 错误时调用
func (c *Coordinator) MarkFailed(ctx context.Context, sessionID types.ID, errText string) error {
	return c.terminate(ctx, sessionID, types.UploadFailed, errText, nil)
}

// terminate 执行恰好一次的终止转移
// CAS 式更新：只有还在非终止态的行会被改写，输家拿到 ErrSessionClosed
func (c *Coordinator) terminate(ctx context.Context, sessionID types.ID, to types.UploadStatus, errText string, versionID *types.ID) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":       to,
		"completed_at": now,
		"updated_at":   now,
	}
	if errText != "" {
		updates["error_message"] = errText
	}
	if versionID != nil {
		updates["file_version_id"] = *versionID
	}

	res := c.db.GetConn().WithContext(ctx).
		Model(&meta.UploadSessionModel{}).
		Where("id = ? AND status IN ?", sessionID,
			[]types.UploadStatus{types.UploadInitializing, types.UploadInProgress}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		// 要么会话不存在，要么已经终止了——区分一下再报错
		if _, err := c.Get(ctx, sessionID); err != nil {
			return err
		}
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionClosed)
	}
	return nil
}

// Get 按 ID 查会话
func (c *Coordinator) Get(ctx context.Context, sessionID types.ID) (*meta.UploadSessionModel, error) {
	var session meta.UploadSessionModel
	err := c.db.GetConn().WithContext(ctx).
		Where("id = ?", sessionID).
		First(&session).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListUserSessions 列出某用户的会话，最新的在前
// status 为空串表示不过滤
func (c *Coordinator) ListUserSessions(ctx context.Context, userID types.ID, status types.UploadStatus) ([]meta.UploadSessionModel, error) {
	q := c.db.GetConn().WithContext(ctx).
		Where("user_id = ?", userID)

	if status != "" {
		q = q.Where("status = ?", status)
	}

	var sessions []meta.UploadSessionModel
	err := q.Order("created_at DESC").Find(&sessions).Error
	return sessions, err
}

func decodeChunkList(raw datatypes.JSON) ([]types.Hash, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []types.Hash
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("corrupt uploaded_chunks list: %w", err)
	}
	return list, nil
}
