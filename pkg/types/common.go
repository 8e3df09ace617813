// pkg/types/common.go
package types

import "github.com/google/uuid"

// Hash 代表内容寻址的唯一标识符 (SHA256 Hex String)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

// 验证 Hash 合法性
func (h Hash) IsZero() bool  { return h == "" }
func (h Hash) IsValid() bool { return len(h) == 64 } // 简单的长度检查

// ID 是所有元数据实体的主键类型
// 底层是 UUID v4，数据库里存 char(36)
type ID = uuid.UUID

// NewID 生成一个新的实体 ID
func NewID() ID { return uuid.New() }

// NodeType 区分路径树节点是文件还是目录
type NodeType string

const (
	NodeFile      NodeType = "file"
	NodeDirectory NodeType = "directory"
)

// ChunkRef 描述一个版本对底层 Chunk 的有序引用
// Index 必须从 0 开始连续递增 (装配文件时按序拼接)
type ChunkRef struct {
	Hash  Hash  `json:"chunk_hash" cbor:"h"`
	Index int   `json:"chunk_index" cbor:"i"`
	Size  int64 `json:"chunk_size" cbor:"s"`
}

// UploadStatus 是上传会话的状态机取值
type UploadStatus string

const (
	UploadInitializing UploadStatus = "initializing"
	UploadInProgress   UploadStatus = "in_progress"
	UploadCompleted    UploadStatus = "completed"
	UploadFailed       UploadStatus = "failed"
	UploadCancelled    UploadStatus = "cancelled"
)

// IsTerminal 终止态的会话拒绝一切后续修改
func (s UploadStatus) IsTerminal() bool {
	switch s {
	case UploadCompleted, UploadFailed, UploadCancelled:
		return true
	}
	return false
}
