package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("object not found")

	// ErrUnavailable 表示后端暂时不可用 (网络抖动、S3 5xx 等)
	// 适配器内部做有界重试，重试耗尽后把最终失败包装成这个错误抛给上层
	ErrUnavailable = errors.New("storage backend unavailable")
)

// Store defines the interface for a blob storage backend.
// Implementations can be local disk, S3/MinIO, or in-memory storage.
//
// 与元数据库不同，这里是纯粹的 key -> bytes 存储：
// 调用方自己决定 key (通常由内容哈希推导)，后端不理解 key 的含义。
type Store interface {
	// Put 写入一个对象。对同一个 key 重复写入必须是幂等的
	Put(ctx context.Context, key string, data []byte) error

	// Get 读取对象内容，对象不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists 检查对象是否存在 (用于去重逻辑)
	Exists(ctx context.Context, key string) (bool, error)

	// Delete 删除对象。删除不存在的 key 不算错误
	Delete(ctx context.Context, key string) error
}
