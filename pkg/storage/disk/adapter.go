package disk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"planvault/pkg/storage"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	rootPath string // 比如: /var/lib/planvault/blobs
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

// layout 把存储 key 映射到物理路径
// key 本身已经带了分片目录 (objects/aa/bb/hash)，这里只做平台路径转换
func (s *Adapter) layout(key string) string {
	return filepath.Join(s.rootPath, filepath.FromSlash(key))
}

func (s *Adapter) Put(ctx context.Context, key string, data []byte) error {
	targetPath := s.layout(key)

	// 1. 检查是否存在 (幂等性)
	if _, err := os.Stat(targetPath); err == nil {
		return nil // 已经存在，直接跳过 (CAS 的好处)
	}

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// 3. 原子写入 (Atomic Write)
	// 技巧：先写到一个临时文件，然后 Rename。
	// 这样保证要么文件不存在，要么文件是完整的。
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	// 确保临时文件会被清理（如果成功 Rename 了，这个删除会失效，或者无害）
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	tempFile.Close() // 必须先关闭才能 Rename

	// 4. 移动到最终位置
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return err
	}

	return nil
}

func (s *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	targetPath := s.layout(key)

	data, err := os.ReadFile(targetPath)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.layout(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Adapter) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.layout(key))
	if os.IsNotExist(err) {
		return nil // 删除不存在的对象视为成功
	}
	return err
}
