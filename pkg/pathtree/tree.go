package pathtree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"planvault/pkg/meta"
	"planvault/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidPath 路径格式非法，或与父节点不一致
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathExists 同一存储区内路径已被占用
	ErrPathExists = errors.New("path already exists in this area")

	// ErrNotDirectory 期望目录但拿到了文件
	ErrNotDirectory = errors.New("node is not a directory")

	ErrNodeNotFound = meta.ErrNodeNotFound
)

// Tree 维护一个存储区内的文件/目录层级
//
// 树是“id 竞技场”结构：parent_id 只是引用，节点生命周期由表本身持有，
// 不存在父子互相持有的指针环。
type Tree struct {
	db *meta.DB
}

func New(db *meta.DB) *Tree {
	return &Tree{db: db}
}

// childPath 拼接子路径
// 根目录 "/" 是唯一允许以斜杠结尾的路径，拼接时要特判
func childPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// likePrefix 把路径前缀转成只做字面量匹配的 LIKE 模式
// 目录名里允许出现 % 和 _，不转义的话子树查询会多捞到无关的行
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "/%"
}

// validateShape 检查路径的基本形状：绝对路径、不以 / 结尾 (根除外)
func validateShape(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, path)
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: %q has a trailing slash", ErrInvalidPath, path)
	}
	return nil
}

// Create 创建一个文件或目录节点
func (t *Tree) Create(ctx context.Context, areaID types.ID, name, path string, nodeType types.NodeType, parentID *types.ID) (*meta.FileNodeModel, error) {
	if err := validateShape(path); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidPath)
	}

	conn := t.db.GetConn().WithContext(ctx)

	// 路径在存储区内必须唯一
	var count int64
	if err := conn.Model(&meta.FileNodeModel{}).
		Where("area_id = ? AND path = ?", areaID, path).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrPathExists, path)
	}

	// 有父节点时，校验父子一致性
	if parentID != nil {
		var parent meta.FileNodeModel
		err := conn.Where("id = ?", *parentID).First(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("parent %s: %w", *parentID, ErrNodeNotFound)
		}
		if err != nil {
			return nil, err
		}
		if parent.NodeType != types.NodeDirectory {
			return nil, fmt.Errorf("parent %s: %w", *parentID, ErrNotDirectory)
		}
		if path != childPath(parent.Path, name) {
			return nil, fmt.Errorf("%w: %q does not match parent path %q + name %q",
				ErrInvalidPath, path, parent.Path, name)
		}
	}

	node := meta.FileNodeModel{
		ID:       types.NewID(),
		Name:     name,
		Path:     path,
		NodeType: nodeType,
		ParentID: parentID,
		AreaID:   areaID,
		// 目录永远没有 current version；文件等第一个版本落地后才有
		CurrentVersionID: nil,
	}

	if err := conn.Create(&node).Error; err != nil {
		// 唯一索引兜底：并发创建同名路径时输家拿到 Conflict
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrPathExists, path)
		}
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	return &node, nil
}

// Move 把节点移动到新路径
//
// 目录移动时，所有后代节点的路径前缀在同一个事务里完成改写：
// “部分后代已改、部分未改”的中间态对并发读者不可见。
// 互相重叠的并发 Move/Delete 会在行锁上自然串行化。
func (t *Tree) Move(ctx context.Context, nodeID types.ID, newPath string, newParentID *types.ID) (*meta.FileNodeModel, error) {
	if err := validateShape(newPath); err != nil {
		return nil, err
	}

	var moved meta.FileNodeModel

	err := t.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 锁住待移动节点
		var node meta.FileNodeModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", nodeID).
			First(&node).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNodeNotFound
		}
		if err != nil {
			return err
		}

		oldPath := node.Path
		if newPath == oldPath {
			moved = node
			return nil // 原地移动，无事可做
		}

		// 移动到自己的子树下会造成环，必须拒绝
		if node.NodeType == types.NodeDirectory && strings.HasPrefix(newPath, oldPath+"/") {
			return fmt.Errorf("%w: cannot move %q into its own subtree %q", ErrInvalidPath, oldPath, newPath)
		}

		// 2. 目标路径必须空闲
		var count int64
		if err := tx.Model(&meta.FileNodeModel{}).
			Where("area_id = ? AND path = ?", node.AreaID, newPath).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrPathExists, newPath)
		}

		// 3. 新父节点一致性
		newName := newPath[strings.LastIndex(newPath, "/")+1:]
		if newParentID != nil {
			var parent meta.FileNodeModel
			err := tx.Where("id = ?", *newParentID).First(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("new parent %s: %w", *newParentID, ErrNodeNotFound)
			}
			if err != nil {
				return err
			}
			if parent.NodeType != types.NodeDirectory {
				return fmt.Errorf("new parent %s: %w", *newParentID, ErrNotDirectory)
			}
			if newPath != childPath(parent.Path, newName) {
				return fmt.Errorf("%w: %q is not directly under parent %q", ErrInvalidPath, newPath, parent.Path)
			}
			node.ParentID = newParentID
		}

		// 4. 更新节点本身 (name 跟随路径末段，保持 path == parent + "/" + name 不变式)
		node.Path = newPath
		node.Name = newName
		if err := tx.Save(&node).Error; err != nil {
			return fmt.Errorf("failed to update node: %w", err)
		}

		// 5. 目录：子树前缀改写
		if node.NodeType == types.NodeDirectory {
			var descendants []meta.FileNodeModel
			if err := tx.
				Where("area_id = ? AND path LIKE ? ESCAPE '\\'", node.AreaID, likePrefix(oldPath)).
				Find(&descendants).Error; err != nil {
				return err
			}

			for i := range descendants {
				rewritten := newPath + strings.TrimPrefix(descendants[i].Path, oldPath)
				if err := tx.Model(&meta.FileNodeModel{}).
					Where("id = ?", descendants[i].ID).
					Update("path", rewritten).Error; err != nil {
					return fmt.Errorf("failed to rewrite descendant path: %w", err)
				}
			}
		}

		moved = node
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &moved, nil
}

// Rename 原地改名：等价于移动到同一父目录下的新路径
func (t *Tree) Rename(ctx context.Context, nodeID types.ID, newName string) (*meta.FileNodeModel, error) {
	if newName == "" || strings.Contains(newName, "/") {
		return nil, fmt.Errorf("%w: bad name %q", ErrInvalidPath, newName)
	}

	node, err := t.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	parentPath := "/"
	if idx := strings.LastIndex(node.Path, "/"); idx > 0 {
		parentPath = node.Path[:idx]
	}
	return t.Move(ctx, nodeID, childPath(parentPath, newName), nil)
}

// Delete 删除节点；目录级联删除全部后代
//
// 返回被删除的节点，方便调用方 (或对账流程) 决定要不要对其版本的
// Chunk 引用做显式 ReleaseChunk —— 本引擎不会自动去遍历版本释放计数。
// 版本行与会话行保留不动，供审计与后续对账。
func (t *Tree) Delete(ctx context.Context, nodeID types.ID) ([]meta.FileNodeModel, error) {
	var removed []meta.FileNodeModel

	err := t.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var node meta.FileNodeModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", nodeID).
			First(&node).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNodeNotFound
		}
		if err != nil {
			return err
		}

		removed = append(removed, node)

		if node.NodeType == types.NodeDirectory {
			var descendants []meta.FileNodeModel
			if err := tx.
				Where("area_id = ? AND path LIKE ? ESCAPE '\\'", node.AreaID, likePrefix(node.Path)).
				Find(&descendants).Error; err != nil {
				return err
			}
			removed = append(removed, descendants...)
		}

		ids := make([]types.ID, len(removed))
		for i, n := range removed {
			ids[i] = n.ID
		}
		return tx.Where("id IN ?", ids).Delete(&meta.FileNodeModel{}).Error
	})

	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Get 按 ID 查节点
func (t *Tree) Get(ctx context.Context, nodeID types.ID) (*meta.FileNodeModel, error) {
	var node meta.FileNodeModel
	err := t.db.GetConn().WithContext(ctx).
		Where("id = ?", nodeID).
		First(&node).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// GetByPath 按存储区 + 路径查节点
func (t *Tree) GetByPath(ctx context.Context, areaID types.ID, path string) (*meta.FileNodeModel, error) {
	var node meta.FileNodeModel
	err := t.db.GetConn().WithContext(ctx).
		Where("area_id = ? AND path = ?", areaID, path).
		First(&node).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// ListChildren 列出某目录的直接子节点 (parentID 为 nil 表示区根层)
// 排序：目录在前，同类按名字
func (t *Tree) ListChildren(ctx context.Context, areaID types.ID, parentID *types.ID) ([]meta.FileNodeModel, error) {
	q := t.db.GetConn().WithContext(ctx).
		Where("area_id = ?", areaID)

	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}

	var nodes []meta.FileNodeModel
	// "directory" < "file"，升序正好目录在前
	err := q.Order("node_type").Order("name").Find(&nodes).Error
	return nodes, err
}

// ListArea 列出存储区内全部节点，按路径排序
func (t *Tree) ListArea(ctx context.Context, areaID types.ID) ([]meta.FileNodeModel, error) {
	var nodes []meta.FileNodeModel
	err := t.db.GetConn().WithContext(ctx).
		Where("area_id = ?", areaID).
		Order("path").
		Find(&nodes).Error
	return nodes, err
}
