package meta

import (
	"context"
	"errors"

	"planvault/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNodeNotFound = errors.New("file node not found")
)

// Repository 封装组件间共享的少量查询
// (组件私有的 SQL 放在各自的包里，这里只放大家都要用的)
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// UserExists 检查作者是否存在
// 身份系统是外部协作方，我们只依赖这一个事实
func (r *Repository) UserExists(ctx context.Context, id types.ID) (bool, error) {
	var count int64
	err := r.db.GetConn().WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// EnsureUser 幂等地登记一个用户影子记录
// 身份系统同步用户时调用；重复登记无副作用
func (r *Repository) EnsureUser(ctx context.Context, id types.ID, username string) error {
	user := UserModel{ID: id, Username: username}
	return r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&user).Error
}

// GetFileNode 按 ID 取路径树节点
func (r *Repository) GetFileNode(ctx context.Context, id types.ID) (*FileNodeModel, error) {
	var node FileNodeModel
	err := r.db.GetConn().WithContext(ctx).
		Where("id = ?", id).
		First(&node).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}
