package meta

import (
	"time"

	"planvault/pkg/types"

	"gorm.io/datatypes"
)

// ChunkModel 是内容寻址存储的去重单元
// 同一份字节只物理存一次，多个版本通过 ref_count 共享
type ChunkModel struct {
	ID types.ID `gorm:"primaryKey;type:char(36)"`

	// ChunkHash 是 SHA-256 内容哈希，全局唯一
	ChunkHash string `gorm:"type:char(64);not null;uniqueIndex:idx_chunks_hash"`

	ChunkSize int64 `gorm:"not null"`

	// StorageKey 是 Blob 后端的对象 key (objects/aa/bb/hash)
	// 这个布局是存储格式契约的一部分，不能改
	StorageKey string `gorm:"type:varchar(500);not null"`

	// RefCount 记录有多少存活版本引用这个 Chunk
	// 归零后才允许物理回收 (GC 本身在别处)
	RefCount int64 `gorm:"not null;default:1"`

	CreatedAt time.Time
}

func (ChunkModel) TableName() string {
	return "chunks"
}

// FileNodeModel 是路径树节点：文件或目录
// 树结构用 parent_id 的 id 引用表达，不用内嵌指针，避免所有权环
type FileNodeModel struct {
	ID types.ID `gorm:"primaryKey;type:char(36)"`

	Name string `gorm:"type:varchar(255);not null"`

	// Path 是存储区内的绝对路径，区内唯一
	// 不变式: 非根节点的 path == parent.path + "/" + name
	Path string `gorm:"type:varchar(2000);not null;uniqueIndex:idx_file_nodes_area_path,priority:2"`

	NodeType types.NodeType `gorm:"type:varchar(16);not null"`

	ParentID *types.ID `gorm:"type:char(36);index"`

	// AreaID 标识所属存储区 (一个项目一个区)
	AreaID types.ID `gorm:"type:char(36);not null;index;uniqueIndex:idx_file_nodes_area_path,priority:1"`

	// CurrentVersionID 是“检出”的版本指针；目录永远为 nil
	CurrentVersionID *types.ID `gorm:"type:char(36)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (FileNodeModel) TableName() string {
	return "file_nodes"
}

// FileVersionModel 是不可变的文件版本
// 创建之后唯一允许的变更是锁定标志的单向置位
type FileVersionModel struct {
	ID types.ID `gorm:"primaryKey;type:char(36)"`

	FileNodeID types.ID `gorm:"type:char(36);not null;index:idx_file_versions_file_node,priority:1"`

	// VersionNumber 按文件单调递增，从 1 开始，不允许空洞和重复
	VersionNumber int `gorm:"not null;index:idx_file_versions_file_node,priority:2"`

	// CommitHash 是版本元数据的 SHA-256 指纹，全局唯一
	CommitHash string `gorm:"type:char(64);not null;uniqueIndex"`

	CommitMessage string `gorm:"type:varchar(1000)"`

	AuthorID types.ID `gorm:"type:char(36);not null;index"`

	ParentVersionID *types.ID `gorm:"type:char(36)"`

	// FileSize 由 chunk_refs 求和得出，从不信任客户端申报值
	FileSize int64 `gorm:"not null"`

	// ChunkRefs 是有序引用列表 [{chunk_hash, chunk_index, chunk_size}]
	ChunkRefs datatypes.JSON `gorm:"not null"`

	// IsLocked 在审批流程 (外部系统) 通过后置位，本引擎从不复位
	IsLocked bool `gorm:"not null;default:false"`

	CreatedAt time.Time
}

func (FileVersionModel) TableName() string {
	return "file_versions"
}

// UploadSessionModel 跟踪一次分块上传的全过程
// 终止后保留不删，供审计和进度查询
type UploadSessionModel struct {
	ID types.ID `gorm:"primaryKey;type:char(36)"`

	FileNodeID types.ID `gorm:"type:char(36);not null;index"`
	UserID     types.ID `gorm:"type:char(36);not null;index"`

	Status types.UploadStatus `gorm:"type:varchar(20);not null"`

	// 申报的总量只用于 finalize 时的完整性校验，不是安全边界
	TotalSize   int64 `gorm:"not null"`
	TotalChunks int   `gorm:"not null"`

	UploadedSize int64 `gorm:"not null;default:0"`

	// UploadedChunks 是已确认的 chunk 哈希列表 (JSON 数组)
	UploadedChunks datatypes.JSON `gorm:"not null"`

	CommitMessage string `gorm:"type:varchar(1000)"`
	ErrorMessage  string `gorm:"type:varchar(2000)"`

	// FileVersionID 在成功 finalize 后指向产出的版本
	FileVersionID *types.ID `gorm:"type:char(36)"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (UploadSessionModel) TableName() string {
	return "upload_sessions"
}

// UserModel 只承载“作者存在性”检查
// 身份系统本身是外部协作方，这里只有一张影子表
type UserModel struct {
	ID       types.ID `gorm:"primaryKey;type:char(36)"`
	Username string   `gorm:"type:varchar(100);not null;uniqueIndex"`

	CreatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// AllModels 返回需要迁移的全部模型 (给 AutoMigrate 用)
func AllModels() []any {
	return []any{
		&ChunkModel{},
		&FileNodeModel{},
		&FileVersionModel{},
		&UploadSessionModel{},
		&UserModel{},
	}
}
