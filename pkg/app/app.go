// pkg/app/app.go
package app

import (
	"context"
	"fmt"

	"planvault/pkg/assembler"
	"planvault/pkg/chunkstore"
	"planvault/pkg/meta"
	"planvault/pkg/pathtree"
	"planvault/pkg/storage"
	"planvault/pkg/storage/cache"
	"planvault/pkg/storage/disk"
	"planvault/pkg/storage/s3"
	"planvault/pkg/upload"
	"planvault/pkg/version"

	"github.com/spf13/viper"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务；没有任何进程级可变单例，后端句柄都是
// 显式构造后注入的
type App struct {
	Blobs      storage.Store
	DB         *meta.DB
	Repository *meta.Repository
	Chunks     *chunkstore.Store
	Tree       *pathtree.Tree
	Versions   *version.Engine
	Uploads    *upload.Coordinator
	Assembler  *assembler.Assembler
}

// NewApp 是工厂函数，负责按 Viper 配置组装整台机器
func NewApp(ctx context.Context) (*App, error) {
	// 1. Blob 后端 (disk / s3，可选 Redis 缓存装饰)
	blobs, err := buildBlobStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init blob store: %w", err)
	}

	// 2. 元数据库
	db, err := meta.NewDB(ctx, meta.Config{
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init metadata db: %w", err)
	}

	return Assemble(db, blobs), nil
}

// Assemble 在已有的 DB 和 Blob 后端之上装配全部核心组件
// 单独拆出来是为了测试：测试用 sqlite 内存库 + 临时目录直接走这里
func Assemble(db *meta.DB, blobs storage.Store) *App {
	repo := meta.NewRepository(db)
	chunks := chunkstore.New(db, blobs)
	tree := pathtree.New(db)
	versions := version.NewEngine(db, chunks, repo)
	uploads := upload.NewCoordinator(db, repo, versions)

	return &App{
		Blobs:      blobs,
		DB:         db,
		Repository: repo,
		Chunks:     chunks,
		Tree:       tree,
		Versions:   versions,
		Uploads:    uploads,
		Assembler:  assembler.New(chunks, versions),
	}
}

func buildBlobStore(ctx context.Context) (storage.Store, error) {
	var backend storage.Store
	var err error

	switch t := viper.GetString("storage.type"); t {
	case "disk":
		backend, err = disk.NewAdapter(viper.GetString("storage.path"))
	case "s3":
		backend, err = s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			AccessKeyID:     viper.GetString("storage.s3.access_key_id"),
			SecretAccessKey: viper.GetString("storage.s3.secret_access_key"),
			MaxRetries:      viper.GetInt("storage.s3.max_retries"),
		})
	default:
		return nil, fmt.Errorf("unknown storage type: %q", t)
	}
	if err != nil {
		return nil, err
	}

	// 可选的 Redis 存在性缓存
	if viper.GetBool("cache.enabled") {
		backend, err = cache.NewCachedStore(backend, cache.Config{
			RedisURL: viper.GetString("cache.redis_url"),
			TTL:      viper.GetDuration("cache.ttl"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init redis cache: %w", err)
		}
	}

	return backend, nil
}
