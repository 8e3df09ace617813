package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：当前目录 -> /etc/planvault
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/planvault")

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (PV_DATABASE_HOST 等)
	viper.SetEnvPrefix("PV")
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错 (可能全靠环境变量)；格式错才是错
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Println("🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	// 数据库默认值
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "planvault")
	viper.SetDefault("database.dbname", "planvault")
	viper.SetDefault("database.sslmode", "disable")

	// Blob 存储默认值
	wd, _ := os.Getwd()
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(wd, "blobs"))
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.bucket", "planvault")
	viper.SetDefault("storage.s3.max_retries", 3)

	// 缓存默认关闭，打开需要显式给 redis url
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.ttl", "24h")

	// 服务端口
	viper.SetDefault("server.addr", ":8080")
}
