package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"planvault/pkg/app"
	"planvault/pkg/config"
	"planvault/pkg/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pv-server",
	Short: "PlanVault: versioned design-file vault (core server)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	cobra.OnInitialize(func() {
		if err := config.Load(cfgFile); err != nil {
			fmt.Println("Config error:", err)
			os.Exit(1)
		}
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")

	// 常用项提供 flag 覆盖，yaml / 环境变量 / flag 三选一
	rootCmd.PersistentFlags().String("storage-path", "", "directory for the disk blob store")
	if err := viper.BindPFlag("storage.path", rootCmd.PersistentFlags().Lookup("storage-path")); err != nil {
		log.Fatal(err)
	}
	rootCmd.PersistentFlags().String("addr", "", "listen address, e.g. :8080")
	if err := viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("addr")); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	// 1. Init Core Application
	application, err := app.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	fmt.Println("✅ PlanVault Core initialized.")

	// 2. Setup Network
	addr := viper.GetString("server.addr")
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// 3. Setup gRPC Server
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			server.UnaryRecoveryInterceptor,
			server.UnaryLoggingInterceptor,
		),
	)

	// 健康检查 + Reflection (grpcurl 等调试工具需要)
	healthpb.RegisterHealthServer(grpcServer, health.NewServer())
	reflection.Register(grpcServer)

	// 4. Start Server (Async)
	go func() {
		fmt.Printf("🚀 gRPC Server listening on %s...\n", addr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("❌ Failed to serve: %v", err)
		}
	}()

	// 5. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n⚠️  Shutting down server...")
	grpcServer.GracefulStop()
	if err := application.DB.Close(); err != nil {
		fmt.Println("⚠️  Failed to close database:", err)
	}
	fmt.Println("👋 Server stopped.")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
