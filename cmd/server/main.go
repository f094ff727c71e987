package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soundhaus/internal/database"
	"soundhaus/internal/router"
	"soundhaus/internal/services"
	"soundhaus/pkg/config"
	"soundhaus/pkg/logger"
)

func main() {
	// 加载配置
	cfg := config.GetConfig()

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		panic("初始化日志失败: " + err.Error())
	}
	log := logger.GetLogger()

	// 初始化数据库
	if err := database.Initialize(cfg); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer database.Close()

	// 数据库迁移
	if err := database.Migrate(); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 播种曲风主列表
	if err := seedGenres(database.GetDB()); err != nil {
		log.Warnf("播种曲风失败: %v", err)
	}

	// 检查Redis连接（限流用，不可用时降级放行）
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := database.PingRedis(ctx); err != nil {
		log.Warnf("Redis连接失败，限流将降级放行: %v", err)
	}
	cancel()
	defer database.CloseRedis()

	// 启动定时清理
	db := database.GetDB()
	gitea := services.NewGiteaService()
	cleanup := services.NewCleanupService(
		db,
		services.NewInvitationService(db, gitea),
		services.NewWebhookService(db),
	)
	if err := cleanup.Start(); err != nil {
		log.Fatalf("启动清理任务失败: %v", err)
	}
	defer cleanup.Stop()

	// 组装路由
	r := router.SetupRouter(db)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Infof("服务启动，监听端口 %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，开始关闭...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("服务关闭异常: %v", err)
	}
	log.Info("服务已退出")
}
