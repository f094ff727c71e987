package router

import (
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"soundhaus/internal/handlers"
	"soundhaus/internal/middleware"
	"soundhaus/internal/services"
	"soundhaus/pkg/config"
)

// 仓库名规则与Gitea一致：字母数字开头，允许点、横线、下划线
var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// registerValidations 注册自定义参数校验规则
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("reponame", func(fl validator.FieldLevel) bool {
			return repoNamePattern.MatchString(fl.Field().String())
		})
	}
}

// SetupRouter 组装服务、处理器与路由
func SetupRouter(db *gorm.DB) *gin.Engine {
	cfg := config.GetConfig()
	gin.SetMode(cfg.Server.Mode)
	registerValidations()

	// 服务层
	giteaService := services.NewGiteaService()
	webhookService := services.NewWebhookService(db)
	repoService := services.NewRepoService(db, giteaService, webhookService)
	authService := services.NewAuthService(giteaService)
	patService := services.NewPATService(db)
	invitationService := services.NewInvitationService(db, giteaService)

	// 处理器层
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	repoHandler := handlers.NewRepoHandler(repoService, giteaService)
	authHandler := handlers.NewAuthHandler(authService)
	patHandler := handlers.NewPATHandler(patService)
	invitationHandler := handlers.NewInvitationHandler(invitationService, repoService)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORSMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	// webhook接收端：签名自证身份，不走认证中间件
	api.POST("/webhooks/gitea", webhookHandler.HandleGiteaWebhook)

	// 认证
	auth := api.Group("/auth")
	{
		auth.POST("/signup", middleware.RateLimit("signup", 5, 5*time.Minute), authHandler.SignUp)
		auth.POST("/signin", middleware.RateLimit("login", 10, 10*time.Minute), authHandler.SignIn)
		auth.POST("/signout", authHandler.SignOut)
		auth.POST("/refresh", authHandler.Refresh)
		auth.GET("/me", authHandler.Me)
	}

	// 公开只读
	api.GET("/genres", repoHandler.ListGenres)
	api.GET("/discover", repoHandler.DiscoverRepos)

	// 仓库活动Feed（公开，限流）
	feedLimit := middleware.RateLimit("feed", 60, 30*time.Minute)
	api.GET("/repos/:owner/:name/activity", feedLimit, webhookHandler.GetRepoActivity)
	api.GET("/repos/:owner/:name/events", feedLimit, webhookHandler.GetRepoEvents)

	// 需要认证的接口
	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(patService))
	{
		// 投递账本（排障）
		authed.GET("/webhooks/deliveries", webhookHandler.ListDeliveries)

		// 仓库管理
		authed.POST("/repos", repoHandler.CreateRepo)
		authed.GET("/repos", repoHandler.ListMyRepos)
		authed.GET("/repos/:owner/:name", repoHandler.GetRepo)
		authed.PATCH("/repos/:owner/:name", repoHandler.UpdateRepo)
		authed.DELETE("/repos/:owner/:name", repoHandler.DeleteRepo)
		authed.POST("/repos/:owner/:name/clone", repoHandler.RecordClone)

		// 仓库内容
		authed.GET("/repos/:owner/:name/contents/*path", repoHandler.ListContents)
		authed.POST("/repos/:owner/:name/contents/*path", repoHandler.UploadFile)
		authed.DELETE("/repos/:owner/:name/contents/*path", repoHandler.DeleteFile)

		// 协作者邀请
		authed.POST("/repos/:owner/:name/invitations", invitationHandler.CreateInvitation)
		authed.GET("/repos/:owner/:name/invitations", invitationHandler.ListRepoInvitations)
		authed.DELETE("/repos/:owner/:name/collaborators/:username", invitationHandler.RemoveCollaborator)
		authed.GET("/invitations", invitationHandler.ListMyInvitations)
		authed.POST("/invitations/:token/accept", invitationHandler.AcceptInvitation)
		authed.POST("/invitations/:token/decline", invitationHandler.DeclineInvitation)

		// 个人访问令牌
		authed.POST("/tokens", patHandler.CreateToken)
		authed.GET("/tokens", patHandler.ListTokens)
		authed.DELETE("/tokens/:id", patHandler.RevokeToken)
	}

	return r
}
