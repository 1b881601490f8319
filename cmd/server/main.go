// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"tutoria-go/internal/config"
	"tutoria-go/internal/handler"
	"tutoria-go/internal/middleware"
	"tutoria-go/internal/model"
	"tutoria-go/internal/repository"
	"tutoria-go/internal/service"
	"tutoria-go/pkg/database"
	"tutoria-go/pkg/genai"
	"tutoria-go/pkg/kafka"
	"tutoria-go/pkg/log"
	"tutoria-go/pkg/storage"
	"tutoria-go/pkg/tika"
	"tutoria-go/pkg/token"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	if err := database.DB.AutoMigrate(&model.User{}, &model.Tutor{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	tutorRepo := repository.NewTutorRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	genaiClient := genai.NewClient(cfg.GenAI)
	sessions := service.NewSessionManager()

	userService := service.NewUserService(userRepo, jwtManager)
	tutorService := service.NewTutorService(tutorRepo, conversationRepo, sessions)
	chatService := service.NewChatService(sessions, tutorRepo, conversationRepo, genaiClient)
	studyService := service.NewStudyService(sessions, conversationRepo, genaiClient)
	knowledgeService := service.NewKnowledgeService(tikaClient, cfg.MinIO)
	sourceService := service.NewSourceService(genaiClient)

	// 6. 初始化 Handler
	userHandler := handler.NewUserHandler(userService)
	authHandler := handler.NewAuthHandler(userService)
	tutorHandler := handler.NewTutorHandler(tutorService)
	chatHandler := handler.NewChatHandler(chatService, userService, jwtManager)
	studyHandler := handler.NewStudyHandler(studyService)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledgeService)
	sourceHandler := handler.NewSourceHandler(sourceService)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", authHandler.RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// 导师集合与会话路由组，需要认证
		tutors := apiV1.Group("/tutors")
		tutors.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			tutors.GET("", tutorHandler.List)
			tutors.POST("", tutorHandler.Create)
			tutors.POST("/import", tutorHandler.Import)
			tutors.GET("/:id", tutorHandler.Get)
			tutors.PUT("/:id", tutorHandler.Update)
			tutors.DELETE("/:id", tutorHandler.Delete)
			tutors.GET("/:id/share-link", tutorHandler.ShareLink)

			tutors.POST("/:id/chat/start", chatHandler.StartSession)
			tutors.GET("/:id/chat/history", chatHandler.GetHistory)
			tutors.POST("/:id/chat/send", chatHandler.SendMessage)
			tutors.POST("/:id/chat/clear", chatHandler.ClearHistory)
			tutors.POST("/:id/chat/close", chatHandler.CloseSession)

			tutors.POST("/:id/quiz", studyHandler.GenerateQuiz)
			tutors.POST("/:id/quiz/answer", studyHandler.AnswerQuiz)
			tutors.POST("/:id/quiz/next", studyHandler.NextQuestion)
			tutors.POST("/:id/quiz/prev", studyHandler.PrevQuestion)
			tutors.POST("/:id/quiz/submit", studyHandler.SubmitQuiz)
			tutors.POST("/:id/flashcards", studyHandler.GenerateFlashcards)
			tutors.POST("/:id/flashcards/next", studyHandler.NextCard)
			tutors.POST("/:id/flashcards/prev", studyHandler.PrevCard)
			tutors.POST("/:id/flashcards/flip", studyHandler.FlipCard)
			tutors.GET("/:id/view", studyHandler.GetView)
			tutors.POST("/:id/view/close", studyHandler.CloseView)
		}

		// 导师编辑器支撑路由组，需要认证
		editor := apiV1.Group("/editor")
		editor.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			editor.POST("/knowledge/extract", knowledgeHandler.Extract)
			editor.POST("/sources/search", sourceHandler.Search)
		}

		// Chat WebSocket 凭证
		chatGroup := apiV1.Group("/chat")
		chatGroup.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chatGroup.GET("/websocket-ticket", chatHandler.GetWebsocketTicket)
		}
	}
	r.GET("/chat/:ticket", chatHandler.Handle)

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
