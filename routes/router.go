package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vocabnest/vocabnest/config"
	"github.com/vocabnest/vocabnest/controllers"
	"github.com/vocabnest/vocabnest/metrics"
	"github.com/vocabnest/vocabnest/middleware"
	"github.com/vocabnest/vocabnest/services"
	"github.com/vocabnest/vocabnest/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB) *gin.Engine {
	return NewRouter(db, utils.NewCache())
}

// NewRouter builds the engine around an explicit cache so tests can run without redis.
func NewRouter(db *gorm.DB, cache utils.Cache) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Access log goes to its own rolling file when configured
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err != nil {
		gl = utils.Logger
	}
	r.Use(utils.Ginzap(gl, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(gl, true))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.Use(middleware.Metrics())

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	lookup := services.NewLookupIndex(db, cache)
	accounts := services.NewAccountService(db, cache, lookup)
	importer := services.NewImporter(db, cache, lookup, cfg)
	workPoints := services.NewWorkPointsService(db, cache, cfg)

	authController := controllers.NewAuthController(db, accounts)
	workPointsController := controllers.NewWorkPointsController(workPoints)
	vocabController := controllers.NewVocabController(db, importer, lookup, cfg)
	textController := controllers.NewTextController(db, lookup)
	statsController := controllers.NewStatsController(db)

	api := r.Group("/api")
	api.GET("/stats", statsController.GetStats)

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.GET("/oauth/:provider/login", authController.OAuthRedirect)
	authGroup.GET("/oauth/:provider/callback", authController.OAuthCallback)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)
	authGroup.PATCH("/profile", middleware.AuthRequired(), authController.UpdateProfile)
	authGroup.DELETE("/account", middleware.AuthRequired(), authController.DeleteAccount)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())

	wp := protected.Group("/users/work-points")
	wp.POST("/sync", workPointsController.Sync)
	wp.GET("/calendar/:month", workPointsController.Calendar)
	wp.GET("/status", workPointsController.Status)

	vocab := protected.Group("/vocabEntries")
	vocab.GET("", vocabController.List)
	vocab.POST("", vocabController.Create)
	vocab.GET("/lookup", vocabController.Lookup)
	vocab.POST("/import", vocabController.Import)
	vocab.GET("/import/:jobId", vocabController.ImportStatus)
	vocab.GET("/:id", vocabController.Get)
	vocab.PUT("/:id", vocabController.Update)
	vocab.DELETE("/:id", vocabController.Delete)

	texts := protected.Group("/texts")
	texts.GET("", textController.List)
	texts.POST("", textController.Create)
	texts.GET("/:id", textController.Get)
	texts.PUT("/:id", textController.Update)
	texts.DELETE("/:id", textController.Delete)
	texts.GET("/:id/lookup", textController.Lookup)

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") {
			utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
			return
		}
		utils.Error(ctx, http.StatusNotFound, 40400, "not found")
	})

	return r
}
