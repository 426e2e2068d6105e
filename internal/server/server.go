// Package server assembles the ledger services and the HTTP surface on top
// of them.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"envledger/internal/access"
	"envledger/internal/config"
	"envledger/internal/events"
	"envledger/internal/handlers"
	"envledger/internal/middleware"
	"envledger/internal/observability"
	"envledger/internal/resilience"
	"envledger/internal/services"
	"envledger/internal/store"
)

// Ledger is the set of services behind the HTTP surface.
type Ledger struct {
	Store        *store.Store
	Access       *access.Resolver
	Users        services.UserServicer
	Budgets      services.BudgetServicer
	Envelopes    services.EnvelopeServicer
	Transactions services.TransactionServicer
	Rollover     services.RolloverServicer
	Archive      services.ArchiveServicer
}

// NewLedger wires every ledger service against db.
func NewLedger(db *gorm.DB, cfg *config.Config, publisher events.Publisher, metrics *observability.Metrics) *Ledger {
	st := store.New(db)
	resolver := access.NewResolver(st, cfg.AccessCacheSize, cfg.AccessCacheTTL, metrics)
	audit := services.NewAuditService(db)

	return &Ledger{
		Store:        st,
		Access:       resolver,
		Users:        services.NewUserService(st),
		Budgets:      services.NewBudgetService(st, resolver, publisher, audit, cfg.MaxSharedPrincipals),
		Envelopes:    services.NewEnvelopeService(st, resolver, publisher, audit),
		Transactions: services.NewTransactionService(st, resolver, publisher, audit),
		Rollover:     services.NewRolloverService(st, resolver, publisher, audit),
		Archive:      services.NewArchiveService(st, publisher, metrics, cfg.ArchiveRetention),
	}
}

// NewRouter builds the gin engine with every route of the API.
func NewRouter(cfg *config.Config, l *Ledger, metrics *observability.Metrics) *gin.Engine {
	mutator := handlers.NewMutator(resilience.Config{
		MaxRetries:     cfg.ConflictRetries,
		InitialBackoff: cfg.ConflictBackoff,
	}, metrics)

	userHandler := handlers.NewUserHandler(l.Users, mutator)
	budgetHandler := handlers.NewBudgetHandler(l.Budgets, l.Rollover, mutator)
	envelopeHandler := handlers.NewEnvelopeHandler(l.Envelopes, mutator)
	transactionHandler := handlers.NewTransactionHandler(l.Transactions, mutator)
	pipelineHandler := handlers.NewPipelineHandler(l.Archive)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogging(metrics))
	router.Use(middleware.ErrorHandler())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")

	internal := v1.Group("/internal")
	internal.Use(middleware.PipelineAuthMiddleware(cfg.PipelineAPIKeyHash))
	internal.POST("/archive", pipelineHandler.ArchiveExpired)

	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer, l.Users))

	protected.GET("/me", userHandler.GetProfile)
	protected.PUT("/me", userHandler.UpdateProfile)
	protected.DELETE("/me", userHandler.DeactivateProfile)

	budgets := protected.Group("/budgets")
	budgets.POST("", budgetHandler.CreateBudget)
	budgets.GET("", budgetHandler.GetBudgets)
	budgets.GET("/:id", budgetHandler.GetBudget)
	budgets.PUT("/:id", budgetHandler.UpdateBudget)
	budgets.GET("/:id/summary", budgetHandler.GetBudgetSummary)
	budgets.POST("/:id/activate", budgetHandler.ActivateBudget)
	budgets.POST("/:id/draft", budgetHandler.RevertToDraft)
	budgets.POST("/:id/close", budgetHandler.CloseBudget)
	budgets.POST("/:id/rollover", budgetHandler.OpenNextPeriod)
	budgets.POST("/:id/share", budgetHandler.ShareBudget)
	budgets.DELETE("/:id/share/:principalId", budgetHandler.UnshareBudget)

	envelopes := budgets.Group("/:id/envelopes")
	envelopes.POST("", envelopeHandler.CreateEnvelope)
	envelopes.GET("", envelopeHandler.GetEnvelopes)
	envelopes.GET("/:envelopeId", envelopeHandler.GetEnvelope)
	envelopes.PUT("/:envelopeId", envelopeHandler.UpdateEnvelope)
	envelopes.DELETE("/:envelopeId", envelopeHandler.DeleteEnvelope)
	envelopes.POST("/:envelopeId/allocate", envelopeHandler.AllocateEnvelope)
	envelopes.POST("/:envelopeId/pause", envelopeHandler.PauseEnvelope)
	envelopes.POST("/:envelopeId/resume", envelopeHandler.ResumeEnvelope)
	envelopes.POST("/:envelopeId/close", envelopeHandler.CloseEnvelope)

	transactions := budgets.Group("/:id/transactions")
	transactions.POST("/income", transactionHandler.RecordIncome)
	transactions.POST("/expense", transactionHandler.RecordExpense)
	transactions.POST("/transfer", transactionHandler.RecordTransfer)
	transactions.GET("", transactionHandler.GetTransactions)
	transactions.GET("/:txId", transactionHandler.GetTransaction)
	transactions.PUT("/:txId", transactionHandler.UpdateTransaction)
	transactions.POST("/:txId/clear", transactionHandler.ClearTransaction)
	transactions.POST("/:txId/reconcile", transactionHandler.ReconcileTransaction)
	transactions.POST("/:txId/void", transactionHandler.VoidTransaction)

	return router
}
