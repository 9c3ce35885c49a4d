package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/middleware"
)

// NewRouter creates and configures the Gin router.
func NewRouter(h *UserHandler, tokens middleware.TokenParser) *gin.Engine {
	if err := middleware.RegisterValidators(); err != nil {
		logrus.WithError(err).Fatal("failed to register validators")
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.CorrelationID())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	requireAuth := middleware.Auth(tokens)

	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUser)
	r.PUT("/users/:id", requireAuth, h.UpdateUser)
	r.DELETE("/users/:id", requireAuth, h.DeleteUser)

	authGroup := r.Group("/auth")
	authGroup.POST("/login", h.Login)
	authGroup.POST("/refresh", h.Refresh)
	authGroup.POST("/logout", requireAuth, h.Logout)

	return r
}
