// Package api serves the HTTP surface: the read-only address book over the
// local mirror and the subscription callback.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/store"
	"github.com/roach88/orgsync/internal/webhook"
)

// Mirror is the slice of the local store the address book reads.
type Mirror interface {
	ReadAllDepts(ctx context.Context) ([]store.Dept, error)
	ReadChildDepts(ctx context.Context, deptPID string) ([]store.Dept, error)
	ReadAllUsers(ctx context.Context) ([]model.SourceUser, error)
	ReadUsersInDept(ctx context.Context, deptID string) ([]model.SourceUser, error)
}

// Config wires a router. An empty Token disables the address book; Status,
// when set, reports task states on /healthz.
type Config struct {
	Mirror     Mirror
	Token      string
	Dispatcher *webhook.Dispatcher
	Logger     *zap.Logger
	Status     func() map[string]string
}

// NewRouter builds the gin engine. Routes whose dependency is nil are not
// mounted.
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if cfg.Status != nil {
			body["tasks"] = cfg.Status()
		}
		c.JSON(200, body)
	})

	if cfg.Mirror != nil {
		ab := &addressBook{mirror: cfg.Mirror, token: cfg.Token, logger: logger}
		g := r.Group("/addressbook")
		g.GET("/groups", ab.groups)
		g.GET("/users", ab.users)
	}
	if cfg.Dispatcher != nil {
		cb := &callback{dispatcher: cfg.Dispatcher, logger: logger}
		r.POST("/wps/subscription/callback", cb.handle)
	}
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
