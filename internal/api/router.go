package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/talksphere/internal/auth"
	"github.com/lalith-99/talksphere/internal/middleware"
	"github.com/lalith-99/talksphere/internal/observ"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Handlers groups everything the router mounts. WS may be nil in tests
// that only exercise HTTP.
type Handlers struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Messages *MessageHandler
	Groups   *GroupHandler
	Uploads  *UploadHandler
	WS       gin.HandlerFunc

	// Ready, when set, backs the health check with a dependency check.
	Ready func(ctx context.Context) error
}

// NewRouter builds the gin engine. Health, metrics, auth and upload reads
// are public; everything else under /v1 requires a bearer token.
func NewRouter(verifier *auth.Verifier, h Handlers, maxUploadBytes int64) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(observ.ServiceName))
	r.Use(observ.HTTPMetricsMiddleware())
	// Parts up to the upload cap stay in memory. The body itself is capped
	// in UploadHandler.
	if maxUploadBytes > 0 {
		r.MaxMultipartMemory = maxUploadBytes
	}

	r.GET("/v1/health", func(c *gin.Context) {
		if h.Ready != nil {
			if err := h.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", observ.MetricsHandler())

	r.POST("/v1/auth/signup", h.Auth.Signup)
	r.POST("/v1/auth/login", h.Auth.Login)
	r.GET("/v1/uploads/:id", h.Uploads.Get)

	// The websocket authenticates its own handshake from ?token=.
	if h.WS != nil {
		r.GET("/v1/ws", h.WS)
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(verifier))

	v1.GET("/users", h.Users.List)
	v1.GET("/users/me", h.Users.GetMe)
	v1.POST("/users/me/avatar", h.Users.UploadAvatar)

	v1.POST("/uploads", h.Uploads.Create)

	v1.GET("/messages/public", h.Messages.Public)
	v1.GET("/messages/private/:a/:b", h.Messages.Private)
	v1.GET("/messages/group/:name", h.Messages.Group)
	v1.POST("/messages", h.Messages.Create)
	v1.DELETE("/messages/:id", h.Messages.Delete)
	v1.DELETE("/messages/private/:id", h.Messages.DeletePrivate)

	v1.POST("/groups", h.Groups.Create)
	v1.GET("/groups", h.Groups.List)
	v1.GET("/groups/:name", h.Groups.Get)
	v1.POST("/groups/:name/members", h.Groups.AddMember)
	v1.DELETE("/groups/:name/members/:user", h.Groups.RemoveMember)

	return r
}
