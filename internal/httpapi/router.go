package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mouseland/aistudio/internal/common"
	"github.com/mouseland/aistudio/internal/httpapi/handlers"
	"github.com/mouseland/aistudio/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	// browser clients hold the guest key, so it must be readable cross-origin
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AddAllowHeaders("Authorization", middleware.GuestIDHeader)
	corsCfg.ExposeHeaders = append(corsCfg.ExposeHeaders, middleware.GuestIDHeader, "X-Request-ID")
	r.Use(cors.New(corsCfg))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// captcha + member accounts
	r.POST("/captcha", h.SendCaptcha)
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// operator-uploaded artifacts
	r.Static("/static", h.Blob.Dir())

	// everything below resolves the caller's identity per request;
	// guests pass (and receive) X-Guest-ID
	identified := r.Group("/")
	identified.Use(middleware.Identify(h.Resolver, h.Cfg.JWTSecret))

	identified.GET("/me", h.Me)
	identified.GET("/quota", h.QuotaStatus)

	identified.POST("/requests", h.SubmitRequest)
	identified.GET("/requests", h.ListMyRequests)
	identified.GET("/requests/:id", h.GetRequest)

	// live view stream (would conflict with /requests/:id in the route tree)
	identified.GET("/events", h.StreamRequests)

	admin := identified.Group("/admin")
	admin.GET("/requests/pending", h.ListPendingRequests)
	admin.POST("/requests/:id/fulfill", h.FulfillRequest)
	admin.POST("/requests/:id/upload", h.UploadAndFulfill)
	admin.POST("/requests/:id/reject", h.RejectRequest)

	return r
}
