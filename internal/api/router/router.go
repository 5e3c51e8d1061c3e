package router

import (
	"context"
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"

	exporthandler "photomap/internal/api/handlers/export"
	photohandler "photomap/internal/api/handlers/photo"
	"photomap/internal/api/respond"
	"photomap/internal/middleware"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

func Setup(photos *photohandler.Handler, exports *exporthandler.Handler, health HealthChecker) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")

	api.POST("/photos", photos.Upload)
	api.GET("/photos", photos.List)
	api.GET("/photos/:id", photos.Get)
	api.GET("/photos/:id/download", photos.Download)
	api.DELETE("/photos/:id", photos.Delete)
	api.PUT("/photos/:id/coordinates", photos.UpdateCoordinates)
	api.GET("/stats", photos.Stats)

	// The static stats route is registered before the :id routes so gin
	// resolves it first.
	api.POST("/exports", exports.Create)
	api.GET("/exports/stats", exports.Stats)
	api.GET("/exports/:id", exports.Get)
	api.GET("/exports/:id/download", exports.Download)
	api.DELETE("/exports/:id", exports.Cancel)

	api.GET("/health", func(c *ginext.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if health != nil {
			if err := health(ctx); err != nil {
				respond.Fail(c, http.StatusServiceUnavailable, err)
				return
			}
		}
		respond.OK(c, map[string]string{"status": "ok"})
	})

	return r
}
