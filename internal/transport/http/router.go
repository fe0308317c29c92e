package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

// NewRouter builds the full §6 HTTP surface. Auth/tenancy is an explicit
// Non-goal of this system, so every route is unauthenticated — the
// teacher's middleware.Auth has no counterpart here.
func NewRouter(scheduleHandler *handler.ScheduleHandler, healthHandler *handler.HealthHandler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sloggin.New(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())

	r.GET("/health", healthHandler.Liveness)
	r.GET("/health/ready", healthHandler.Readiness)

	schedules := r.Group("/schedules")
	schedules.POST("/daily", scheduleHandler.CreateDaily)
	schedules.POST("/interval", scheduleHandler.CreateInterval)
	schedules.POST("/once", scheduleHandler.CreateOnce)
	schedules.GET("", scheduleHandler.List)
	schedules.PATCH("/by_key", scheduleHandler.UpdateByKey)
	schedules.PATCH("/:id", scheduleHandler.Update)
	schedules.GET("/:id", scheduleHandler.GetByID)
	schedules.DELETE("/:id", scheduleHandler.Delete)
	schedules.POST("/by_key/delete", scheduleHandler.DeleteByKey)
	schedules.POST("/by_key/delete_all", scheduleHandler.DeleteAllByKey)

	return r
}
