package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"touchpoint-service/internal/config"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
)

func NewRouter(h *Handler, hub *Hub, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group(cfg.API.BasePath)

	cron := api.Group("/cron", CronAuthMiddleware(cfg.Auth.CronSecret))
	{
		cron.POST("/birthdays", h.RunTouchpoint(models.NotificationBirthday))
		cron.POST("/holidays", h.RunTouchpoint(models.NotificationHoliday))
		cron.POST("/anniversaries", h.RunTouchpoint(models.NotificationAnniversary))
		cron.POST("/conservation", h.RunConservation)
	}

	agent := api.Group("", SessionAuthMiddleware(cfg.Auth.JWTSecret))
	{
		// Conservation
		agent.GET("/conservation/alerts", h.ListAlerts)
		agent.GET("/conservation/alerts/:id", h.GetAlert)
		agent.POST("/conservation/alerts", h.CreateAlert)
		agent.POST("/conservation/arm", h.ArmAlert)
		agent.POST("/conservation/cancel", h.CancelOutreach)
		agent.POST("/conservation/resolve", h.ResolveAlert)
		agent.POST("/conservation/notes", h.UpdateNotes)

		// Notifications
		agent.GET("/clients/:id/notifications", h.ListClientNotifications)
	}

	// Client app, authenticated by app code
	api.POST("/push/register", h.RegisterPush)
	api.POST("/notifications/:id/read", h.MarkRead)

	if hub != nil {
		api.GET("/ws", hub.Serve(cfg.Auth.JWTSecret))
	}
	return r
}
