package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// SSE endpoint; without ?topic= the stream carries every event
		api.GET("/events", func(c *gin.Context) {
			h.hub.ServeHTTP(c, c.DefaultQuery("topic", "*"))
		})

		conversations := api.Group("/conversations")
		{
			conversations.GET("", h.conversations.List)
			conversations.GET("/:id", h.conversations.Get)
			conversations.GET("/:id/messages", h.conversations.ListMessages)
			conversations.POST("/:id/messages", h.conversations.SendMessage)
			conversations.POST("/:id/resolve", h.conversations.Resolve)
			conversations.POST("/:id/archive", h.conversations.Archive)
			conversations.POST("/:id/read", h.conversations.MarkRead)
		}

		calls := api.Group("/calls")
		{
			calls.GET("", h.calls.List)
			calls.GET("/:call_id", h.calls.Get)
		}

		sync := api.Group("/sync")
		{
			sync.GET("/cursors", h.sync.ListCursors)
			sync.POST("/sources/:source_id", h.sync.Trigger)
		}

		ingest := api.Group("/ingest")
		{
			ingest.GET("/dead-letters", h.deadLetters.List)
			ingest.POST("/dead-letters/:id/replay", h.deadLetters.Replay)
		}
	}

	// Provider webhooks are answered 200 regardless of outcome
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/gmail", h.webhooks.Gmail)
		webhooks.POST("/wuzapi", h.webhooks.Wuzapi)
		webhooks.POST("/twilio", h.webhooks.Twilio)
		webhooks.POST("/cloudpbx/cdr", h.webhooks.CloudPBXCDR)
		webhooks.GET("/cloudpbx/callback", h.webhooks.CloudPBXCallback)
	}
}
