package api

import (
	"net/http"
	"time"

	calldelivery "commhub-backend/internal/call/delivery"
	conversationdelivery "commhub-backend/internal/conversation/delivery"
	ingestdelivery "commhub-backend/internal/ingestion/delivery"
	syncdelivery "commhub-backend/internal/sync/delivery"
	"commhub-backend/pkg/realtime"

	"github.com/gin-gonic/gin"
)

// Handler bundles the HTTP surface: the agent API under /api and provider webhooks under /webhooks
type Handler struct {
	hub           *realtime.Hub
	conversations *conversationdelivery.ConversationHandler
	calls         *calldelivery.CallHandler
	sync          *syncdelivery.SyncHandler
	webhooks      *ingestdelivery.WebhookHandler
	deadLetters   *ingestdelivery.DeadLetterHandler
}

func NewHandler(
	hub *realtime.Hub,
	conversations *conversationdelivery.ConversationHandler,
	calls *calldelivery.CallHandler,
	sync *syncdelivery.SyncHandler,
	webhooks *ingestdelivery.WebhookHandler,
	deadLetters *ingestdelivery.DeadLetterHandler,
) *Handler {
	return &Handler{
		hub:           hub,
		conversations: conversations,
		calls:         calls,
		sync:          sync,
		webhooks:      webhooks,
		deadLetters:   deadLetters,
	}
}

// Router builds the gin engine with CORS and every route registered
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)
	return r
}

// Server returns an http.Server for addr. WriteTimeout stays unset so SSE streams are not cut.
func (h *Handler) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
