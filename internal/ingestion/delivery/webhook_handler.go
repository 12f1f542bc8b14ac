package delivery

import (
	"context"
	"io"
	"net/http"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/internal/provider"
	"commhub-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxWebhookBody = 10 << 20

// Enqueuer persists a webhook delivery for asynchronous processing
type Enqueuer interface {
	Enqueue(ctx context.Context, task *ingestdomain.IngestTask) error
}

// WebhookHandler receives provider pushes. Every delivery is answered 200; rejected deliveries
// are only logged and accepted ones are processed from the task queue.
type WebhookHandler struct {
	registry      *provider.Registry
	queue         Enqueuer
	publicBaseURL string
	log           zerolog.Logger
}

func NewWebhookHandler(registry *provider.Registry, queue Enqueuer, publicBaseURL string) *WebhookHandler {
	return &WebhookHandler{
		registry:      registry,
		queue:         queue,
		publicBaseURL: publicBaseURL,
		log:           logger.Component("webhooks"),
	}
}

// Gmail receives Pub/Sub push envelopes for mailbox changes
func (h *WebhookHandler) Gmail(c *gin.Context) {
	h.receive(c, "gmail", "")
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (h *WebhookHandler) Wuzapi(c *gin.Context) {
	h.receive(c, "wuzapi", "")
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// Twilio expects TwiML; an empty response sends no auto-reply
func (h *WebhookHandler) Twilio(c *gin.Context) {
	h.receive(c, "twilio", "")
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte("<Response></Response>"))
}

func (h *WebhookHandler) CloudPBXCDR(c *gin.Context) {
	h.receive(c, "cloudpbx", provider.RouteCDR)
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (h *WebhookHandler) CloudPBXCallback(c *gin.Context) {
	h.receive(c, "cloudpbx", provider.RouteCallback)
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (h *WebhookHandler) receive(c *gin.Context, providerName, route string) {
	log := h.log.With().Str("provider", providerName).Str("route", route).Logger()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read webhook body")
		return
	}

	query := c.Request.URL.Query()
	push := ingestdomain.Push{
		Route:       route,
		Body:        body,
		ContentType: c.ContentType(),
		Query:       query,
		Header:      firstValues(c.Request.Header),
		URL:         h.requestURL(c),
	}

	adapter, ok := h.registry.Adapter(providerName)
	if !ok {
		log.Warn().Msg("Webhook for a provider without configured sources")
		return
	}

	identity := ""
	auth, verifies := adapter.(provider.PushAuthenticator)
	if verifies {
		identity = auth.Identify(push)
	}
	src, err := h.registry.ResolvePush(providerName, query.Get("source"), identity)
	if err != nil {
		log.Warn().Err(err).Str("identity", identity).Msg("Webhook does not match an active source")
		return
	}
	if verifies {
		if err := auth.VerifyPush(src, push); err != nil {
			log.Warn().Err(err).Str("source_id", src.ID).Msg("Webhook signature rejected")
			return
		}
	}

	task := &ingestdomain.IngestTask{
		Provider:    providerName,
		Route:       route,
		SourceID:    src.ID,
		Payload:     body,
		ContentType: push.ContentType,
		Query:       query.Encode(),
	}
	if err := h.queue.Enqueue(c.Request.Context(), task); err != nil {
		log.Error().Err(err).Str("source_id", src.ID).Msg("Failed to persist webhook delivery")
		return
	}
	log.Debug().Str("source_id", src.ID).Str("task_id", task.ID).Msg("Webhook queued")
}

// requestURL rebuilds the URL the provider called, as needed for Twilio signatures
func (h *WebhookHandler) requestURL(c *gin.Context) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL + c.Request.URL.RequestURI()
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if forwarded := c.GetHeader("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

func firstValues(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k, v := range header {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
