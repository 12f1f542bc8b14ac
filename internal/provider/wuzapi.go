package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/wuzapi"
)

// WuzapiAdapter receives WhatsApp messages from a WuzAPI instance. It is push-only.
type WuzapiAdapter struct {
	timeout time.Duration
}

func NewWuzapiAdapter(timeout time.Duration) *WuzapiAdapter {
	return &WuzapiAdapter{timeout: timeout}
}

func (a *WuzapiAdapter) Provider() string                  { return "wuzapi" }
func (a *WuzapiAdapter) Channel() syncdomain.Channel       { return syncdomain.ChannelChat }
func (a *WuzapiAdapter) CursorKind() syncdomain.CursorKind { return syncdomain.CursorTimestamp }

func (a *WuzapiAdapter) FetchNew(ctx context.Context, src *syncdomain.Source, cursor int64) (Batch, error) {
	return Batch{}, errs.ErrNotSupported
}

func (a *WuzapiAdapter) ParsePush(ctx context.Context, src *syncdomain.Source, push ingestdomain.Push) ([]ingestdomain.Record, error) {
	event, err := wuzapi.ParseEvent(push.Body)
	if err != nil {
		return nil, errs.Mapping(err)
	}
	if !strings.EqualFold(event.Kind(), "Message") || event.Message == nil {
		return nil, nil
	}

	m := event.Message
	if m.FromMe || m.IsGroup {
		return nil, nil
	}
	from := wuzapi.NormalizePhone(m.From)
	if from == "" {
		return nil, errs.Mapping(fmt.Errorf("wuzapi message %s without sender", m.ID))
	}

	text := m.Body
	if text == "" {
		text = m.Text
	}
	if text == "" {
		text = m.Caption
	}
	contact := m.PushName
	if contact == "" {
		contact = m.SenderName
	}
	sentAt := time.Now().UTC()
	if m.Timestamp > 0 {
		sentAt = unixAuto(m.Timestamp)
	}

	msg := &ingestdomain.InboundMessage{
		Channel:       syncdomain.ChannelChat,
		ExternalID:    m.ID,
		LegacyID:      m.MessageID,
		From:          from,
		ContactName:   contact,
		Text:          text,
		MediaURL:      m.MediaURL,
		MediaMimeType: m.MimeType,
		MediaKind:     mediaKindFor(m.Type, m.MimeType, m.MediaURL),
		SentAt:        sentAt,
	}
	if primary, _ := msg.DedupKey(); primary == "" {
		return nil, errs.Mapping(fmt.Errorf("wuzapi message from %s without id", from))
	}

	return []ingestdomain.Record{{
		Kind:     ingestdomain.RecordMessage,
		SourceID: src.ID,
		Provider: a.Provider(),
		Message:  msg,
	}}, nil
}

func (a *WuzapiAdapter) Identify(push ingestdomain.Push) string {
	event, err := wuzapi.ParseEvent(push.Body)
	if err != nil {
		return ""
	}
	return event.InstanceID
}

// VerifyPush checks the X-Wuzapi-Signature header with the webhook_secret credential
func (a *WuzapiAdapter) VerifyPush(src *syncdomain.Source, push ingestdomain.Push) error {
	if !wuzapi.VerifySignature(src.Credential("webhook_secret"), push.Body, push.Header["X-Wuzapi-Signature"]) {
		return fmt.Errorf("invalid wuzapi signature for source %s", src.ID)
	}
	return nil
}

func (a *WuzapiAdapter) Send(ctx context.Context, src *syncdomain.Source, destination, text string) SendResult {
	client := wuzapi.NewClient(src.Credential("base_url"), src.Credential("token"), a.timeout)
	id, err := client.SendText(ctx, destination, text)
	if err != nil {
		return SendResult{Err: err}
	}
	return SendResult{ExternalID: id}
}

func mediaKindFor(messageType, mimeType, mediaURL string) string {
	if mediaURL == "" {
		return ""
	}
	switch strings.ToLower(messageType) {
	case "image", "audio", "video":
		return strings.ToLower(messageType)
	case "ptt", "voice":
		return "audio"
	case "document", "sticker":
		return "file"
	}
	if kind := MediaKind(mimeType); kind != "" {
		return kind
	}
	return "file"
}

// unixAuto accepts seconds or milliseconds
func unixAuto(ts int64) time.Time {
	if ts > 1e12 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}
