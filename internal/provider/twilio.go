package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/storage"
	"commhub-backend/pkg/twilio"
)

// TwilioAdapter receives WhatsApp messages as form-encoded webhooks. It is push-only.
type TwilioAdapter struct {
	baseURL string
	timeout time.Duration
	mirror  *storage.Mirror
}

func NewTwilioAdapter(baseURL string, timeout time.Duration, mirror *storage.Mirror) *TwilioAdapter {
	return &TwilioAdapter{baseURL: baseURL, timeout: timeout, mirror: mirror}
}

func (a *TwilioAdapter) Provider() string                  { return "twilio" }
func (a *TwilioAdapter) Channel() syncdomain.Channel       { return syncdomain.ChannelChat }
func (a *TwilioAdapter) CursorKind() syncdomain.CursorKind { return syncdomain.CursorTimestamp }

func (a *TwilioAdapter) FetchNew(ctx context.Context, src *syncdomain.Source, cursor int64) (Batch, error) {
	return Batch{}, errs.ErrNotSupported
}

func (a *TwilioAdapter) ParsePush(ctx context.Context, src *syncdomain.Source, push ingestdomain.Push) ([]ingestdomain.Record, error) {
	form, err := url.ParseQuery(string(push.Body))
	if err != nil {
		return nil, errs.Mapping(fmt.Errorf("invalid twilio form: %w", err))
	}
	in, err := twilio.ParseInbound(form)
	if err != nil {
		return nil, errs.Mapping(err)
	}

	msg := &ingestdomain.InboundMessage{
		Channel:     syncdomain.ChannelChat,
		ExternalID:  in.MessageSID,
		LegacyID:    in.SmsSID,
		From:        twilio.StripScheme(in.From),
		ContactName: in.ProfileName,
		Text:        in.Body,
		SentAt:      time.Now().UTC(),
	}
	if in.NumMedia > 0 && in.MediaURL != "" {
		msg.MediaURL = in.MediaURL
		msg.MediaMimeType = in.MediaType
		msg.MediaKind = MediaKind(in.MediaType)
		if msg.MediaKind == "" {
			msg.MediaKind = "file"
		}
	}
	if primary, _ := msg.DedupKey(); primary == "" {
		return nil, errs.Mapping(fmt.Errorf("twilio message from %s without sid", msg.From))
	}

	return []ingestdomain.Record{{
		Kind:     ingestdomain.RecordMessage,
		SourceID: src.ID,
		Provider: a.Provider(),
		Message:  msg,
	}}, nil
}

// Identify returns the receiving number
func (a *TwilioAdapter) Identify(push ingestdomain.Push) string {
	form, err := url.ParseQuery(string(push.Body))
	if err != nil {
		return ""
	}
	return twilio.StripScheme(form.Get("To"))
}

func (a *TwilioAdapter) VerifyPush(src *syncdomain.Source, push ingestdomain.Push) error {
	form, err := url.ParseQuery(string(push.Body))
	if err != nil {
		return err
	}
	if !twilio.ValidateSignature(src.Credential("auth_token"), push.URL, form, push.Header["X-Twilio-Signature"]) {
		return fmt.Errorf("invalid twilio signature for source %s", src.ID)
	}
	return nil
}

func (a *TwilioAdapter) Send(ctx context.Context, src *syncdomain.Source, destination, text string) SendResult {
	client := twilio.NewClient(a.baseURL, src.Credential("account_sid"), src.Credential("auth_token"), src.Identity, a.timeout)
	sid, err := client.SendWhatsApp(ctx, destination, text)
	if err != nil {
		return SendResult{Err: err}
	}
	return SendResult{ExternalID: sid}
}

// MirrorMedia downloads Twilio media with the account credentials
func (a *TwilioAdapter) MirrorMedia(ctx context.Context, src *syncdomain.Source, mediaURL, contentType string) (string, error) {
	return a.mirror.WithBasicAuth(src.Credential("account_sid"), src.Credential("auth_token")).
		Copy(ctx, mediaURL, "chat/"+src.ID, contentType)
}
