package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/gmail"
	"commhub-backend/pkg/mailmsg"
	"commhub-backend/pkg/storage"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// MailboxOpener opens the Gmail mailbox of a source
type MailboxOpener func(ctx context.Context, src *syncdomain.Source) (*gmail.Mailbox, error)

// GmailAdapter pulls by history id and receives Pub/Sub push notifications
type GmailAdapter struct {
	open      MailboxOpener
	topic     string
	batchSize int
	mirror    *storage.Mirror
}

// NewGmailOpener opens mailboxes with the access_token and refresh_token credentials of a source
func NewGmailOpener(svc *gmail.Service) MailboxOpener {
	return func(ctx context.Context, src *syncdomain.Source) (*gmail.Mailbox, error) {
		if src.Credential("refresh_token") == "" && src.Credential("access_token") == "" {
			return nil, errs.Auth(fmt.Errorf("source %s has no gmail token", src.ID))
		}
		return svc.Mailbox(ctx, src.Credential("access_token"), src.Credential("refresh_token"), func(t *oauth2.Token) error {
			log.Debug().Str("source_id", src.ID).Time("expiry", t.Expiry).Msg("Gmail access token refreshed")
			return nil
		})
	}
}

func NewGmailAdapter(open MailboxOpener, topic string, batchSize int, mirror *storage.Mirror) *GmailAdapter {
	return &GmailAdapter{open: open, topic: topic, batchSize: batchSize, mirror: mirror}
}

func (a *GmailAdapter) Provider() string                  { return "gmail" }
func (a *GmailAdapter) Channel() syncdomain.Channel       { return syncdomain.ChannelEmail }
func (a *GmailAdapter) CursorKind() syncdomain.CursorKind { return syncdomain.CursorHistoryToken }

func (a *GmailAdapter) FetchNew(ctx context.Context, src *syncdomain.Source, cursor int64) (Batch, error) {
	mb, err := a.open(ctx, src)
	if err != nil {
		return Batch{}, err
	}

	if cursor == syncdomain.CursorStart {
		return a.bootstrap(ctx, mb, src)
	}

	entries, latest, err := mb.History(ctx, uint64(cursor), a.batchSize)
	if errors.Is(err, gmail.ErrHistoryExpired) {
		log.Warn().Str("source_id", src.ID).Int64("cursor", cursor).Msg("Gmail history expired, resyncing recent messages")
		return a.bootstrap(ctx, mb, src)
	}
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{Cursor: int64(latest)}
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if seen[entry.MessageID] {
			continue
		}
		seen[entry.MessageID] = true

		rec, err := a.fetchRecord(ctx, mb, src, entry.MessageID, int64(entry.HistoryID))
		if err != nil {
			// the failed entry's history record is retried whole
			for len(batch.Records) > 0 && batch.Records[len(batch.Records)-1].Position == int64(entry.HistoryID) {
				batch.Records = batch.Records[:len(batch.Records)-1]
			}
			if len(batch.Records) == 0 {
				return Batch{}, err
			}
			// keep what was fetched; the cursor stops before the failed entry
			log.Warn().Err(err).Str("source_id", src.ID).Str("message_id", entry.MessageID).Msg("Failed to fetch gmail message")
			batch.Cursor = 0
			break
		}
		if rec != nil {
			batch.Records = append(batch.Records, *rec)
		}
	}
	return batch, nil
}

// bootstrap reads the newest INBOX messages and positions the cursor at the current history id
func (a *GmailAdapter) bootstrap(ctx context.Context, mb *gmail.Mailbox, src *syncdomain.Source) (Batch, error) {
	_, historyID, err := mb.Profile(ctx)
	if err != nil {
		return Batch{}, err
	}
	ids, err := mb.Recent(ctx, a.batchSize)
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{Cursor: int64(historyID)}
	// oldest first
	for i := len(ids) - 1; i >= 0; i-- {
		rec, err := a.fetchRecord(ctx, mb, src, ids[i], 0)
		if err != nil {
			return Batch{}, err
		}
		if rec != nil {
			batch.Records = append(batch.Records, *rec)
		}
	}
	return batch, nil
}

func (a *GmailAdapter) fetchRecord(ctx context.Context, mb *gmail.Mailbox, src *syncdomain.Source, id string, position int64) (*ingestdomain.Record, error) {
	msg, err := mb.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if strings.EqualFold(msg.From, src.Identity) {
		return nil, nil
	}

	inbound := &ingestdomain.InboundMessage{
		Channel:     syncdomain.ChannelEmail,
		ExternalID:  msg.MessageID,
		LegacyID:    "gmail:" + msg.ID,
		From:        msg.From,
		ContactName: msg.FromName,
		Subject:     msg.Subject,
		Text:        msg.Text(),
		SentAt:      msg.ReceivedAt,
	}
	if len(msg.Attachments) > 0 {
		att := msg.Attachments[0]
		inbound.MediaURL = attachmentURL(msg.ID, att.ID)
		inbound.MediaName = att.Name
		inbound.MediaMimeType = att.MimeType
		inbound.MediaKind = MediaKind(att.MimeType)
	}

	return &ingestdomain.Record{
		Kind:     ingestdomain.RecordMessage,
		SourceID: src.ID,
		Provider: a.Provider(),
		Position: position,
		Message:  inbound,
	}, nil
}

type pubsubPush struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Notification is the data of a Gmail Pub/Sub message
type Notification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    int64  `json:"historyId"`
}

// DecodeNotification reads the Gmail notification from a Pub/Sub push envelope or from raw message data
func DecodeNotification(body []byte) (*Notification, error) {
	data := body
	var envelope pubsubPush
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid pubsub data: %w", err)
		}
		data = decoded
	}

	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("invalid gmail notification: %w", err)
	}
	if n.EmailAddress == "" {
		return nil, fmt.Errorf("gmail notification without emailAddress")
	}
	return &n, nil
}

// ParsePush yields a sync trigger; the sync itself resolves history since the stored cursor
func (a *GmailAdapter) ParsePush(ctx context.Context, src *syncdomain.Source, push ingestdomain.Push) ([]ingestdomain.Record, error) {
	n, err := DecodeNotification(push.Body)
	if err != nil {
		return nil, errs.Mapping(err)
	}
	return []ingestdomain.Record{{
		Kind:     ingestdomain.RecordSyncTrigger,
		SourceID: src.ID,
		Provider: a.Provider(),
		Position: n.HistoryID,
		Trigger:  &ingestdomain.SyncTrigger{SourceIdentity: n.EmailAddress, Token: n.HistoryID},
	}}, nil
}

func (a *GmailAdapter) Identify(push ingestdomain.Push) string {
	n, err := DecodeNotification(push.Body)
	if err != nil {
		return ""
	}
	return n.EmailAddress
}

// VerifyPush compares the token query parameter of the push endpoint with the push_token credential
func (a *GmailAdapter) VerifyPush(src *syncdomain.Source, push ingestdomain.Push) error {
	expected := src.Credential("push_token")
	if expected == "" || push.Query.Get("token") == expected {
		return nil
	}
	return fmt.Errorf("gmail push token mismatch for source %s", src.ID)
}

func (a *GmailAdapter) Send(ctx context.Context, src *syncdomain.Source, destination, text string) SendResult {
	mb, err := a.open(ctx, src)
	if err != nil {
		return SendResult{Err: err}
	}
	id, err := mb.Send(ctx, mailmsg.Outgoing{
		From:    src.Identity,
		To:      destination,
		Subject: replySubject(src),
		Text:    text,
	})
	if err != nil {
		return SendResult{Err: err}
	}
	return SendResult{ExternalID: "gmail:" + id}
}

func (a *GmailAdapter) Renew(ctx context.Context, src *syncdomain.Source) (*Subscription, error) {
	if a.topic == "" {
		return nil, errs.ErrNotSupported
	}
	mb, err := a.open(ctx, src)
	if err != nil {
		return nil, err
	}
	expiresAt, historyID, err := mb.Watch(ctx, a.topic)
	if err != nil {
		return nil, err
	}
	return &Subscription{ExpiresAt: expiresAt, HistoryID: int64(historyID)}, nil
}

// MirrorMedia downloads a gmail attachment reference and stores it
func (a *GmailAdapter) MirrorMedia(ctx context.Context, src *syncdomain.Source, mediaURL, contentType string) (string, error) {
	messageID, attachmentID, ok := parseAttachmentURL(mediaURL)
	if !ok || !a.mirror.Enabled() {
		return "", nil
	}
	mb, err := a.open(ctx, src)
	if err != nil {
		return "", err
	}
	data, err := mb.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return "", err
	}
	return a.mirror.Save(ctx, attachmentID, "email/"+src.ID, contentType, data)
}

func attachmentURL(messageID, attachmentID string) string {
	return "gmail://" + messageID + "/" + url.PathEscape(attachmentID)
}

func parseAttachmentURL(raw string) (string, string, bool) {
	rest, ok := strings.CutPrefix(raw, "gmail://")
	if !ok {
		return "", "", false
	}
	messageID, escaped, ok := strings.Cut(rest, "/")
	if !ok {
		return "", "", false
	}
	attachmentID, err := url.PathUnescape(escaped)
	if err != nil {
		return "", "", false
	}
	return messageID, attachmentID, true
}

func replySubject(src *syncdomain.Source) string {
	if s := src.Credential("reply_subject"); s != "" {
		return s
	}
	return "Re: your message"
}

// MediaKind buckets a MIME type into image, audio, video or file
func MediaKind(mimeType string) string {
	switch {
	case mimeType == "":
		return ""
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	}
	return "file"
}
