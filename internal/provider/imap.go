package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/imap"

	"github.com/rs/zerolog/log"
)

// ImapAdapter polls a mailbox by UID. It has no push path.
type ImapAdapter struct {
	batchSize int
	timeout   time.Duration
}

func NewImapAdapter(batchSize int, timeout time.Duration) *ImapAdapter {
	return &ImapAdapter{batchSize: batchSize, timeout: timeout}
}

func (a *ImapAdapter) Provider() string                  { return "imap" }
func (a *ImapAdapter) Channel() syncdomain.Channel       { return syncdomain.ChannelEmail }
func (a *ImapAdapter) CursorKind() syncdomain.CursorKind { return syncdomain.CursorMailboxUID }

func (a *ImapAdapter) client(src *syncdomain.Source) *imap.Client {
	insecure, _ := strconv.ParseBool(src.Credential("insecure"))
	username := src.Credential("username")
	if username == "" {
		username = src.Identity
	}
	return imap.NewClient(imap.Config{
		Addr:     src.Credential("addr"),
		Username: username,
		Password: src.Credential("password"),
		Mailbox:  src.Credential("mailbox"),
		Insecure: insecure,
		SMTPAddr: src.Credential("smtp_addr"),
		From:     src.Identity,
	}, a.timeout)
}

func (a *ImapAdapter) FetchNew(ctx context.Context, src *syncdomain.Source, cursor int64) (Batch, error) {
	if cursor < 0 || cursor > int64(^uint32(0)) {
		return Batch{}, fmt.Errorf("imap cursor %d out of range", cursor)
	}

	fetched, last, err := a.client(src).FetchSince(ctx, uint32(cursor), a.batchSize)
	if err != nil && !errors.Is(err, errs.ErrMapping) {
		return Batch{}, err
	}
	if err != nil {
		log.Warn().Err(err).Str("source_id", src.ID).Uint32("last_uid", last).Msg("Skipped unreadable IMAP messages")
	}

	// unreadable messages never become readable, so the cursor moves past them
	batch := Batch{Records: make([]ingestdomain.Record, 0, len(fetched)), Cursor: int64(last)}
	for _, f := range fetched {
		msg := f.Message
		sentAt := msg.Date
		if sentAt.IsZero() {
			sentAt = f.InternalDate
		}

		inbound := &ingestdomain.InboundMessage{
			Channel:     syncdomain.ChannelEmail,
			ExternalID:  msg.MessageID,
			LegacyID:    fmt.Sprintf("imap:%s:%d", src.ID, f.UID),
			From:        msg.From,
			ContactName: msg.FromName,
			Subject:     msg.Subject,
			Text:        msg.Text,
			SentAt:      sentAt,
		}
		if len(msg.Attachments) > 0 {
			att := msg.Attachments[0]
			inbound.MediaData = att.Data
			inbound.MediaName = att.Filename
			inbound.MediaMimeType = att.ContentType
			inbound.MediaKind = MediaKind(att.ContentType)
		}

		if strings.EqualFold(msg.From, src.Identity) {
			// own replies stored in the mailbox still move the cursor
			inbound = nil
		}

		rec := ingestdomain.Record{
			Kind:     ingestdomain.RecordMessage,
			SourceID: src.ID,
			Provider: a.Provider(),
			Position: int64(f.UID),
			Message:  inbound,
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

func (a *ImapAdapter) ParsePush(ctx context.Context, src *syncdomain.Source, push ingestdomain.Push) ([]ingestdomain.Record, error) {
	return nil, errs.ErrNotSupported
}

func (a *ImapAdapter) Send(ctx context.Context, src *syncdomain.Source, destination, text string) SendResult {
	id, err := a.client(src).Send(ctx, destination, replySubject(src), text)
	if err != nil {
		return SendResult{Err: err}
	}
	return SendResult{ExternalID: id}
}
