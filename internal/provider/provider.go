// Package provider adapts each external channel provider to the canonical record model.
package provider

import (
	"context"
	"time"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	syncdomain "commhub-backend/internal/sync/domain"
)

// Batch is the result of one pull from a source
type Batch struct {
	// Records are ordered by ascending Position
	Records []ingestdomain.Record
	// Cursor is where the source stands once every record is processed.
	// Zero means the positions of the records are the only cursor information.
	Cursor int64
}

// SendResult is the outcome of an outbound message
type SendResult struct {
	ExternalID string
	Err        error
}

// Subscription is a provider push registration with an expiry
type Subscription struct {
	ExpiresAt time.Time
	HistoryID int64
}

// Adapter is implemented once per provider
type Adapter interface {
	Provider() string
	Channel() syncdomain.Channel
	CursorKind() syncdomain.CursorKind
	// FetchNew returns records strictly after cursor. Push-only providers return errs.ErrNotSupported.
	FetchNew(ctx context.Context, src *syncdomain.Source, cursor int64) (Batch, error)
	// ParsePush turns a stored webhook delivery into records; an empty result means nothing to ingest
	ParsePush(ctx context.Context, src *syncdomain.Source, push ingestdomain.Push) ([]ingestdomain.Record, error)
	Send(ctx context.Context, src *syncdomain.Source, destination, text string) SendResult
}

// Renewer is implemented by providers whose push registration expires
type Renewer interface {
	Renew(ctx context.Context, src *syncdomain.Source) (*Subscription, error)
}

// PushAuthenticator is implemented by providers that receive webhooks
type PushAuthenticator interface {
	// Identify returns the source identity named in the delivery, or "" when the payload carries none
	Identify(push ingestdomain.Push) string
	// VerifyPush checks the delivery signature with the source's credentials
	VerifyPush(src *syncdomain.Source, push ingestdomain.Push) error
}

// MediaMirrorer is implemented by providers whose media URLs need provider credentials to download
type MediaMirrorer interface {
	MirrorMedia(ctx context.Context, src *syncdomain.Source, mediaURL, contentType string) (string, error)
}
