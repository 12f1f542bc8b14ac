package domain

import (
	"net/url"
	"time"

	calldomain "commhub-backend/internal/call/domain"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/textutil"
)

// RecordKind tags the variant carried by a Record
type RecordKind string

const (
	RecordMessage     RecordKind = "message"
	RecordCall        RecordKind = "call"
	RecordCallback    RecordKind = "callback"
	RecordSyncTrigger RecordKind = "sync_trigger"
)

// Record is the canonical output of a provider adapter.
// Exactly one of the payload fields is set, matching Kind.
type Record struct {
	Kind     RecordKind
	SourceID string
	Provider string
	// Position is the cursor value this record sits at for pull-based sources
	Position int64

	Message  *InboundMessage
	Call     *calldomain.CallUpdate
	Callback *CallbackUpdate
	Trigger  *SyncTrigger
}

// InboundMessage is a provider-neutral inbound chat or email message
type InboundMessage struct {
	Channel syncdomain.Channel
	// ExternalID is the provider's explicit message identifier, preferred as dedup key
	ExternalID string
	// LegacyID is an alternate identifier accepted when ExternalID is absent
	LegacyID    string
	From        string
	ContactName string
	Subject     string
	Text        string
	// MediaURL is a provider-hosted attachment still to be stored
	MediaURL string
	// MediaData holds attachment bytes the provider delivered inline
	MediaData     []byte
	MediaName     string
	MediaMimeType string
	MediaKind     string
	SentAt        time.Time
}

// DedupKey returns the key the message is recognized by, and the alternate key kept for lookups
func (m *InboundMessage) DedupKey() (primary, alt string) {
	if m.ExternalID != "" {
		return m.ExternalID, m.LegacyID
	}
	return m.LegacyID, ""
}

// ClassificationText is the text fed to the classifier for a create or reopen event
func (m *InboundMessage) ClassificationText() string {
	text := m.Text
	if m.Subject != "" {
		text = "Subject: " + m.Subject + "\n\n" + text
	}
	if m.MediaKind != "" {
		if text != "" {
			text += "\n"
		}
		text += "[" + m.MediaKind + " attachment]"
	}
	return textutil.Truncate(text, 5000)
}

// CallbackUpdate is a mid-call leg status. CallID may be empty.
type CallbackUpdate struct {
	calldomain.CallUpdate
}

// SyncTrigger asks for an immediate sync of a pull-based source, e.g. after a mailbox push
type SyncTrigger struct {
	SourceIdentity string
	// Token is the provider's new position announced by the push
	Token int64
}

// Push is a raw webhook delivery handed to an adapter
type Push struct {
	// Route distinguishes webhooks of one provider, e.g. "cdr" and "callback"
	Route       string
	Body        []byte
	ContentType string
	Query       url.Values
	Header      map[string]string
	// URL is the full public URL the provider called, for signature checks
	URL string
}
