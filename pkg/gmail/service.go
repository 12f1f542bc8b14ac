package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/mailmsg"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrHistoryExpired is returned when the start history id is older than Gmail keeps
var ErrHistoryExpired = errors.New("gmail history id expired")

// TokenUpdateFunc is called when the oauth2 source refreshes an access token
type TokenUpdateFunc func(*oauth2.Token) error

type Service struct {
	clientID     string
	clientSecret string
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, errs.Auth(err)
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Warn().Err(err).Msg("Failed to persist refreshed gmail token")
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Mailbox opens the authenticated mailbox of one source
func (s *Service) Mailbox(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*Mailbox, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	// Only force refresh if we have a refresh token
	if refreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(context.Background(), token),
		current:  token,
		callback: onTokenRefresh,
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(context.Background(), wrappedSource)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return NewMailbox(srv), nil
}

// Mailbox wraps the Gmail API for the authenticated user
type Mailbox struct {
	srv *gmail.Service
}

func NewMailbox(srv *gmail.Service) *Mailbox {
	return &Mailbox{srv: srv}
}

const user = "me"

// Message is a fetched Gmail message flattened for ingestion
type Message struct {
	ID          string
	ThreadID    string
	MessageID   string
	From        string
	FromName    string
	Subject     string
	Body        string
	IsHTML      bool
	ReceivedAt  time.Time
	HistoryID   uint64
	Attachments []Attachment
}

type Attachment struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
}

// Text returns the body as plain text
func (m *Message) Text() string {
	return mailmsg.PlainText(m.Body, m.IsHTML)
}

// HistoryEntry is one messageAdded record
type HistoryEntry struct {
	HistoryID uint64
	MessageID string
}

// Profile returns the mailbox address and its current history id
func (m *Mailbox) Profile(ctx context.Context) (string, uint64, error) {
	profile, err := m.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", 0, classify("unable to get profile", err)
	}
	return profile.EmailAddress, profile.HistoryId, nil
}

// History lists INBOX messageAdded records after startHistoryID in ascending order, stopping after limit entries.
// latest is the mailbox history id once every page was read, and 0 when the listing was cut short.
func (m *Mailbox) History(ctx context.Context, startHistoryID uint64, limit int) (entries []HistoryEntry, latest uint64, err error) {
	entries = make([]HistoryEntry, 0)
	pageToken := ""
	for {
		call := m.srv.Users.History.List(user).
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			LabelId("INBOX").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
				return nil, 0, ErrHistoryExpired
			}
			return nil, 0, classify("unable to list history", err)
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || hasLabel(added.Message.LabelIds, "SENT") {
					continue
				}
				entries = append(entries, HistoryEntry{HistoryID: h.Id, MessageID: added.Message.Id})
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			latest = resp.HistoryId
			break
		}
		if limit > 0 && len(entries) >= limit {
			break
		}
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:recordBoundary(entries, limit)]
		latest = 0
	}
	return entries, latest, nil
}

// recordBoundary returns the largest cut at or below limit that keeps every history record whole.
// A single record larger than limit is kept whole.
func recordBoundary(entries []HistoryEntry, limit int) int {
	cut := limit
	for cut > 0 && entries[cut-1].HistoryID == entries[cut].HistoryID {
		cut--
	}
	if cut > 0 {
		return cut
	}
	for cut = 1; cut < len(entries) && entries[cut].HistoryID == entries[0].HistoryID; cut++ {
	}
	return cut
}

// Recent lists the newest INBOX message ids, newest first
func (m *Mailbox) Recent(ctx context.Context, limit int) ([]string, error) {
	requestLimit := int64(limit)
	if requestLimit <= 0 {
		requestLimit = 20
	}
	if requestLimit > 500 {
		requestLimit = 500 // Gmail API maximum
	}

	resp, err := m.srv.Users.Messages.List(user).LabelIds("INBOX").MaxResults(requestLimit).Context(ctx).Do()
	if err != nil {
		return nil, classify("unable to list messages", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}
	return ids, nil
}

// GetMessage fetches a full message
func (m *Mailbox) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := m.srv.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify("unable to retrieve message", err)
	}
	return convertMessage(msg), nil
}

// GetAttachment downloads attachment data
func (m *Mailbox) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	part, err := m.srv.Users.Messages.Attachments.Get(user, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, classify("unable to retrieve attachment", err)
	}
	data, err := base64.URLEncoding.DecodeString(part.Data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode attachment data: %w", err)
	}
	return data, nil
}

// Watch (re)starts push notifications for the INBOX and returns the expiry and history id
func (m *Mailbox) Watch(ctx context.Context, topicName string) (time.Time, uint64, error) {
	// Only one push client is allowed per user, so clear any previous watch first
	_ = m.srv.Users.Stop(user).Context(ctx).Do()

	resp, err := m.srv.Users.Watch(user, &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return time.Time{}, 0, classify("unable to watch mailbox", err)
	}
	return time.UnixMilli(resp.Expiration).UTC(), resp.HistoryId, nil
}

// Stop stops push notifications for the mailbox
func (m *Mailbox) Stop(ctx context.Context) error {
	if err := m.srv.Users.Stop(user).Context(ctx).Do(); err != nil {
		return classify("unable to stop mailbox watch", err)
	}
	return nil
}

// Send sends a plain-text message and returns the Gmail message id
func (m *Mailbox) Send(ctx context.Context, msg mailmsg.Outgoing) (string, error) {
	raw, _, err := mailmsg.Compose(msg)
	if err != nil {
		return "", err
	}
	sent, err := m.srv.Users.Messages.Send(user, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", classify("unable to send message", err)
	}
	return sent.Id, nil
}

func classify(op string, err error) error {
	return errs.Classify(fmt.Errorf("%s: %w", op, err))
}

func convertMessage(msg *gmail.Message) *Message {
	from := getHeader(msg.Payload.Headers, "From")
	fromName, fromAddress := splitAddress(from)
	body, isHTML := getEmailBody(msg.Payload)

	return &Message{
		ID:          msg.Id,
		ThreadID:    msg.ThreadId,
		MessageID:   strings.Trim(getHeader(msg.Payload.Headers, "Message-ID"), "<> "),
		From:        fromAddress,
		FromName:    fromName,
		Subject:     getHeader(msg.Payload.Headers, "Subject"),
		Body:        body,
		IsHTML:      isHTML,
		ReceivedAt:  time.UnixMilli(msg.InternalDate).UTC(),
		HistoryID:   msg.HistoryId,
		Attachments: getAttachments(msg.Payload),
	}
}

// splitAddress extracts name and address from "Name <email@example.com>"
func splitAddress(from string) (string, string) {
	if idx := strings.Index(from, "<"); idx >= 0 {
		name := strings.Trim(strings.TrimSpace(from[:idx]), `"`)
		addr := strings.TrimSuffix(from[idx+1:], ">")
		return name, strings.ToLower(strings.TrimSpace(addr))
	}
	return "", strings.ToLower(strings.TrimSpace(from))
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func getEmailBody(payload *gmail.MessagePart) (string, bool) {
	// If the payload itself is the body
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody string
	var plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" {
				data, err := base64.URLEncoding.DecodeString(part.Body.Data)
				if err == nil {
					switch part.MimeType {
					case "text/html":
						htmlBody = string(data)
					case "text/plain":
						plainBody = string(data)
					}
				}
			}
			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}

	findBody(payload.Parts)

	if plainBody != "" {
		return plainBody, false
	}
	return htmlBody, htmlBody != ""
}

func getAttachments(payload *gmail.MessagePart) []Attachment {
	var attachments []Attachment

	var findAttachments func(parts []*gmail.MessagePart)
	findAttachments = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				attachments = append(attachments, Attachment{
					ID:       part.Body.AttachmentId,
					Name:     part.Filename,
					Size:     part.Body.Size,
					MimeType: part.MimeType,
				})
			}
			if len(part.Parts) > 0 {
				findAttachments(part.Parts)
			}
		}
	}

	findAttachments(payload.Parts)
	return attachments
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}
