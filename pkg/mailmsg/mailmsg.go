// Package mailmsg parses and composes RFC 5322 messages for the mailbox providers.
package mailmsg

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Parsed is the subset of a message the ingestion pipeline reads
type Parsed struct {
	MessageID   string
	From        string
	FromName    string
	Subject     string
	Date        time.Time
	Text        string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Parse reads a full message. HTML-only bodies are flattened to text.
func Parse(r io.Reader) (*Parsed, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("unable to read message: %w", err)
	}
	defer mr.Close()

	p := &Parsed{}
	p.MessageID, _ = mr.Header.MessageID()
	p.Subject, _ = mr.Header.Subject()
	p.Date, _ = mr.Header.Date()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		p.From = strings.ToLower(from[0].Address)
		p.FromName = from[0].Name
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("unable to read message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, err
			}
			switch ct {
			case "text/plain":
				if plain == "" {
					plain = string(body)
				}
			case "text/html":
				if html == "" {
					html = string(body)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, err
			}
			p.Attachments = append(p.Attachments, Attachment{Filename: filename, ContentType: ct, Data: data})
		}
	}

	if plain != "" {
		p.Text = strings.TrimSpace(plain)
	} else {
		p.Text = PlainText(html, true)
	}
	return p, nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// PlainText strips tags and basic entities from HTML and collapses whitespace
func PlainText(body string, isHTML bool) string {
	if isHTML {
		body = tagPattern.ReplaceAllString(body, " ")
		body = strings.ReplaceAll(body, "&nbsp;", " ")
		body = strings.ReplaceAll(body, "&lt;", "<")
		body = strings.ReplaceAll(body, "&gt;", ">")
		body = strings.ReplaceAll(body, "&amp;", "&")
		body = strings.ReplaceAll(body, "&quot;", "\"")
	}
	return strings.Join(strings.Fields(body), " ")
}

// Outgoing is a plain-text reply
type Outgoing struct {
	From    string
	To      string
	Subject string
	Text    string
}

// Compose renders msg and returns the raw bytes with the generated Message-ID
func Compose(msg Outgoing) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: msg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("unable to generate message id: %w", err)
	}
	id, _ := h.MessageID()

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.WriteString(w, msg.Text); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), id, nil
}
