// Package imap polls a mailbox by UID and replies over SMTP.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"sort"
	"time"

	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/mailmsg"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Config holds the IMAP and SMTP endpoints of one mailbox
type Config struct {
	Addr     string // host:port
	Username string
	Password string
	Mailbox  string
	// Insecure dials without TLS, for local servers and tests
	Insecure bool

	SMTPAddr string
	From     string
}

// Fetched is one message above the UID cursor
type Fetched struct {
	UID          uint32
	InternalDate time.Time
	Message      *mailmsg.Parsed
}

type Client struct {
	cfg     Config
	timeout time.Duration
}

func NewClient(cfg Config, timeout time.Duration) *Client {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &Client{cfg: cfg, timeout: timeout}
}

func (c *Client) dial(ctx context.Context) (*client.Client, error) {
	var (
		cl  *client.Client
		err error
	)
	if c.cfg.Insecure {
		cl, err = client.Dial(c.cfg.Addr)
	} else {
		cl, err = client.DialTLS(c.cfg.Addr, nil)
	}
	if err != nil {
		return nil, errs.Transient(fmt.Errorf("imap dial %s: %w", c.cfg.Addr, err))
	}

	cl.Timeout = c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && (cl.Timeout == 0 || remaining < cl.Timeout) {
			cl.Timeout = remaining
		}
	}

	if err := cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = cl.Logout()
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, errs.Transient(err)
		}
		return nil, errs.Auth(fmt.Errorf("imap login: %w", err))
	}
	return cl, nil
}

// FetchSince returns up to limit messages with UID > after, in ascending UID order, and the
// highest UID it requested. Messages that cannot be parsed are left out and reported as a
// mapping error; last still covers them.
func (c *Client) FetchSince(ctx context.Context, after uint32, limit int) (fetched []Fetched, last uint32, err error) {
	cl, err := c.dial(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer cl.Logout()

	if _, err := cl.Select(c.cfg.Mailbox, true); err != nil {
		return nil, 0, errs.Classify(fmt.Errorf("imap select %s: %w", c.cfg.Mailbox, err))
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(after+1, 0)
	uids, err := cl.UidSearch(criteria)
	if err != nil {
		return nil, 0, errs.Classify(fmt.Errorf("imap uid search: %w", err))
	}

	// "n:*" always matches the last message, even when its UID is below n
	wanted := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > after {
			wanted = append(wanted, uid)
		}
	}
	sort.Slice(wanted, func(i, j int) bool { return wanted[i] < wanted[j] })
	if limit > 0 && len(wanted) > limit {
		wanted = wanted[:limit]
	}
	if len(wanted) == 0 {
		return nil, 0, nil
	}
	last = wanted[len(wanted)-1]

	seqset := new(imap.SeqSet)
	seqset.AddNum(wanted...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(wanted))
	done := make(chan error, 1)
	go func() {
		done <- cl.UidFetch(seqset, items, messages)
	}()

	fetched = make([]Fetched, 0, len(wanted))
	var parseErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		parsed, err := mailmsg.Parse(body)
		if err != nil {
			if parseErr == nil {
				parseErr = fmt.Errorf("imap uid %d: %w", msg.Uid, err)
			}
			continue
		}
		fetched = append(fetched, Fetched{UID: msg.Uid, InternalDate: msg.InternalDate, Message: parsed})
	}
	if err := <-done; err != nil {
		return nil, 0, errs.Classify(fmt.Errorf("imap uid fetch: %w", err))
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].UID < fetched[j].UID })
	if parseErr != nil {
		return fetched, last, errs.Mapping(parseErr)
	}
	return fetched, last, nil
}

// Send delivers a plain-text reply through SMTP and returns its Message-ID
func (c *Client) Send(ctx context.Context, to, subject, text string) (string, error) {
	if c.cfg.SMTPAddr == "" {
		return "", errs.ErrNotSupported
	}
	from := c.cfg.From
	if from == "" {
		from = c.cfg.Username
	}
	raw, id, err := mailmsg.Compose(mailmsg.Outgoing{From: from, To: to, Subject: subject, Text: text})
	if err != nil {
		return "", err
	}

	host, _, err := net.SplitHostPort(c.cfg.SMTPAddr)
	if err != nil {
		return "", fmt.Errorf("invalid smtp address %q: %w", c.cfg.SMTPAddr, err)
	}

	result := make(chan error, 1)
	go func() {
		var auth smtp.Auth
		if c.cfg.Username != "" && !c.cfg.Insecure {
			auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, host)
		}
		result <- sendMail(c.cfg.SMTPAddr, host, auth, from, to, raw, c.cfg.Insecure)
	}()

	select {
	case err := <-result:
		if err != nil {
			return "", classifySMTP(err)
		}
		return id, nil
	case <-ctx.Done():
		return "", errs.Transient(ctx.Err())
	}
}

func sendMail(addr, host string, auth smtp.Auth, from, to string, raw []byte, insecure bool) error {
	if insecure {
		return smtp.SendMail(addr, auth, from, []string{to}, raw)
	}
	// Implicit TLS on 465, STARTTLS elsewhere
	if _, port, _ := net.SplitHostPort(addr); port == "465" {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
		if err != nil {
			return err
		}
		cl, err := smtp.NewClient(conn, host)
		if err != nil {
			return err
		}
		defer cl.Close()
		if auth != nil {
			if err := cl.Auth(auth); err != nil {
				return err
			}
		}
		if err := cl.Mail(from); err != nil {
			return err
		}
		if err := cl.Rcpt(to); err != nil {
			return err
		}
		w, err := cl.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		return cl.Quit()
	}
	return smtp.SendMail(addr, auth, from, []string{to}, raw)
}

func classifySMTP(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code == 535 || protoErr.Code == 530:
			return errs.Auth(err)
		case protoErr.Code >= 400 && protoErr.Code < 500:
			return errs.Transient(err)
		}
		return err
	}
	return errs.Classify(err)
}
