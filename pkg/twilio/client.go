package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"commhub-backend/pkg/errs"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client sends WhatsApp messages through the Twilio Messages API
type Client struct {
	http       *resty.Client
	accountSID string
	from       string
}

func NewClient(baseURL, accountSID, authToken, from string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetBasicAuth(accountSID, authToken).
			SetTimeout(timeout),
		accountSID: accountSID,
		from:       from,
	}
}

type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SendWhatsApp sends body to an E.164 number and returns the message SID
func (c *Client) SendWhatsApp(ctx context.Context, to, body string) (string, error) {
	var result messageResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"From": WhatsAppAddress(c.from),
			"To":   WhatsAppAddress(to),
			"Body": body,
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/Accounts/%s/Messages.json", c.accountSID))
	if err != nil {
		return "", errs.Transient(err)
	}
	if classified := errs.FromStatus(resp.StatusCode(), result.Message); classified != nil {
		return "", classified
	}
	if result.Status == "failed" || result.Status == "undelivered" {
		return "", fmt.Errorf("twilio rejected message %s: %s", result.SID, result.Status)
	}
	return result.SID, nil
}

// InboundMessage is the form body of an incoming WhatsApp message webhook
type InboundMessage struct {
	MessageSID  string
	SmsSID      string
	From        string
	ProfileName string
	Body        string
	NumMedia    int
	MediaURL    string
	MediaType   string
}

// ParseInbound reads the webhook form fields
func ParseInbound(form url.Values) (*InboundMessage, error) {
	msg := &InboundMessage{
		MessageSID:  form.Get("MessageSid"),
		SmsSID:      form.Get("SmsSid"),
		From:        form.Get("From"),
		ProfileName: form.Get("ProfileName"),
		Body:        form.Get("Body"),
		MediaURL:    form.Get("MediaUrl0"),
		MediaType:   form.Get("MediaContentType0"),
	}
	if n := form.Get("NumMedia"); n != "" {
		count, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("invalid NumMedia %q", n)
		}
		msg.NumMedia = count
	}
	if msg.From == "" {
		return nil, fmt.Errorf("twilio webhook without From")
	}
	return msg, nil
}

// ValidateSignature checks X-Twilio-Signature: base64(HMAC-SHA1(url + sorted key/value pairs)).
// An empty auth token disables validation.
func ValidateSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if authToken == "" {
		return true
	}
	if signature == "" {
		return false
	}
	expected := ComputeSignature(authToken, fullURL, form)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func ComputeSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// WhatsAppAddress prefixes a number with the whatsapp: scheme
func WhatsAppAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

// StripScheme turns "whatsapp:+1555" into "+1555"
func StripScheme(addr string) string {
	return strings.TrimPrefix(addr, "whatsapp:")
}
