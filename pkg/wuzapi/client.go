package wuzapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"commhub-backend/pkg/errs"

	"github.com/go-resty/resty/v2"
)

// Client talks to one WuzAPI instance
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Token", token).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
	}
}

// SendText sends a text message and returns the provider message id
func (c *Client) SendText(ctx context.Context, phone, body string) (string, error) {
	var result sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendTextRequest{Phone: DigitsOnly(phone), Body: body}).
		SetResult(&result).
		SetError(&result).
		Post("/chat/send/text")
	if err != nil {
		return "", errs.Transient(err)
	}
	if classified := errs.FromStatus(resp.StatusCode(), result.Error); classified != nil {
		return "", classified
	}
	if !result.Success {
		return "", fmt.Errorf("wuzapi send failed: %s", result.Error)
	}
	return result.Data.ID, nil
}

// ParseEvent decodes a webhook body
func ParseEvent(body []byte) (*EventPayload, error) {
	var payload EventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid wuzapi payload: %w", err)
	}
	return &payload, nil
}

// VerifySignature checks the hex HMAC-SHA256 of the body against the X-Wuzapi-Signature header.
// An empty secret disables verification.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}

// Sign computes the signature VerifySignature expects
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NormalizePhone turns a WhatsApp JID ("5511999999999@s.whatsapp.net") into +E.164
func NormalizePhone(jid string) string {
	if i := strings.IndexAny(jid, "@:"); i >= 0 {
		jid = jid[:i]
	}
	digits := DigitsOnly(jid)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// DigitsOnly strips everything but digits
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
