package cloudpbx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"commhub-backend/pkg/errs"

	"github.com/go-resty/resty/v2"
)

// Client reads call detail records from the PBX REST API
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetAuthToken(apiKey).
			SetHeader("Accept", "application/json").
			SetTimeout(timeout),
	}
}

// ListCallRecords returns one page of records started within [from, to]. Pages start at 1.
func (c *Client) ListCallRecords(ctx context.Context, from, to time.Time, page, limit int) ([]CDR, error) {
	var result listResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from":  strconv.FormatInt(from.Unix(), 10),
			"to":    strconv.FormatInt(to.Unix(), 10),
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(limit),
			"sort":  "start_time",
			"order": "asc",
		}).
		SetResult(&result).
		SetError(&result).
		Get("/api/v1/call-records")
	if err != nil {
		return nil, errs.Transient(err)
	}
	if classified := errs.FromStatus(resp.StatusCode(), result.Message); classified != nil {
		return nil, classified
	}
	return result.Data, nil
}

// ParseCDR decodes a pushed CDR
func ParseCDR(body []byte) (*CDR, error) {
	var cdr CDR
	if err := json.Unmarshal(body, &cdr); err != nil {
		return nil, fmt.Errorf("invalid cdr payload: %w", err)
	}
	return &cdr, nil
}

// ParseCallback reads a leg callback from its query parameters
func ParseCallback(q url.Values) (*Callback, error) {
	eventTime, err := ParseTimestamp(q.Get("event_time"))
	if err != nil {
		return nil, err
	}
	cb := &Callback{
		CallID:      q.Get("call_id"),
		Direction:   q.Get("direction"),
		Caller:      q.Get("caller"),
		Receiver:    q.Get("receiver"),
		AgentNumber: q.Get("agent"),
		Status:      q.Get("status"),
		EventTime:   eventTime,
	}
	if cb.Status == "" {
		return nil, fmt.Errorf("callback without status")
	}
	return cb, nil
}

// VerifySignature checks the hex HMAC-SHA256 of payload. An empty secret disables verification.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" {
		return true
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(given) == 0 {
		return false
	}
	return hmac.Equal(given, sign(secret, payload))
}

// Sign returns the hex signature VerifySignature expects
func Sign(secret string, payload []byte) string {
	return hex.EncodeToString(sign(secret, payload))
}

// CanonicalQuery is the signed form of a callback: the query without its sig parameter, sorted by key
func CanonicalQuery(q url.Values) []byte {
	clean := url.Values{}
	for k, v := range q {
		if k != "sig" {
			clean[k] = v
		}
	}
	return []byte(clean.Encode())
}

func sign(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
