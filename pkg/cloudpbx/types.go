package cloudpbx

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CDR is one call detail record, as returned by the call-records API and pushed to the CDR webhook
type CDR struct {
	CallID       string    `json:"call_id"`
	Direction    string    `json:"direction"`
	Caller       string    `json:"caller"`
	Receiver     string    `json:"receiver"`
	AgentNumber  string    `json:"agent"`
	Status       string    `json:"status"`
	Duration     FlexInt   `json:"duration"`
	StartTime    Timestamp `json:"start_time"`
	EndTime      Timestamp `json:"end_time"`
	RecordingURL string    `json:"recording_url"`
}

type listResponse struct {
	Data    []CDR  `json:"data"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	Message string `json:"message"`
}

// Callback is a mid-call leg status delivered as query parameters
type Callback struct {
	CallID      string
	Direction   string
	Caller      string
	Receiver    string
	AgentNumber string
	Status      string
	EventTime   Timestamp
}

// Timestamp accepts RFC3339, "2006-01-02 15:04:05" (UTC) or unix seconds
type Timestamp struct {
	time.Time
}

var layouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return Timestamp{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Timestamp{time.Unix(secs, 0).UTC()}, nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" {
		return nil
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Ptr returns nil for the zero time
func (t Timestamp) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// FlexInt decodes numbers that some PBX firmwares send as strings
type FlexInt struct {
	Value int
	Set   bool
}

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid integer %q", raw)
	}
	f.Value, f.Set = v, true
	return nil
}

// Ptr returns nil when the field was absent
func (f FlexInt) Ptr() *int {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}
