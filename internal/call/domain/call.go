package domain

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallLog is the canonical record of one call, upserted by CallID
type CallLog struct {
	CallID          string     `json:"call_id" gorm:"primaryKey"`
	Provider        string     `json:"provider" gorm:"index"`
	SourceID        string     `json:"source_id" gorm:"index"`
	Direction       Direction  `json:"direction" gorm:"type:varchar(16);index:idx_call_party"`
	Caller          string     `json:"caller" gorm:"index:idx_call_party"`
	Receiver        string     `json:"receiver" gorm:"index:idx_call_party"`
	Status          Status     `json:"status" gorm:"type:varchar(16);not null;index"`
	ProviderStatus  string     `json:"provider_status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	RecordingRef    *string    `json:"recording_ref,omitempty"`
	AgentNumber     string     `json:"agent_number,omitempty"`
	// LastEventAt is the provider-side observation time of the last applied update
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (CallLog) TableName() string {
	return "call_logs"
}

// CallUpdate is one observation of a call from bulk sync, a CDR push or a leg callback.
// Zero-valued optional fields mean "not reported" and never overwrite stored values.
type CallUpdate struct {
	CallID          string
	Provider        string
	SourceID        string
	Direction       Direction
	Caller          string
	Receiver        string
	AgentNumber     string
	ProviderStatus  string
	Status          Status
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	RecordingURL    string
	RecordingRef    *string
	// EventAt is the provider-side time of the observation. Zero means the provider sent none;
	// such observations sort before any timestamped one.
	EventAt time.Time
}

// Phone returns the customer-side number for the update's direction
func (u CallUpdate) Phone() string {
	if u.Direction == DirectionOutbound {
		return u.Receiver
	}
	return u.Caller
}

// ObservedAt picks the best available provider timestamp for ordering, or the zero time
func ObservedAt(endedAt, startedAt *time.Time) time.Time {
	if endedAt != nil && !endedAt.IsZero() {
		return endedAt.UTC()
	}
	if startedAt != nil && !startedAt.IsZero() {
		return startedAt.UTC()
	}
	return time.Time{}
}
