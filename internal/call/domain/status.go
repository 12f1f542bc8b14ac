package domain

import (
	"strings"
)

// Status is the canonical call status vocabulary
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRinging   Status = "ringing"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusHangup    Status = "hangup"
)

// IsTerminal reports whether no further progress is expected for the call
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusMissed, StatusHangup:
		return true
	}
	return false
}

// Valid reports whether s belongs to the canonical vocabulary
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusRinging, StatusActive, StatusCompleted, StatusMissed, StatusHangup:
		return true
	}
	return false
}

// Rank orders statuses by progress. It breaks ties between observations whose provider
// timestamps cannot be compared; a completed call outranks a cancelled or missed one.
func (s Status) Rank() int {
	switch s {
	case StatusRinging:
		return 1
	case StatusActive:
		return 2
	case StatusMissed, StatusHangup:
		return 3
	case StatusCompleted:
		return 4
	}
	return 0
}

// StatusesAtOrBelow lists the statuses s may replace on a tie
func StatusesAtOrBelow(s Status) []string {
	var out []string
	for _, candidate := range []Status{StatusWaiting, StatusRinging, StatusActive, StatusMissed, StatusHangup, StatusCompleted} {
		if candidate.Rank() <= s.Rank() {
			out = append(out, string(candidate))
		}
	}
	return out
}

// TerminalStatuses lists the terminal statuses for use in queries
func TerminalStatuses() []string {
	return []string{string(StatusCompleted), string(StatusMissed), string(StatusHangup)}
}

// DefaultStatusTable is the dial-status vocabulary used by the PBX provider
var DefaultStatusTable = map[string]Status{
	"ANSWER":      StatusCompleted,
	"ANSWERED":    StatusCompleted,
	"COMPLETED":   StatusCompleted,
	"NOANSWER":    StatusMissed,
	"NO ANSWER":   StatusMissed,
	"MISSED":      StatusMissed,
	"BUSY":        StatusHangup,
	"CANCEL":      StatusHangup,
	"HANGUP":      StatusHangup,
	"FAILED":      StatusMissed,
	"CONGESTION":  StatusMissed,
	"CHANUNAVAIL": StatusMissed,
	"RINGING":     StatusRinging,
	"INPROGRESS":  StatusActive,
	"IN-PROGRESS": StatusActive,
	"CONNECTED":   StatusActive,
	"QUEUED":      StatusWaiting,
	"WAITING":     StatusWaiting,
}

// StatusMapper translates provider status strings to canonical ones
type StatusMapper struct {
	table map[string]Status
}

// NewStatusMapper builds a mapper from the default table plus per-source overrides.
// Overrides whose target is not a canonical status are ignored.
func NewStatusMapper(overrides map[string]string) *StatusMapper {
	table := make(map[string]Status, len(DefaultStatusTable)+len(overrides))
	for k, v := range DefaultStatusTable {
		table[k] = v
	}
	for k, v := range overrides {
		if s := Status(strings.ToLower(v)); s.Valid() {
			table[normalize(k)] = s
		}
	}
	return &StatusMapper{table: table}
}

// Map returns the canonical status and whether the provider value was recognized.
// Unrecognized values map to StatusWaiting.
func (m *StatusMapper) Map(providerStatus string) (Status, bool) {
	if s, ok := m.table[normalize(providerStatus)]; ok {
		return s, true
	}
	return StatusWaiting, false
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
}
