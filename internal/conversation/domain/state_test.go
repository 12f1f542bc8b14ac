package domain

import "testing"

func TestApplyInbound(t *testing.T) {
	tests := []struct {
		name     string
		exists   bool
		current  Status
		policy   ArchivedPolicy
		want     Status
		classify bool
	}{
		{"create", false, "", ArchivedKeep, StatusOpen, true},
		{"open stays open", true, StatusOpen, ArchivedKeep, StatusOpen, false},
		{"resolved reopens", true, StatusResolved, ArchivedKeep, StatusOpen, true},
		{"archived kept", true, StatusArchived, ArchivedKeep, StatusArchived, false},
		{"archived reopen policy", true, StatusArchived, ArchivedReopen, StatusOpen, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := ApplyInbound(tt.exists, tt.current, tt.policy)
			if tr.To != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, tr.To)
			}
			if tr.Classify() != tt.classify {
				t.Fatalf("expected classify=%v, got %v", tt.classify, tr.Classify())
			}
		})
	}
}

func TestParseArchivedPolicy(t *testing.T) {
	if ParseArchivedPolicy("reopen") != ArchivedReopen || ParseArchivedPolicy("whatever") != ArchivedKeep {
		t.Fatalf("unexpected policy parsing")
	}
}
