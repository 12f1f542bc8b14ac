package ai

import (
	"context"

	"commhub-backend/pkg/fuzzy"
)

// Classification is the result of routing one conversation opener
type Classification struct {
	Summary string `json:"summary"`
	Team    string `json:"team"`
}

// Classifier summarizes a message and picks the owning team.
// Implement this interface to add new AI providers.
type Classifier interface {
	Classify(ctx context.Context, text string, teams []string) (*Classification, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
	ProviderNone   ProviderType = "none"
)

// maxTeamDistance tolerates small misspellings in model output
const maxTeamDistance = 2

// NormalizeTeam maps a returned team onto the configured list. Case, punctuation and
// small misspellings are tolerated; anything else becomes defaultTeam.
func NormalizeTeam(team string, teams []string, defaultTeam string) string {
	if t, ok := fuzzy.Closest(team, teams, maxTeamDistance); ok {
		return t
	}
	return defaultTeam
}
