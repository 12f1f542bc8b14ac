package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

func buildPrompt(text string, teams []string) string {
	return fmt.Sprintf(`You route customer messages for a support desk.

INSTRUCTIONS:
- Summarize the message in one short sentence, in the language of the message.
- Pick exactly one team from this list: %s
- If no team fits, pick the closest one.
- Reply with JSON only: {"summary": "...", "team": "..."}

MESSAGE:
%s

JSON OUTPUT:`, strings.Join(teams, ", "), text)
}

// parseClassification extracts the JSON object from a model reply, tolerating code fences and chatter
func parseClassification(reply string) (*Classification, error) {
	responseText := strings.TrimSpace(reply)
	if strings.HasPrefix(responseText, "```json") {
		responseText = strings.TrimPrefix(responseText, "```json")
		responseText = strings.TrimSuffix(responseText, "```")
	} else if strings.HasPrefix(responseText, "```") {
		responseText = strings.TrimPrefix(responseText, "```")
		responseText = strings.TrimSuffix(responseText, "```")
	}
	responseText = strings.TrimSpace(responseText)

	jsonStart := strings.Index(responseText, "{")
	jsonEnd := strings.LastIndex(responseText, "}")
	if jsonStart == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no JSON object in model reply")
	}

	var result Classification
	if err := json.Unmarshal([]byte(responseText[jsonStart:jsonEnd+1]), &result); err != nil {
		return nil, fmt.Errorf("failed to parse classification JSON: %w", err)
	}
	result.Summary = strings.TrimSpace(result.Summary)
	if result.Summary == "" && result.Team == "" {
		return nil, fmt.Errorf("empty classification")
	}
	return &result, nil
}
