package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

// decodeJSON extracts the first JSON object in raw into out. Markdown code
// fences and surrounding prose are tolerated.
func decodeJSON(raw string, out any) error {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return malformed("no JSON object in response", nil)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return malformed("invalid JSON in response", err)
	}
	return nil
}

func parseVerdict(value string) (models.Verdict, error) {
	v, err := models.ParseVerdict(value)
	if err != nil {
		return "", malformed(err.Error(), nil)
	}
	return v, nil
}

func malformed(detail string, err error) error {
	return models.NewAgentError(models.AgentMalformedOutput, detail, err)
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return malformed(fmt.Sprintf("response is missing %q", name), nil)
	}
	return nil
}
