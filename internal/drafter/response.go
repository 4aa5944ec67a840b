package drafter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// draftPayload is the JSON shape the model is instructed to return
type draftPayload struct {
	Reply string `json:"reply"`
	Tone  string `json:"tone"`
}

// parseDraftResponse extracts the structured draft from raw model output.
// Models wrap JSON in markdown fences or emit slightly broken JSON often
// enough that we strip fences first and run jsonrepair before giving up.
func parseDraftResponse(raw string) (Draft, error) {
	cleaned := stripCodeFences(raw)

	var payload draftPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return Draft{}, fmt.Errorf("response is not valid JSON and repair failed: %w", repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return Draft{}, fmt.Errorf("repaired response still not valid JSON: %w", err)
		}
	}

	payload.Reply = strings.TrimSpace(payload.Reply)
	if payload.Reply == "" {
		return Draft{}, fmt.Errorf("response contains no reply text")
	}
	if payload.Tone == "" {
		payload.Tone = "neutral"
	}

	return Draft{Body: payload.Reply, Tone: payload.Tone}, nil
}

// stripCodeFences removes a surrounding ```json ... ``` block if present
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
