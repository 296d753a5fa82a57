package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseOutline parses the adventure outline produced once at game creation.
//
// Outline generation is the one place where a truncated payload is repaired
// instead of rejected: the generation happens before any narration exists, so
// there is no turn to retry against. Repair is attempted in order of
// invasiveness: plain decode, then BalanceJSON, then a full jsonrepair pass.
func ParseOutline(raw string) (*AdventureOutline, error) {
	payload := outlinePayload(raw)
	if payload == "" {
		return nil, errors.New("game: outline response contains no JSON payload")
	}

	outline, err := decodeOutline(payload)
	if err == nil {
		return outline, nil
	}

	if outline, berr := decodeOutline(BalanceJSON(payload)); berr == nil {
		return outline, nil
	}

	repaired, rerr := jsonrepair.JSONRepair(payload)
	if rerr == nil {
		if outline, derr := decodeOutline(repaired); derr == nil {
			return outline, nil
		}
	}
	return nil, fmt.Errorf("game: outline payload does not parse after repair: %w", err)
}

// outlinePayload extracts the JSON half of an outline response. Unlike
// SplitResponse it tolerates a missing closing brace, since the whole point
// of the repair path is a payload cut off mid-object.
func outlinePayload(raw string) string {
	if idx := strings.Index(raw, Marker); idx >= 0 {
		return strings.TrimSpace(raw[idx+len(Marker):])
	}
	if start := strings.Index(raw, "{"); start >= 0 {
		return strings.TrimSpace(raw[start:])
	}
	return ""
}

func decodeOutline(payload string) (*AdventureOutline, error) {
	var o AdventureOutline
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return nil, err
	}
	if o.Title == "" {
		return nil, errors.New("outline is missing title")
	}
	if o.MainQuest == "" {
		return nil, errors.New("outline is missing mainQuest")
	}
	return &o, nil
}
