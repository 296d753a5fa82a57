package game

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseFailureText is the fixed narration surfaced to the player when a turn's
// structured payload cannot be recovered. The raw turn stays in the model
// transcript so the narrator can self-correct on the next command.
const ParseFailureText = "I'm sorry, there was an error processing the game response. Please try your command again."

// ParseErrorKind classifies a structured-response parse failure.
type ParseErrorKind string

const (
	// ParseMissingJSON means no structured payload could be located at all.
	ParseMissingJSON ParseErrorKind = "missingJson"

	// ParseMalformedJSON means a payload was found but is not valid JSON.
	ParseMalformedJSON ParseErrorKind = "malformedJson"

	// ParseInvalidField means a payload field fails its constraint.
	ParseInvalidField ParseErrorKind = "invalidField"

	// ParseInvalidExitDirection means an exit direction is unrecognised or
	// repeated within one scene.
	ParseInvalidExitDirection ParseErrorKind = "invalidExitDirection"

	// ParseUnknownResponseType means responseType is missing or unrecognised.
	ParseUnknownResponseType ParseErrorKind = "unknownResponseType"
)

// ParseError reports why a narrator turn failed validation. Issues lists every
// individual problem found; Kind reflects the first.
type ParseError struct {
	Kind    ParseErrorKind
	Message string
	Issues  []string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("game: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("game: %s: %s (%s)", e.Kind, e.Message, strings.Join(e.Issues, "; "))
}

// ValidationIssue is a non-fatal finding recorded during a turn, such as a
// rejected movement. Issues accumulate on the engine and are consumed through
// PopValidationIssues.
type ValidationIssue struct {
	// Code is a stable machine-readable tag.
	Code string

	// Kind refines parse failures with the [ParseErrorKind]; empty on other
	// issues.
	Kind string

	// Message is the human-readable description.
	Message string
}

// locationIDPattern constrains scene identifiers.
var locationIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// SplitResponse divides a complete narrator turn into its prose prefix and
// structured payload. The marker form takes precedence; when the marker is
// absent the payload is the outermost JSON object found in the text, with
// anything before it treated as narration.
func SplitResponse(raw string) (narration, payload string) {
	if idx := strings.Index(raw, Marker); idx >= 0 {
		return strings.TrimSpace(raw[:idx]), strings.TrimSpace(raw[idx+len(Marker):])
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(raw), ""
	}
	return strings.TrimSpace(raw[:start]), raw[start : end+1]
}

// ParseAndValidate parses a complete narrator turn, re-attaches the prose
// prefix as narrationText, and checks every field constraint. On success
// exactly one of the returned TurnResponse's Scene/Simple is set.
//
// The movement gate is deliberately not applied here: it needs the previous
// scene, which only the engine knows. See CheckMovement.
func ParseAndValidate(raw string) (*TurnResponse, *ParseError) {
	narration, payload := SplitResponse(raw)
	if payload == "" {
		return nil, &ParseError{
			Kind:    ParseMissingJSON,
			Message: "response contains no structured payload",
		}
	}

	var env struct {
		ResponseType ResponseType `json:"responseType"`
	}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, &ParseError{
			Kind:    ParseMalformedJSON,
			Message: fmt.Sprintf("structured payload is not valid JSON: %v", err),
		}
	}

	switch env.ResponseType {
	case ResponseFullScene:
		return parseFullScene(narration, payload)
	case ResponseSimple:
		return parseSimple(narration, payload)
	case "":
		return nil, &ParseError{
			Kind:    ParseUnknownResponseType,
			Message: "structured payload is missing responseType",
		}
	default:
		return nil, &ParseError{
			Kind:    ParseUnknownResponseType,
			Message: fmt.Sprintf("unrecognised responseType %q", env.ResponseType),
		}
	}
}

func parseFullScene(narration, payload string) (*TurnResponse, *ParseError) {
	var scene GameScene
	if err := json.Unmarshal([]byte(payload), &scene); err != nil {
		return nil, &ParseError{
			Kind:    ParseMalformedJSON,
			Message: fmt.Sprintf("scene payload does not decode: %v", err),
		}
	}
	if narration != "" {
		scene.NarrationText = narration
	}

	var issues []string
	kind := ParseErrorKind("")
	record := func(k ParseErrorKind, format string, args ...any) {
		if kind == "" {
			kind = k
		}
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if scene.LocationID == "" {
		record(ParseInvalidField, "locationId is required")
	} else if !locationIDPattern.MatchString(scene.LocationID) {
		record(ParseInvalidField, "locationId %q must match [a-z0-9_]+", scene.LocationID)
	}

	if scene.MusicMood == "" {
		scene.MusicMood = MoodExploration
	} else if !scene.MusicMood.IsValid() {
		record(ParseInvalidField, "musicMood %q is not a recognised mood", scene.MusicMood)
	}

	seen := make(map[Direction]bool, len(scene.Exits))
	for i := range scene.Exits {
		exit := &scene.Exits[i]
		if !exit.Direction.IsValid() {
			record(ParseInvalidExitDirection, "exit %d: direction %q is not recognised", i, exit.Direction)
			continue
		}
		if seen[exit.Direction] {
			record(ParseInvalidExitDirection, "exit %d: direction %q appears more than once", i, exit.Direction)
		}
		seen[exit.Direction] = true

		if exit.State == "" {
			exit.State = ExitOpen
		} else if !exit.State.IsValid() {
			record(ParseInvalidField, "exit %d: state %q is not recognised", i, exit.State)
		}
	}

	if kind != "" {
		return nil, &ParseError{
			Kind:    kind,
			Message: "scene payload failed validation",
			Issues:  issues,
		}
	}
	return &TurnResponse{Type: ResponseFullScene, Scene: &scene}, nil
}

func parseSimple(narration, payload string) (*TurnResponse, *ParseError) {
	var simple SimpleResponse
	if err := json.Unmarshal([]byte(payload), &simple); err != nil {
		return nil, &ParseError{
			Kind:    ParseMalformedJSON,
			Message: fmt.Sprintf("simple payload does not decode: %v", err),
		}
	}
	if narration != "" {
		simple.NarrationText = narration
	}

	var issues []string
	if simple.LocationID == "" {
		issues = append(issues, "locationId is required")
	}
	if !simple.ActionTaken.IsValid() {
		issues = append(issues, fmt.Sprintf("actionTaken %q is not a recognised action", simple.ActionTaken))
	}
	if len(issues) > 0 {
		return nil, &ParseError{
			Kind:    ParseInvalidField,
			Message: "simple payload failed validation",
			Issues:  issues,
		}
	}
	return &TurnResponse{Type: ResponseSimple, Simple: &simple}, nil
}

// CheckMovement applies the movement gate: a transition from prev to next is
// allowed only when prev has an open exit targeting next's location, when
// prev recorded no exits at all, or when there is no previous scene. A nil
// return means the transition is allowed.
//
// This gate is the authoritative barrier against narrator-hallucinated
// movement through locked, sealed, or blocked passages.
func CheckMovement(prev, next *GameScene) *ValidationIssue {
	if prev == nil || next == nil {
		return nil
	}
	if prev.LocationID == next.LocationID {
		return nil
	}
	if len(prev.Exits) == 0 {
		return nil
	}
	for _, exit := range prev.Exits {
		if exit.TargetLocationID != next.LocationID {
			continue
		}
		if exit.State == ExitOpen || exit.State == "" {
			return nil
		}
		return &ValidationIssue{
			Code: "movement_blocked",
			Message: fmt.Sprintf("movement to %q rejected: the %s exit is %s",
				next.LocationID, exit.Direction, exit.State),
		}
	}
	return &ValidationIssue{
		Code: "movement_no_exit",
		Message: fmt.Sprintf("movement to %q rejected: no exit from %q leads there",
			next.LocationID, prev.LocationID),
	}
}
