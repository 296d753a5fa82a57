package game

import (
	"fmt"
	"strings"
)

// InitialCommand is the synthetic user turn fired by Initialize to produce
// the opening scene.
const InitialCommand = "Start the adventure."

// BuildSystemPrompt renders the narrator system prompt from the game's theme,
// art style, and outline.
//
// The prompt is pure text assembly: no I/O, safe for concurrent use. Empty
// sections (no outline, no theme) are omitted rather than rendered as bare
// headers. The wording here is a tuning parameter; the structured contract it
// describes (marker, responseType, enums) is not.
func BuildSystemPrompt(theme, artStyle string, outline *AdventureOutline) string {
	var sb strings.Builder

	sb.WriteString("You are the narrator and game master of an interactive fiction adventure. ")
	sb.WriteString("You describe the world vividly, react to the player's commands, and keep the story moving.")
	if theme != "" {
		fmt.Fprintf(&sb, " The adventure's theme is: %s.", theme)
	}
	if artStyle != "" {
		fmt.Fprintf(&sb, " Scene imagery follows a %s art style.", artStyle)
	}

	if outline != nil {
		section := formatOutlineSection(outline)
		if section != "" {
			sb.WriteString("\n\n## The Adventure\n")
			sb.WriteString(section)
		}
	}

	sb.WriteString("\n\n## Response Format\n")
	sb.WriteString(formatContractSection())

	sb.WriteString("\n\n## Tools\n")
	sb.WriteString("Use add_inventory_item when the player picks something up, " +
		"remove_inventory_item when they drop or consume it, and list_inventory " +
		"when they ask what they carry. Never claim an inventory change you did " +
		"not make through a tool.")

	return sb.String()
}

// BuildOutlinePrompt renders the one-shot prompt that produces the adventure
// outline at game creation.
func BuildOutlinePrompt(theme string) string {
	var sb strings.Builder
	sb.WriteString("Design an interactive fiction adventure")
	if theme != "" {
		fmt.Fprintf(&sb, " with the theme: %s", theme)
	}
	sb.WriteString(".\n\nRespond with a single JSON object and nothing else. Fields:\n")
	sb.WriteString(`{
  "title": "adventure title",
  "tagline": "one evocative sentence",
  "mainQuest": "the player's overall goal",
  "subQuests": ["two to four supporting quests"],
  "keyLocations": ["five to eight locations the player may visit"],
  "importantItems": ["three to six items that matter to the story"],
  "keyCharacters": ["two to five characters with a one-phrase description each"],
  "adventureArc": "how the story builds and resolves",
  "specialMechanics": "any unusual rule of this world, or omit"
}`)
	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// formatOutlineSection renders the outline's fields as labelled lines.
func formatOutlineSection(o *AdventureOutline) string {
	var lines []string
	if o.Title != "" {
		lines = append(lines, fmt.Sprintf("Title: %s", o.Title))
	}
	if o.Tagline != "" {
		lines = append(lines, fmt.Sprintf("Tagline: %s", o.Tagline))
	}
	if o.MainQuest != "" {
		lines = append(lines, fmt.Sprintf("Main quest: %s", o.MainQuest))
	}
	if len(o.SubQuests) > 0 {
		lines = append(lines, fmt.Sprintf("Sub quests: %s", strings.Join(o.SubQuests, "; ")))
	}
	if len(o.KeyLocations) > 0 {
		lines = append(lines, fmt.Sprintf("Key locations: %s", strings.Join(o.KeyLocations, ", ")))
	}
	if len(o.ImportantItems) > 0 {
		lines = append(lines, fmt.Sprintf("Important items: %s", strings.Join(o.ImportantItems, ", ")))
	}
	if len(o.KeyCharacters) > 0 {
		lines = append(lines, fmt.Sprintf("Key characters: %s", strings.Join(o.KeyCharacters, "; ")))
	}
	if o.AdventureArc != "" {
		lines = append(lines, fmt.Sprintf("Story arc: %s", o.AdventureArc))
	}
	if o.SpecialMechanics != "" {
		lines = append(lines, fmt.Sprintf("Special mechanics: %s", o.SpecialMechanics))
	}
	return strings.Join(lines, "\n")
}

// formatContractSection renders the two-part response contract. The enum
// lists are built from the canonical slices so the prompt can never drift
// from what the validator accepts.
func formatContractSection() string {
	var sb strings.Builder
	sb.WriteString("Every reply has two parts. First the narration prose the player reads. ")
	sb.WriteString("Then, on its own line, the marker " + Marker + ", followed by one JSON object.\n\n")

	sb.WriteString("When the player arrives somewhere (including the opening scene), the JSON is:\n")
	sb.WriteString(`{
  "responseType": "fullScene",
  "locationId": "snake_case_identifier",
  "locationName": "Display Name",
  "imageDescription": "50-200 words of visual detail",
  "musicDescription": "30-80 words of atmosphere",
  "musicMood": "one of the moods below",
  "exits": [{"direction": "north", "targetLocationId": "next_location", "description": "optional", "state": "open"}],
  "items": ["item identifiers in the room"],
  "npcs": ["character identifiers present"]
}`)
	sb.WriteString("\n\nWhen the player stays in place, the JSON is:\n")
	sb.WriteString(`{
  "responseType": "simple",
  "locationId": "current_location_id",
  "actionTaken": "one of the actions below"
}`)

	fmt.Fprintf(&sb, "\n\nDirections: %s. At most one exit per direction.\n", joinDirections())
	fmt.Fprintf(&sb, "Exit states: open, closed, locked, sealed, blocked, hidden. The player can only move through open exits; never narrate passage through anything else.\n")
	fmt.Fprintf(&sb, "Moods: %s.\n", joinMoods())
	sb.WriteString("Actions: examine, help, inventory, talk, use, take, drop, open, other.\n")
	sb.WriteString("Do not put narrationText in the JSON; the prose above the marker is the narration.")
	return sb.String()
}

func joinDirections() string {
	parts := make([]string, len(Directions))
	for i, d := range Directions {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}

func joinMoods() string {
	parts := make([]string, len(Moods))
	for i, m := range Moods {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
