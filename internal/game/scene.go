// Package game implements the interactive-fiction engine core: the structured
// response model the narrator model must follow, the streaming parser that
// splits live narration from the trailing JSON payload, the pure engine state,
// and the Engine façade that ties them to the model, tool, and media layers.
//
// The narrator contract is a two-part payload per turn:
//
//	<narration prose>\n<<<JSON>>>\n{ "responseType": "fullScene", … }
//
// The prose half streams to the player in real time; the JSON half describes
// the resulting scene (or simple action) and is validated before any state
// changes. The narrationText field is never produced by the model; the parser
// re-attaches the prose prefix, so narration tokens are generated exactly once.
package game

// GameScene is a fully described location emitted by the narrator.
type GameScene struct {
	// LocationID is the stable scene identifier ([a-z0-9_]+).
	LocationID string `json:"locationId"`

	// LocationName is the display name shown to the player.
	LocationName string `json:"locationName"`

	// NarrationText is the prose shown to the player. It is re-attached from
	// the streamed prefix, not parsed from the payload.
	NarrationText string `json:"narrationText"`

	// ImageDescription is the visual detail used to build the image prompt.
	ImageDescription string `json:"imageDescription,omitempty"`

	// MusicDescription is the atmospheric detail used for music prompts.
	MusicDescription string `json:"musicDescription,omitempty"`

	// MusicMood is one of the sixteen recognised moods.
	MusicMood Mood `json:"musicMood,omitempty"`

	// Exits lists the passable (and blocked) ways out, at most one per
	// direction.
	Exits []Exit `json:"exits,omitempty"`

	// Items are identifiers of items present in the room, not yet owned.
	Items []string `json:"items,omitempty"`

	// NPCs are identifiers of characters present in the room.
	NPCs []string `json:"npcs,omitempty"`
}

// Exit is one way out of a scene.
type Exit struct {
	// Direction is one of the eight recognised directions, unique per scene.
	Direction Direction `json:"direction"`

	// TargetLocationID names the scene the exit leads to. Targets resolve
	// lazily: an id may be minted here and described only when traversed.
	TargetLocationID string `json:"targetLocationId"`

	// Description is optional flavour text for the exit.
	Description string `json:"description,omitempty"`

	// State gates traversal. Only open exits pass the movement gate.
	// Empty is treated as open.
	State ExitState `json:"state,omitempty"`
}

// SimpleResponse is an action result that does not move to a new scene.
type SimpleResponse struct {
	// LocationID must match the current scene's id, when one exists.
	LocationID string `json:"locationId"`

	// ActionTaken is one of the nine recognised action kinds.
	ActionTaken Action `json:"actionTaken"`

	// NarrationText is the prose shown to the player, re-attached from the
	// streamed prefix.
	NarrationText string `json:"narrationText"`
}

// AdventureOutline is the per-game design document produced once at game
// creation. It shapes the system prompt and is never mutated afterwards.
type AdventureOutline struct {
	Title            string   `json:"title"`
	Tagline          string   `json:"tagline,omitempty"`
	MainQuest        string   `json:"mainQuest"`
	SubQuests        []string `json:"subQuests,omitempty"`
	KeyLocations     []string `json:"keyLocations,omitempty"`
	ImportantItems   []string `json:"importantItems,omitempty"`
	KeyCharacters    []string `json:"keyCharacters,omitempty"`
	AdventureArc     string   `json:"adventureArc,omitempty"`
	SpecialMechanics string   `json:"specialMechanics,omitempty"`
}

// TurnResponse is the validated result of one narrator turn: exactly one of
// Scene or Simple is set, matching Type.
type TurnResponse struct {
	Type   ResponseType
	Scene  *GameScene
	Simple *SimpleResponse
}

// NarrationText returns the prose of whichever response shape is set.
func (t *TurnResponse) NarrationText() string {
	switch {
	case t.Scene != nil:
		return t.Scene.NarrationText
	case t.Simple != nil:
		return t.Simple.NarrationText
	}
	return ""
}

// ResponseType discriminates the two shapes of structured narrator output.
type ResponseType string

const (
	// ResponseFullScene announces arrival at a (possibly new) location and
	// carries a complete GameScene.
	ResponseFullScene ResponseType = "fullScene"

	// ResponseSimple reports an action that keeps the player in place.
	ResponseSimple ResponseType = "simple"
)

// IsValid reports whether r is a recognised response type.
func (r ResponseType) IsValid() bool {
	switch r {
	case ResponseFullScene, ResponseSimple:
		return true
	}
	return false
}

// Direction is a compass or relative direction an exit can take.
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
	Up    Direction = "up"
	Down  Direction = "down"
	In    Direction = "in"
	Out   Direction = "out"
)

// Directions lists every recognised direction in canonical order.
var Directions = []Direction{North, South, East, West, Up, Down, In, Out}

// IsValid reports whether d is a recognised direction.
func (d Direction) IsValid() bool {
	switch d {
	case North, South, East, West, Up, Down, In, Out:
		return true
	}
	return false
}

// ExitState describes whether and how an exit can be traversed.
type ExitState string

const (
	// ExitOpen passes the movement gate.
	ExitOpen ExitState = "open"

	// ExitClosed blocks traversal until opened in-fiction.
	ExitClosed ExitState = "closed"

	// ExitLocked blocks traversal until unlocked.
	ExitLocked ExitState = "locked"

	// ExitSealed blocks traversal permanently or until a story event.
	ExitSealed ExitState = "sealed"

	// ExitBlocked is physically obstructed.
	ExitBlocked ExitState = "blocked"

	// ExitHidden is not revealed to the player yet.
	ExitHidden ExitState = "hidden"
)

// IsValid reports whether s is a recognised exit state.
func (s ExitState) IsValid() bool {
	switch s {
	case ExitOpen, ExitClosed, ExitLocked, ExitSealed, ExitBlocked, ExitHidden:
		return true
	}
	return false
}

// Action classifies a simple (non-movement) player action.
type Action string

const (
	ActionExamine   Action = "examine"
	ActionHelp      Action = "help"
	ActionInventory Action = "inventory"
	ActionTalk      Action = "talk"
	ActionUse       Action = "use"
	ActionTake      Action = "take"
	ActionDrop      Action = "drop"
	ActionOpen      Action = "open"
	ActionOther     Action = "other"
)

// IsValid reports whether a is a recognised action kind.
func (a Action) IsValid() bool {
	switch a {
	case ActionExamine, ActionHelp, ActionInventory, ActionTalk, ActionUse,
		ActionTake, ActionDrop, ActionOpen, ActionOther:
		return true
	}
	return false
}

// Mood is one of the sixteen recognised scene moods driving music selection.
type Mood string

const (
	MoodEntrance    Mood = "entrance"
	MoodExploration Mood = "exploration"
	MoodCombat      Mood = "combat"
	MoodVictory     Mood = "victory"
	MoodDungeon     Mood = "dungeon"
	MoodForest      Mood = "forest"
	MoodTown        Mood = "town"
	MoodMystery     Mood = "mystery"
	MoodCastle      Mood = "castle"
	MoodUnderwater  Mood = "underwater"
	MoodTemple      Mood = "temple"
	MoodBoss        Mood = "boss"
	MoodStealth     Mood = "stealth"
	MoodTreasure    Mood = "treasure"
	MoodDanger      Mood = "danger"
	MoodPeaceful    Mood = "peaceful"
)

// Moods lists every recognised mood in canonical order.
var Moods = []Mood{
	MoodEntrance, MoodExploration, MoodCombat, MoodVictory,
	MoodDungeon, MoodForest, MoodTown, MoodMystery,
	MoodCastle, MoodUnderwater, MoodTemple, MoodBoss,
	MoodStealth, MoodTreasure, MoodDanger, MoodPeaceful,
}

// IsValid reports whether m is a recognised mood.
func (m Mood) IsValid() bool {
	switch m {
	case MoodEntrance, MoodExploration, MoodCombat, MoodVictory,
		MoodDungeon, MoodForest, MoodTown, MoodMystery,
		MoodCastle, MoodUnderwater, MoodTemple, MoodBoss,
		MoodStealth, MoodTreasure, MoodDanger, MoodPeaceful:
		return true
	}
	return false
}
