package game

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/fableloom/fableloom/pkg/types"
)

// ConversationEntry is one player-visible transcript line. The conversation
// log is append-only within a game and is what clients render on load.
type ConversationEntry struct {
	// Role is one of "user", "assistant", "system", "tool".
	Role string `json:"role"`

	// Content is the displayed text.
	Content string `json:"content"`

	// Timestamp records when the entry was appended.
	Timestamp time.Time `json:"timestamp"`
}

// CoreState is the pure heart of the engine: the current scene, the set of
// visited locations, and the player-visible conversation log.
//
// CoreState is a value. Transitions return a new state and never mutate the
// receiver, so snapshots taken for persistence stay stable while the engine
// moves on.
type CoreState struct {
	CurrentScene        *GameScene
	VisitedLocations    map[string]bool
	ConversationHistory []ConversationEntry
}

// ApplyScene records arrival at a scene: the scene becomes current, its
// location joins the visited set, and its narration is appended as an
// assistant entry.
func (s CoreState) ApplyScene(scene *GameScene, now time.Time) CoreState {
	visited := maps.Clone(s.VisitedLocations)
	if visited == nil {
		visited = make(map[string]bool, 1)
	}
	visited[scene.LocationID] = true

	next := s
	next.CurrentScene = scene
	next.VisitedLocations = visited
	next.ConversationHistory = appendEntry(s.ConversationHistory, ConversationEntry{
		Role:      "assistant",
		Content:   scene.NarrationText,
		Timestamp: now,
	})
	return next
}

// ApplySimple records a turn that kept the player in place: only the
// assistant entry is appended.
func (s CoreState) ApplySimple(text string, now time.Time) CoreState {
	next := s
	next.ConversationHistory = appendEntry(s.ConversationHistory, ConversationEntry{
		Role:      "assistant",
		Content:   text,
		Timestamp: now,
	})
	return next
}

// TrackUser appends the player's command as a user entry.
func (s CoreState) TrackUser(command string, now time.Time) CoreState {
	next := s
	next.ConversationHistory = appendEntry(s.ConversationHistory, ConversationEntry{
		Role:      "user",
		Content:   command,
		Timestamp: now,
	})
	return next
}

func appendEntry(history []ConversationEntry, entry ConversationEntry) []ConversationEntry {
	return append(slices.Clone(history), entry)
}

// sceneEntryVocab are phrases whose presence in narration signals arrival at
// a describable place even when the narrator answered with a simple response.
var sceneEntryVocab = []string{
	"you enter",
	"you arrive",
	"you step into",
	"you find yourself",
	"you emerge",
	"you walk into",
	"opens into",
	"before you lies",
}

// ShouldGenerateSceneImage reports whether this turn warrants a scene
// illustration: every full scene does, and a simple turn does when its text
// reads like a scene entrance and a current scene exists to attribute it to.
func (s CoreState) ShouldGenerateSceneImage(wasFullScene bool, text string) bool {
	if wasFullScene {
		return true
	}
	if s.CurrentScene == nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range sceneEntryVocab {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ShouldGenerateBackgroundMusic reports whether this turn warrants a new
// background track: the current scene's mood changed since the last generated
// track, or the narration names a mood outright.
func (s CoreState) ShouldGenerateBackgroundMusic(lastMood Mood, text string) bool {
	if s.CurrentScene != nil && s.CurrentScene.MusicMood != "" && s.CurrentScene.MusicMood != lastMood {
		return true
	}
	lower := strings.ToLower(text)
	for _, mood := range Moods {
		if strings.Contains(lower, string(mood)) {
			return true
		}
	}
	return false
}

// MediaCacheEntry records one generated artifact inside a state snapshot.
// The on-disk media cache is authoritative; this map survives for snapshot
// compatibility and as a per-location pointer into that cache.
type MediaCacheEntry struct {
	// FilePath is the cache-relative path of the artifact.
	FilePath string `json:"filePath"`

	// Description is the prompt text the artifact was generated from.
	Description string `json:"description"`

	// GeneratedAt records when the artifact was produced.
	GeneratedAt time.Time `json:"generatedAt"`
}

// GameState is the complete per-step snapshot: everything needed to rebuild a
// session exactly, including the model-facing transcript.
type GameState struct {
	GameID              string                     `json:"gameId"`
	Theme               string                     `json:"theme,omitempty"`
	ArtStyle            string                     `json:"artStyle,omitempty"`
	Outline             *AdventureOutline          `json:"outline,omitempty"`
	CurrentScene        *GameScene                 `json:"currentScene,omitempty"`
	VisitedLocationIDs  []string                   `json:"visitedLocationIds"`
	ConversationHistory []ConversationEntry        `json:"conversationHistory"`
	Inventory           []string                   `json:"inventory"`
	AgentMessages       []types.Message            `json:"agentMessages"`
	MediaCache          map[string]MediaCacheEntry `json:"mediaCache,omitempty"`
	SystemPrompt        string                     `json:"systemPrompt,omitempty"`
	CreatedAt           time.Time                  `json:"createdAt"`
	LastPlayed          time.Time                  `json:"lastPlayed"`

	// TotalPlayTime is accumulated play time in seconds.
	TotalPlayTime float64 `json:"totalPlayTime"`

	AdventureTitle string `json:"adventureTitle,omitempty"`
}

// VisitedAsSorted returns the visited-location set as a sorted slice, the
// form snapshots store it in.
func (s CoreState) VisitedAsSorted() []string {
	out := make([]string, 0, len(s.VisitedLocations))
	for id := range s.VisitedLocations {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// VisitedFromSlice rebuilds the visited-location set from its snapshot form.
func VisitedFromSlice(ids []string) map[string]bool {
	visited := make(map[string]bool, len(ids))
	for _, id := range ids {
		visited[id] = true
	}
	return visited
}
