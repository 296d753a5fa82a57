package media

import (
	"strings"
	"testing"

	"github.com/fableloom/fableloom/internal/game"
)

// ─── StyledImagePrompt ────────────────────────────────────────────────────────

func TestStyledImagePrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		style    string
		base     string
		styleDes string
		contains []string
	}{
		{
			name:     "pixel",
			style:    "pixel",
			base:     "a dark cave",
			contains: []string{"pixel art", "a dark cave"},
		},
		{
			name:     "pencil",
			style:    "pencil",
			base:     "a dark cave",
			contains: []string{"pencil sketch", "a dark cave"},
		},
		{
			name:     "painting",
			style:    "painting",
			base:     "a dark cave",
			contains: []string{"painting", "a dark cave"},
		},
		{
			name:     "comic",
			style:    "comic",
			base:     "a dark cave",
			contains: []string{"Comic book", "a dark cave"},
		},
		{
			name:     "style is case insensitive",
			style:    "Pixel",
			base:     "a dark cave",
			contains: []string{"pixel art"},
		},
		{
			name:     "unknown style falls back to concatenation",
			style:    "noir",
			base:     "a dark cave",
			styleDes: "film noir, heavy shadows",
			contains: []string{"a dark cave, film noir, heavy shadows"},
		},
		{
			name:     "unknown style without description keeps base",
			style:    "noir",
			base:     "a dark cave",
			contains: []string{"a dark cave"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := StyledImagePrompt(tc.style, tc.base, tc.styleDes)
			for _, want := range tc.contains {
				if !strings.Contains(got, want) {
					t.Errorf("StyledImagePrompt(%q) = %q, missing %q", tc.style, got, want)
				}
			}
		})
	}
}

// ─── DetectMood ───────────────────────────────────────────────────────────────

func TestDetectMood(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want game.Mood
	}{
		{"combat keywords", "Goblins leap out and attack you!", game.MoodCombat},
		{"boss beats combat", "The boss roars as the battle begins.", game.MoodBoss},
		{"victory beats treasure", "Victory! You claim the treasure at last.", game.MoodVictory},
		{"forest", "Tall trees close in around the narrow trail.", game.MoodForest},
		{"town", "The market square bustles with traders.", game.MoodTown},
		{"underwater", "You swim deeper, submerged in blue silence.", game.MoodUnderwater},
		{"nothing matches", "You ponder your next move.", game.MoodExploration},
		{"empty text", "", game.MoodExploration},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectMood(tc.text); got != tc.want {
				t.Errorf("DetectMood(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

// ─── ExtractSceneDescription ──────────────────────────────────────────────────

func TestExtractSceneDescription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "picks the visual sentence",
			text: "You feel uneasy. A stone archway looms over the path. Something watches you.",
			want: "A stone archway looms over the path.",
		},
		{
			name: "joins multiple visual sentences",
			text: "Torch light flickers on the wall. The river runs black. You hum a tune.",
			want: "Torch light flickers on the wall. The river runs black.",
		},
		{
			name: "no visual nouns falls back to first sentence",
			text: "You think it over. Then you decide.",
			want: "You think it over.",
		},
		{
			name: "single fragment without punctuation",
			text: "a quiet moment",
			want: "a quiet moment",
		},
		{
			name: "empty",
			text: "",
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractSceneDescription(tc.text); got != tc.want {
				t.Errorf("ExtractSceneDescription(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}
