package media

import (
	"strings"

	"github.com/fableloom/fableloom/internal/game"
)

// moodKeywords maps narration keywords to moods. Order matters: the first
// mood with a hit wins, so the more specific moods (boss before combat,
// victory before treasure) sit first.
// Keywords are matched as substrings, so short fragments that hide inside
// everyday words ("inn", "rest", "cell", "arch") are deliberately absent.
var moodKeywords = []struct {
	mood  game.Mood
	words []string
}{
	{game.MoodBoss, []string{"boss", "final battle", "nemesis", "showdown"}},
	{game.MoodVictory, []string{"victory", "victorious", "triumph", "defeated the", "you have won", "celebrate"}},
	{game.MoodCombat, []string{"battle", "fight", "attack", "combat", "sword clash", "enemies", "strike"}},
	{game.MoodDanger, []string{"danger", "dangerous", "threat", "ominous", "peril", "trap", "beware"}},
	{game.MoodStealth, []string{"sneak", "stealth", "quietly", "slip past", "shadows conceal", "unseen", "tiptoe"}},
	{game.MoodTreasure, []string{"treasure", "gold", "riches", "loot", "gem", "chest of"}},
	{game.MoodUnderwater, []string{"underwater", "beneath the waves", "submerged", "coral", "depths of the sea"}},
	{game.MoodTemple, []string{"temple", "shrine", "altar", "sacred", "holy"}},
	{game.MoodCastle, []string{"castle", "throne", "palace", "battlements", "fortress"}},
	{game.MoodDungeon, []string{"dungeon", "catacomb", "crypt", "dark corridor", "underground passage"}},
	{game.MoodForest, []string{"forest", "woods", "trees", "grove", "undergrowth", "canopy"}},
	{game.MoodTown, []string{"town", "village", "market", "tavern", "streets"}},
	{game.MoodEntrance, []string{"entrance", "gateway", "threshold", "doorway", "gates of"}},
	{game.MoodMystery, []string{"mystery", "mysterious", "strange", "puzzle", "riddle", "enigma"}},
	{game.MoodPeaceful, []string{"peaceful", "calm", "serene", "tranquil", "gentle breeze"}},
	{game.MoodExploration, []string{"explore", "journey", "path ahead", "discover", "wander"}},
}

// visualNouns mark sentences worth illustrating when no structured scene
// description is available.
var visualNouns = []string{
	"door", "wall", "room", "light", "shadow", "stone", "tree", "water",
	"sky", "floor", "ceiling", "window", "torch", "table", "path", "gate",
	"statue", "mountain", "river", "fire", "glow", "mist", "tower", "bridge",
	"cave", "ruin", "forest", "hall", "staircase", "archway",
}

// StyledImagePrompt rewrites a base scene description into a provider-bound
// prompt for the chosen art style. Unknown styles fall back to appending the
// free-text style description to the base.
func StyledImagePrompt(style, base, styleDescription string) string {
	base = strings.TrimSpace(base)
	switch strings.ToLower(strings.TrimSpace(style)) {
	case "pixel":
		return "16-bit pixel art scene, " + base + ", retro video game style, limited color palette, crisp pixels"
	case "pencil":
		return "Detailed pencil sketch of " + base + ", graphite shading, hand-drawn linework, monochrome"
	case "painting":
		return "Digital painting of " + base + ", rich colors, dramatic lighting, fantasy concept art"
	case "comic":
		return "Comic book panel of " + base + ", bold ink outlines, flat cel shading, halftone accents"
	}
	if styleDescription = strings.TrimSpace(styleDescription); styleDescription != "" {
		return base + ", " + styleDescription
	}
	return base
}

// DetectMood maps narration text to one of the recognised moods by keyword
// presence. Text matching nothing is exploration.
func DetectMood(text string) game.Mood {
	lower := strings.ToLower(text)
	for _, mk := range moodKeywords {
		for _, w := range mk.words {
			if strings.Contains(lower, w) {
				return mk.mood
			}
		}
	}
	return game.MoodExploration
}

// ExtractSceneDescription picks the illustratable part of free narration:
// the sentences mentioning concrete visual nouns, or the first sentence when
// none do. Used when a turn produced no structured scene.
func ExtractSceneDescription(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}

	var visual []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, noun := range visualNouns {
			if strings.Contains(lower, noun) {
				visual = append(visual, s)
				break
			}
		}
		// Three sentences are plenty of prompt.
		if len(visual) == 3 {
			break
		}
	}

	if len(visual) > 0 {
		return strings.Join(visual, " ")
	}
	return sentences[0]
}

// splitSentences breaks text on sentence-ending punctuation, keeping the
// punctuation attached and dropping empty fragments.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
