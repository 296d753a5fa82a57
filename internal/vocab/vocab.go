// Package vocab corrects speech-to-text output against the vocabulary of a
// running game. Transcription engines reliably garble invented proper nouns
// ("Eldrinax" comes back as "elder nacks"), so before a spoken command is
// executed it is aligned with the names the game actually knows: the current
// location, its items and characters, exit targets, visited locations and the
// player inventory.
//
// Matching is two-staged per token window:
//
//  1. Double Metaphone codes are computed for the window and for each
//     vocabulary entry. Entries sharing at least one code are phonetic
//     candidates and accepted at a lower Jaro-Winkler threshold (0.70).
//  2. When no phonetic candidate qualifies, a pure Jaro-Winkler pass runs
//     against all entries at a stricter threshold (0.85).
//
// Multi-word entries are handled by scanning n-gram windows longest-first, so
// "tower of whispers" wins over a partial match on "tower".
package vocab

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/fableloom/fableloom/internal/game"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// commandWords are common command tokens that must never be rewritten, no
// matter how closely they resemble a vocabulary entry. A window whose first
// or last token is a command word is never matched, which keeps verbs and
// prepositions out of replacements; interior tokens ("tower OF whispers")
// are fine.
var commandWords = map[string]struct{}{
	"north": {}, "south": {}, "east": {}, "west": {},
	"up": {}, "down": {}, "in": {}, "out": {},
	"go": {}, "walk": {}, "move": {}, "enter": {}, "leave": {}, "exit": {},
	"look": {}, "examine": {}, "search": {}, "read": {},
	"take": {}, "get": {}, "grab": {}, "drop": {}, "give": {},
	"use": {}, "open": {}, "close": {}, "unlock": {}, "push": {}, "pull": {},
	"talk": {}, "say": {}, "ask": {}, "tell": {},
	"attack": {}, "fight": {}, "flee": {},
	"inventory": {}, "wait": {}, "help": {},
	"the": {}, "a": {}, "an": {}, "to": {}, "at": {}, "with": {},
	"on": {}, "into": {}, "from": {}, "of": {}, "and": {}, "or": {},
	"my": {}, "me": {}, "i": {}, "it": {}, "that": {}, "this": {},
	"is": {}, "do": {}, "can": {}, "what": {}, "where": {}, "who": {},
}

// Correction records one replacement made while correcting a command.
type Correction struct {
	// Original is the window of transcript tokens that was replaced.
	Original string `json:"original"`
	// Corrected is the vocabulary entry it was replaced with.
	Corrected string `json:"corrected"`
	// Score is the Jaro-Winkler similarity that justified the replacement.
	Score float64 `json:"score"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched entry to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// Corrector aligns transcribed commands with game vocabulary. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Corrector] with the supplied options applied. Default
// thresholds are 0.70 for phonetic matches and 0.85 for fuzzy fallbacks.
func New(opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct rewrites command so that near-miss references to vocabulary entries
// use the entry's canonical form. The scan walks token windows longest-first;
// each window either consumes a matched entry or advances by one token.
// Windows opening or closing on a protected command word are never matched.
// Windows that already equal an entry (case-insensitively) are consumed
// unchanged and produce no correction record.
//
// The returned string equals command when nothing matched.
func (c *Corrector) Correct(command string, vocabulary []string) (string, []Correction) {
	tokens := strings.Fields(command)
	if len(tokens) == 0 || len(vocabulary) == 0 {
		return command, nil
	}

	maxWindow := maxWordCount(vocabulary)

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		n := maxWindow
		if i+n > len(tokens) {
			n = len(tokens) - i
		}

		consumed := 0
		for ; n >= 1; n-- {
			if guarded(tokens[i]) || guarded(tokens[i+n-1]) {
				continue
			}
			window := strings.Join(tokens[i:i+n], " ")

			entry, score, ok := c.match(window, vocabulary)
			if !ok {
				continue
			}

			if strings.EqualFold(window, entry) {
				// Already the right words. Keep the player's casing.
				output = append(output, tokens[i:i+n]...)
			} else {
				output = append(output, strings.Fields(entry)...)
				corrections = append(corrections, Correction{
					Original:  window,
					Corrected: entry,
					Score:     score,
				})
			}
			consumed = n
			break
		}

		if consumed == 0 {
			output = append(output, tokens[i])
			i++
		} else {
			i += consumed
		}
	}

	if len(corrections) == 0 {
		return command, nil
	}
	return strings.Join(output, " "), corrections
}

// match finds the vocabulary entry most similar to window, or reports false.
func (c *Corrector) match(window string, vocabulary []string) (entry string, score float64, ok bool) {
	windowLower := strings.ToLower(strings.TrimSpace(window))
	if windowLower == "" {
		return "", 0, false
	}
	windowTokens := strings.Fields(windowLower)
	windowCodes := metaphoneCodes(windowTokens)

	type candidate struct {
		entry    string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, v := range vocabulary {
		vLower := strings.ToLower(strings.TrimSpace(v))
		if vLower == "" {
			continue
		}
		vTokens := strings.Fields(vLower)

		phonetic := codesOverlap(windowCodes, metaphoneCodes(vTokens))
		jw := bestSimilarity(windowTokens, vTokens, windowLower, vLower)

		if phonetic {
			if jw >= c.phoneticThreshold && (!best.phonetic || jw > best.score) {
				best = candidate{entry: v, score: jw, phonetic: true}
			}
		} else if !best.phonetic && jw >= c.fuzzyThreshold && jw > best.score {
			best = candidate{entry: v, score: jw, phonetic: false}
		}
	}

	if best.entry == "" {
		return "", 0, false
	}
	return best.entry, best.score, true
}

// Collect assembles the correction vocabulary for a game in progress:
// the current scene's name, items, characters and exit targets, every
// visited location id and the player inventory. Identifier-shaped entries
// ("crystal-cavern") are offered in humanized form ("crystal cavern") so
// corrections read naturally in the command text. Duplicates are dropped
// case-insensitively; order is stable.
func Collect(scene *game.GameScene, visited []string, inventory []string) []string {
	var out []string
	seen := make(map[string]struct{})

	add := func(s string) {
		s = strings.TrimSpace(humanize(s))
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}

	if scene != nil {
		add(scene.LocationName)
		add(scene.LocationID)
		for _, it := range scene.Items {
			add(it)
		}
		for _, npc := range scene.NPCs {
			add(npc)
		}
		for _, ex := range scene.Exits {
			add(ex.TargetLocationID)
		}
	}
	for _, id := range visited {
		add(id)
	}
	for _, item := range inventory {
		add(item)
	}

	return out
}

// guarded reports whether token is a protected command word.
func guarded(token string) bool {
	_, ok := commandWords[strings.ToLower(token)]
	return ok
}

// humanize turns identifier separators into spaces.
func humanize(s string) string {
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

// metaphoneCodes returns the union of Double Metaphone codes for tokens.
// Empty codes (short or vowel-only words) are excluded.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler score between the window
// and the entry, comparing the full strings and the space-stripped strings
// ("eldernacks" vs "eldrinax"). The whole window must resemble the whole
// entry; a single shared token is not enough, otherwise a window like
// "climb the tower" would swallow its verb when the vocabulary holds
// "tower of whispers".
func bestSimilarity(windowTokens, entryTokens []string, windowFull, entryFull string) float64 {
	score := matchr.JaroWinkler(windowFull, entryFull, false)

	if len(windowTokens) > 1 || len(entryTokens) > 1 {
		joined1 := strings.Join(windowTokens, "")
		joined2 := strings.Join(entryTokens, "")
		if s := matchr.JaroWinkler(joined1, joined2, false); s > score {
			score = s
		}
	}

	return score
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any vocabulary entry, at least 1.
func maxWordCount(vocabulary []string) int {
	max := 1
	for _, v := range vocabulary {
		if n := len(strings.Fields(v)); n > max {
			max = n
		}
	}
	return max
}
