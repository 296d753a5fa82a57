package game

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fableloom/fableloom/internal/agent"
	"github.com/fableloom/fableloom/internal/tools/inventory"
	"github.com/fableloom/fableloom/pkg/provider/tts"
	"github.com/fableloom/fableloom/pkg/types"
)

// MediaArtifact is one generated media file: its base64-encoded bytes plus
// the cache bookkeeping the engine records in snapshots.
type MediaArtifact struct {
	// B64 is the base64-encoded file content.
	B64 string

	// Path is the artifact's path relative to the game's media directory.
	Path string

	// Description is the prompt text the artifact was generated from.
	Description string

	// Mood is set on music artifacts only.
	Mood Mood
}

// MediaService supplies cache-backed scene imagery and background music.
// Implementations own prompt styling, mood detection, the on-disk cache, and
// provider calls; the engine only hands over what the turn produced.
type MediaService interface {
	// SceneImage returns an illustration for the given scene (or, when scene
	// is nil, for a description extracted from the narration).
	SceneImage(ctx context.Context, gameID, artStyle string, scene *GameScene, narration string) (*MediaArtifact, error)

	// BackgroundMusic returns a looping track matching the scene's mood (or a
	// mood detected from the narration when scene is nil).
	BackgroundMusic(ctx context.Context, gameID string, scene *GameScene, narration string) (*MediaArtifact, error)
}

// GameResponse is the player-facing outcome of one command.
type GameResponse struct {
	// Text is the narration shown to the player.
	Text string

	// Audio is base64-encoded synthesized speech, empty when audio was not
	// requested or synthesis failed.
	Audio string

	// Scene is set when the turn produced an accepted full scene. Rejected
	// scene transitions and simple turns leave it nil.
	Scene *GameScene

	// Simple is set when the turn was a simple (stay-in-place) response.
	Simple *SimpleResponse

	// MessageIndex is the index of this turn's assistant entry in the
	// conversation history. Media-ready notifications reference it.
	MessageIndex int

	// ToolCalls lists the tools executed during the turn, in order.
	ToolCalls []agent.ToolCallRecord
}

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithTTS configures speech synthesis for narration. Without it, audio
// requests are silently skipped.
func WithTTS(p tts.Provider, voice tts.Voice) Option {
	return func(e *Engine) {
		e.ttsP = p
		e.voice = voice
	}
}

// WithMedia configures scene image and background music generation. Without
// it, the should-generate predicates still work but generation returns nil.
func WithMedia(m MediaService) Option {
	return func(e *Engine) { e.media = m }
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(c types.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithEngineLogger sets the structured logger. The default is [slog.Default].
func WithEngineLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// Engine is the per-game façade composing the agent loop, the response
// validator, the pure core state, and the media and speech providers.
//
// Commands must be issued one at a time; the session layer enforces that.
// The media generation methods are the exception: they are safe to call from
// detached worker-pool tasks while the next command runs, provided the scene
// and narration are captured when the task is scheduled.
type Engine struct {
	ag    *agent.Agent
	inv   *inventory.Inventory
	ttsP  tts.Provider
	voice tts.Voice
	media MediaService
	clock types.Clock
	log   *slog.Logger

	gameID       string
	theme        string
	artStyle     string
	outline      *AdventureOutline
	systemPrompt string

	core       CoreState
	agentState *agent.State
	issues     []ValidationIssue
	stepCount  int

	createdAt    time.Time
	sessionStart time.Time
	playBase     time.Duration // play time accumulated before this session

	// mu guards the fields shared with detached media tasks.
	mu        sync.Mutex
	lastMood  Mood
	mediaSeen map[string]MediaCacheEntry
}

// New constructs an Engine for one game. ag drives the narrator LLM and inv
// is the inventory its tools mutate; both are required.
func New(gameID, theme, artStyle string, ag *agent.Agent, inv *inventory.Inventory, opts ...Option) *Engine {
	e := &Engine{
		ag:       ag,
		inv:      inv,
		clock:    types.SystemClock{},
		log:      slog.Default(),
		gameID:   gameID,
		theme:    theme,
		artStyle: artStyle,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// GameID returns the game identifier this engine serves.
func (e *Engine) GameID() string { return e.gameID }

// Theme returns the game's theme.
func (e *Engine) Theme() string { return e.theme }

// ArtStyle returns the game's art style.
func (e *Engine) ArtStyle() string { return e.artStyle }

// Outline returns the adventure outline, nil before Initialize.
func (e *Engine) Outline() *AdventureOutline { return e.outline }

// StepCount returns the number of completed turns, counting the opening
// scene as step 1.
func (e *Engine) StepCount() int { return e.stepCount }

// CurrentScene returns the current scene, nil before the opening turn.
func (e *Engine) CurrentScene() *GameScene { return e.core.CurrentScene }

// Visited returns the ids of every location the player has entered, sorted.
func (e *Engine) Visited() []string { return e.core.VisitedAsSorted() }

// History returns a copy of the player-visible conversation log.
func (e *Engine) History() []ConversationEntry {
	return slices.Clone(e.core.ConversationHistory)
}

// AgentMessages returns a copy of the model-facing transcript.
func (e *Engine) AgentMessages() []types.Message {
	if e.agentState == nil {
		return nil
	}
	return slices.Clone(e.agentState.Messages)
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Initialize starts a new game: it obtains an adventure outline (generating
// one from the theme when the caller supplies none), resets the inventory and
// state, and fires the synthetic opening turn that produces the first scene.
func (e *Engine) Initialize(ctx context.Context, outline *AdventureOutline, generateAudio bool) (*GameResponse, error) {
	if outline == nil {
		raw, err := e.ag.Complete(ctx, "", BuildOutlinePrompt(e.theme))
		if err != nil {
			return nil, fmt.Errorf("game: outline generation failed: %w", err)
		}
		outline, err = ParseOutline(raw)
		if err != nil {
			return nil, fmt.Errorf("game: outline unusable: %w", err)
		}
	}

	now := e.clock.Now()
	e.outline = outline
	e.systemPrompt = BuildSystemPrompt(e.theme, e.artStyle, outline)
	e.agentState = agent.NewState(e.systemPrompt)
	e.core = CoreState{}
	e.inv.Clear()
	e.stepCount = 0
	e.createdAt = now
	e.sessionStart = now
	e.playBase = 0
	e.mu.Lock()
	e.lastMood = ""
	e.mediaSeen = nil
	e.mu.Unlock()

	e.log.Info("game initialized", "game", e.gameID, "title", outline.Title)
	return e.runTurn(ctx, InitialCommand, generateAudio, nil)
}

// ProcessCommand runs one blocking player turn.
func (e *Engine) ProcessCommand(ctx context.Context, command string, generateAudio bool) (*GameResponse, error) {
	return e.runTurn(ctx, command, generateAudio, nil)
}

// ProcessCommandStreaming runs one player turn, forwarding narration
// fragments to onChunk in arrival order before returning the full response.
// Structured payload text never reaches onChunk.
func (e *Engine) ProcessCommandStreaming(ctx context.Context, command string, onChunk func(string), generateAudio bool) (*GameResponse, error) {
	return e.runTurn(ctx, command, generateAudio, onChunk)
}

// runTurn is the shared command path: exactly one user entry and one
// assistant entry join the conversation regardless of tool-call count or
// validation outcome.
func (e *Engine) runTurn(ctx context.Context, command string, generateAudio bool, onChunk func(string)) (*GameResponse, error) {
	if e.agentState == nil {
		return nil, fmt.Errorf("game: engine not initialized")
	}

	now := e.clock.Now()
	e.issues = nil
	e.core = e.core.TrackUser(command, now)
	e.agentState.AppendUser(command)

	var (
		res *agent.Result
		err error
	)
	if onChunk != nil {
		sink := &narrationSink{onChunk: onChunk}
		res, err = e.ag.RunStreaming(ctx, e.agentState, sink.feed)
		sink.finish()
	} else {
		res, err = e.ag.Run(ctx, e.agentState)
	}
	if err != nil {
		// The failed turn still consumes a step number so that a persisted
		// error step and the following successful step never collide.
		e.stepCount++
		return nil, fmt.Errorf("game: turn failed: %w", err)
	}

	turn, perr := ParseAndValidate(res.Text)
	if perr != nil {
		e.log.Warn("narrator response unparseable", "game", e.gameID, "kind", perr.Kind, "err", perr.Message)
		e.issues = append(e.issues, ValidationIssue{Code: "parse_failure", Kind: string(perr.Kind), Message: perr.Message})
		e.core = e.core.ApplySimple(ParseFailureText, e.clock.Now())
		e.stepCount++
		return &GameResponse{
			Text:         ParseFailureText,
			MessageIndex: len(e.core.ConversationHistory) - 1,
			ToolCalls:    res.ToolCalls,
		}, nil
	}

	narration := turn.NarrationText()
	resp := &GameResponse{Text: narration, ToolCalls: res.ToolCalls}

	switch turn.Type {
	case ResponseFullScene:
		if issue := CheckMovement(e.core.CurrentScene, turn.Scene); issue != nil {
			e.issues = append(e.issues, *issue)
			e.core = e.core.ApplySimple(narration, e.clock.Now())
		} else {
			e.core = e.core.ApplyScene(turn.Scene, e.clock.Now())
			resp.Scene = turn.Scene
		}
	case ResponseSimple:
		if cur := e.core.CurrentScene; cur != nil && turn.Simple.LocationID != cur.LocationID {
			e.issues = append(e.issues, ValidationIssue{
				Code:    "location_mismatch",
				Message: fmt.Sprintf("simple response names %q but the player is at %q", turn.Simple.LocationID, cur.LocationID),
			})
		}
		e.core = e.core.ApplySimple(narration, e.clock.Now())
		resp.Simple = turn.Simple
	}

	resp.MessageIndex = len(e.core.ConversationHistory) - 1

	if generateAudio && e.ttsP != nil && narration != "" {
		audio, err := e.ttsP.SynthesizeBase64(ctx, narration, e.voice)
		if err != nil {
			e.log.Warn("speech synthesis failed", "game", e.gameID, "err", err)
		} else {
			resp.Audio = audio
		}
	}

	e.stepCount++
	return resp, nil
}

// PopValidationIssues returns the non-fatal findings of the last turn and
// clears the list.
func (e *Engine) PopValidationIssues() []ValidationIssue {
	issues := e.issues
	e.issues = nil
	return issues
}

// ─── Media ────────────────────────────────────────────────────────────────────

// MediaConfigured reports whether a media service is attached.
func (e *Engine) MediaConfigured() bool { return e.media != nil }

// ShouldGenerateSceneImage reports whether resp warrants a scene
// illustration.
func (e *Engine) ShouldGenerateSceneImage(resp *GameResponse) bool {
	return e.core.ShouldGenerateSceneImage(resp.Scene != nil, resp.Text)
}

// ShouldGenerateBackgroundMusic reports whether resp warrants a new
// background track.
func (e *Engine) ShouldGenerateBackgroundMusic(resp *GameResponse) bool {
	e.mu.Lock()
	last := e.lastMood
	e.mu.Unlock()
	return e.core.ShouldGenerateBackgroundMusic(last, resp.Text)
}

// GenerateSceneImage produces (or serves from cache) the illustration for a
// turn. scene and narration must be captured from the triggering response so
// the call stays detached from subsequent commands. Returns nil when no media
// service is configured.
func (e *Engine) GenerateSceneImage(ctx context.Context, scene *GameScene, narration string) (*MediaArtifact, error) {
	if e.media == nil {
		return nil, nil
	}
	art, err := e.media.SceneImage(ctx, e.gameID, e.artStyle, scene, narration)
	if err != nil {
		return nil, fmt.Errorf("game: scene image failed: %w", err)
	}
	if scene != nil {
		e.recordMedia(scene.LocationID, art)
	}
	return art, nil
}

// GenerateBackgroundMusic produces (or serves from cache) the background
// track for a turn and remembers its mood so the next turn's should-generate
// predicate can compare against it. Returns nil when no media service is
// configured.
func (e *Engine) GenerateBackgroundMusic(ctx context.Context, scene *GameScene, narration string) (*MediaArtifact, error) {
	if e.media == nil {
		return nil, nil
	}
	art, err := e.media.BackgroundMusic(ctx, e.gameID, scene, narration)
	if err != nil {
		return nil, fmt.Errorf("game: background music failed: %w", err)
	}
	e.mu.Lock()
	e.lastMood = art.Mood
	e.mu.Unlock()
	return art, nil
}

// recordMedia notes a generated artifact in the snapshot-facing cache map.
func (e *Engine) recordMedia(locationID string, art *MediaArtifact) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mediaSeen == nil {
		e.mediaSeen = make(map[string]MediaCacheEntry, 1)
	}
	e.mediaSeen[locationID] = MediaCacheEntry{
		FilePath:    art.Path,
		Description: art.Description,
		GeneratedAt: e.clock.Now(),
	}
}

// ─── Persistence ──────────────────────────────────────────────────────────────

// Snapshot captures the complete game state for step persistence.
func (e *Engine) Snapshot() *GameState {
	now := e.clock.Now()

	e.mu.Lock()
	mediaCache := maps.Clone(e.mediaSeen)
	e.mu.Unlock()

	st := &GameState{
		GameID:              e.gameID,
		Theme:               e.theme,
		ArtStyle:            e.artStyle,
		Outline:             e.outline,
		CurrentScene:        e.core.CurrentScene,
		VisitedLocationIDs:  e.core.VisitedAsSorted(),
		ConversationHistory: slices.Clone(e.core.ConversationHistory),
		Inventory:           e.inv.Items(),
		AgentMessages:       e.AgentMessages(),
		MediaCache:          mediaCache,
		SystemPrompt:        e.systemPrompt,
		CreatedAt:           e.createdAt,
		LastPlayed:          now,
		TotalPlayTime:       (e.playBase + now.Sub(e.sessionStart)).Seconds(),
	}
	if e.outline != nil {
		st.AdventureTitle = e.outline.Title
	}
	return st
}

// Restore rebuilds the engine from a saved snapshot: core state, inventory,
// and the agent transcript all come from the snapshot, and the session play
// timer restarts at zero on top of the saved total. stepNumber is the step
// the snapshot was loaded from.
func (e *Engine) Restore(st *GameState, stepNumber int) error {
	if st == nil {
		return fmt.Errorf("game: cannot restore nil state")
	}
	if st.GameID != "" && st.GameID != e.gameID {
		return fmt.Errorf("game: snapshot belongs to %s, engine serves %s", st.GameID, e.gameID)
	}

	e.theme = st.Theme
	e.artStyle = st.ArtStyle
	e.outline = st.Outline
	e.systemPrompt = st.SystemPrompt
	if e.systemPrompt == "" {
		e.systemPrompt = BuildSystemPrompt(e.theme, e.artStyle, e.outline)
	}

	e.core = CoreState{
		CurrentScene:        st.CurrentScene,
		VisitedLocations:    VisitedFromSlice(st.VisitedLocationIDs),
		ConversationHistory: slices.Clone(st.ConversationHistory),
	}
	e.agentState = &agent.State{
		SystemPrompt: e.systemPrompt,
		Messages:     slices.Clone(st.AgentMessages),
	}
	e.inv.Replace(st.Inventory)
	e.stepCount = stepNumber
	e.issues = nil

	e.createdAt = st.CreatedAt
	e.playBase = time.Duration(st.TotalPlayTime * float64(time.Second))
	e.sessionStart = e.clock.Now()

	e.mu.Lock()
	e.mediaSeen = maps.Clone(st.MediaCache)
	e.lastMood = ""
	if st.CurrentScene != nil {
		e.lastMood = st.CurrentScene.MusicMood
	}
	e.mu.Unlock()

	e.log.Info("game restored", "game", e.gameID, "step", stepNumber)
	return nil
}

// ─── Streaming glue ───────────────────────────────────────────────────────────

// narrationSink filters the raw LLM text stream down to pure narration. The
// parser is chosen from the first non-whitespace character: a brace means the
// whole response is JSON and narration streams from its narrationText field;
// anything else means prose with a trailing marker.
type narrationSink struct {
	onChunk func(string)
	marker  *MarkerSplitter
	field   *FieldStreamer
	pending strings.Builder
}

func (n *narrationSink) feed(chunk string) {
	if n.marker == nil && n.field == nil {
		n.pending.WriteString(chunk)
		buffered := n.pending.String()
		if strings.TrimLeft(buffered, " \t\r\n") == "" {
			return
		}
		n.pending.Reset()
		if strings.TrimLeft(buffered, " \t\r\n")[0] == '{' {
			n.field = &FieldStreamer{}
		} else {
			n.marker = &MarkerSplitter{}
		}
		n.dispatch(buffered)
		return
	}
	n.dispatch(chunk)
}

func (n *narrationSink) dispatch(chunk string) {
	var out string
	switch {
	case n.field != nil:
		out = n.field.ProcessChunk(chunk)
	case n.marker != nil:
		out = n.marker.ProcessChunk(chunk)
	}
	if out != "" && n.onChunk != nil {
		n.onChunk(out)
	}
}

// finish flushes marker-prefix bytes held back at stream end.
func (n *narrationSink) finish() {
	if n.marker == nil {
		return
	}
	if out := n.marker.Finish(); out != "" && n.onChunk != nil {
		n.onChunk(out)
	}
}
