// Package session binds one connected player to one running game. A
// [Session] owns the game engine, the step journal, the player inventory and
// the detached media tasks of that game, and enforces the one-command-at-a-
// time rule: a second command arriving while one is in flight is rejected
// with [ErrBusy] rather than queued. A [Manager] tracks every live session in
// the process.
//
// Every attempted turn is journaled, failed ones included, so a crashed or
// disconnected game can always be resumed from its last recorded step.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fableloom/fableloom/internal/game"
	"github.com/fableloom/fableloom/internal/media"
	"github.com/fableloom/fableloom/internal/observe"
	"github.com/fableloom/fableloom/internal/steps"
	"github.com/fableloom/fableloom/internal/tools/inventory"
	"github.com/fableloom/fableloom/internal/vocab"
	"github.com/fableloom/fableloom/pkg/provider/stt"
	"github.com/fableloom/fableloom/pkg/types"
)

var (
	// ErrBusy reports that a command arrived while another was in flight.
	ErrBusy = errors.New("session: a command is already in flight")

	// ErrClosed reports an operation on a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrNoMedia reports that no artifact exists for the requested message.
	ErrNoMedia = errors.New("session: no media for that message")
)

// MediaNotify carries the callbacks invoked when a detached media task
// finishes. Callbacks run on pool goroutines; receivers must be safe for
// that.
type MediaNotify struct {
	// OnImage fires when a scene illustration is ready.
	OnImage func(messageIndex int, art *game.MediaArtifact)

	// OnMusic fires when a background track is ready. For one turn it always
	// fires after OnImage.
	OnMusic func(messageIndex int, art *game.MediaArtifact)
}

// Option configures a [Session] during construction.
type Option func(*Session)

// WithPool sets the worker pool for detached media generation. Without it no
// media is generated.
func WithPool(p *media.Pool) Option {
	return func(s *Session) { s.pool = p }
}

// WithMediaLookup sets the media service used to answer re-requests for past
// turns from the cache. Without it such requests report [ErrNoMedia].
func WithMediaLookup(svc *media.Service) Option {
	return func(s *Session) { s.media = svc }
}

// WithSTT sets the speech-to-text backend for voice commands.
func WithSTT(p stt.Provider) Option {
	return func(s *Session) { s.sttP = p }
}

// WithCorrector sets the transcript corrector applied to voice commands.
func WithCorrector(c *vocab.Corrector) Option {
	return func(s *Session) { s.corr = c }
}

// WithMetrics attaches instrumentation. Without it the session records
// nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.met = m }
}

// WithLogger sets the structured logger. The default is [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(c types.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// turnMedia is what a finished turn leaves behind for media work: the inputs
// the generation is keyed on, the plan decided at turn time, and any
// artifacts already produced.
type turnMedia struct {
	scene     *game.GameScene
	narration string
	image     *game.MediaArtifact
	music     *game.MediaArtifact

	imagePlanned bool
	musicPlanned bool
	scheduled    bool
}

// Session is the per-player façade over one game. All exported methods are
// safe for concurrent use; command methods additionally enforce mutual
// exclusion via [ErrBusy].
type Session struct {
	id    string
	eng   *game.Engine
	store *steps.Store
	inv   *inventory.Inventory

	pool  *media.Pool
	media *media.Service
	sttP  stt.Provider
	corr  *vocab.Corrector
	met   *observe.Metrics
	log   *slog.Logger
	clock types.Clock

	// ctx outlives any single command; detached media tasks derive from it
	// and die when the session closes.
	ctx    context.Context
	cancel context.CancelFunc

	// turnMu is held for the full duration of one command. TryLock failures
	// surface as ErrBusy.
	turnMu sync.Mutex
	closed atomic.Bool

	mu            sync.Mutex
	turnMedia     map[int]*turnMedia
	notify        MediaNotify
	imagesEnabled bool
	artStyle      string
}

// New constructs a Session for one game. eng, store and inv are the engine,
// step journal and inventory the session owns; store may be nil for an
// unpersisted game.
func New(id string, eng *game.Engine, store *steps.Store, inv *inventory.Inventory, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:            id,
		eng:           eng,
		store:         store,
		inv:           inv,
		log:           slog.Default(),
		clock:         types.SystemClock{},
		ctx:           ctx,
		cancel:        cancel,
		turnMedia:     make(map[int]*turnMedia),
		imagesEnabled: true,
		artStyle:      eng.ArtStyle(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// GameID returns the identifier of the game this session serves.
func (s *Session) GameID() string { return s.eng.GameID() }

// History returns a copy of the player-visible conversation log.
func (s *Session) History() []game.ConversationEntry { return s.eng.History() }

// CurrentScene returns the current scene, nil before the opening turn.
func (s *Session) CurrentScene() *game.GameScene { return s.eng.CurrentScene() }

// StepCount returns the number of journaled turns.
func (s *Session) StepCount() int { return s.eng.StepCount() }

// Outline returns the adventure outline, nil before the game starts.
func (s *Session) Outline() *game.AdventureOutline { return s.eng.Outline() }

// Inventory returns a copy of the player's items.
func (s *Session) Inventory() []string { return s.inv.Items() }

// SetMediaNotify installs the media-ready callbacks. Tasks scheduled before
// the call use the callbacks current at scheduling time.
func (s *Session) SetMediaNotify(n MediaNotify) {
	s.mu.Lock()
	s.notify = n
	s.mu.Unlock()
}

// SetImageGeneration toggles scene illustration for subsequent turns. The
// toggle is sticky until changed again; music is unaffected.
func (s *Session) SetImageGeneration(on bool) {
	s.mu.Lock()
	s.imagesEnabled = on
	s.mu.Unlock()
}

// acquire takes the turn lock or reports why it cannot.
func (s *Session) acquire() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.turnMu.TryLock() {
		return ErrBusy
	}
	if s.closed.Load() {
		s.turnMu.Unlock()
		return ErrClosed
	}
	return nil
}

// ─── Commands ─────────────────────────────────────────────────────────────────

// StartGame begins a new adventure. When outline is nil one is generated from
// the engine's theme. The opening turn is journaled as step 1.
func (s *Session) StartGame(ctx context.Context, outline *game.AdventureOutline, generateAudio bool) (*game.GameResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.turnMu.Unlock()

	return s.runTurn(ctx, "start", game.InitialCommand, func(ctx context.Context) (*game.GameResponse, error) {
		return s.eng.Initialize(ctx, outline, generateAudio)
	})
}

// Command runs one blocking player turn.
func (s *Session) Command(ctx context.Context, command string, generateAudio bool) (*game.GameResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.turnMu.Unlock()

	return s.runTurn(ctx, "blocking", command, func(ctx context.Context) (*game.GameResponse, error) {
		return s.eng.ProcessCommand(ctx, command, generateAudio)
	})
}

// StreamCommand runs one player turn, forwarding narration fragments to
// onChunk in arrival order before returning the full response.
func (s *Session) StreamCommand(ctx context.Context, command string, onChunk func(string), generateAudio bool) (*game.GameResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.turnMu.Unlock()

	return s.runTurn(ctx, "streaming", command, func(ctx context.Context) (*game.GameResponse, error) {
		return s.eng.ProcessCommandStreaming(ctx, command, onChunk, generateAudio)
	})
}

// AudioCommand transcribes a voice clip, corrects the transcript against the
// scene vocabulary, reports the corrected text via onTranscript, and then
// runs it as a streaming turn with narration audio. The turn lock is held
// across transcription and turn so no text command can slip in between.
func (s *Session) AudioCommand(ctx context.Context, clip stt.Clip, onTranscript func(string), onChunk func(string)) (*game.GameResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.turnMu.Unlock()

	command, err := s.transcribe(ctx, clip)
	if err != nil {
		return nil, err
	}
	if onTranscript != nil {
		onTranscript(command)
	}

	return s.runTurn(ctx, "audio", command, func(ctx context.Context) (*game.GameResponse, error) {
		return s.eng.ProcessCommandStreaming(ctx, command, onChunk, true)
	})
}

// transcribe converts the clip to text and applies vocabulary correction.
// Caller holds the turn lock.
func (s *Session) transcribe(ctx context.Context, clip stt.Clip) (string, error) {
	if s.sttP == nil {
		return "", fmt.Errorf("session: no speech-to-text provider configured")
	}
	raw, err := s.sttP.Transcribe(ctx, clip)
	if err != nil {
		return "", fmt.Errorf("session: transcription failed: %w", err)
	}
	if s.corr == nil {
		return raw, nil
	}

	vocabulary := vocab.Collect(s.eng.CurrentScene(), s.eng.Visited(), s.inv.Items())
	corrected, corrections := s.corr.Correct(raw, vocabulary)
	for _, c := range corrections {
		s.log.Debug("voice command corrected",
			"session", s.id, "heard", c.Original, "corrected", c.Corrected)
	}
	return corrected, nil
}

// runTurn executes one turn via run and performs the bookkeeping every turn
// shares: metrics, validation-issue accounting, step persistence and media
// planning. Caller holds the turn lock.
func (s *Session) runTurn(ctx context.Context, mode, command string, run func(context.Context) (*game.GameResponse, error)) (*game.GameResponse, error) {
	started := s.clock.Now()
	before := s.eng.StepCount()

	resp, err := run(ctx)
	elapsed := s.clock.Now().Sub(started)

	s.recordCommand(ctx, mode, err, elapsed)
	s.recordIssues(ctx)

	// A turn that consumed a step number gets journaled, failed ones
	// included. Initialize failing before its opening turn consumes nothing
	// and leaves no trace on disk.
	if s.eng.StepCount() > before {
		s.persistStep(command, resp, err, elapsed)
	}

	if err != nil {
		return nil, err
	}

	s.rememberTurn(resp)
	return resp, nil
}

// recordCommand feeds the command counter and latency histogram.
func (s *Session) recordCommand(ctx context.Context, mode string, err error, elapsed time.Duration) {
	if s.met == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.met.RecordCommand(ctx, mode, status, elapsed.Seconds())
}

// recordIssues drains the engine's validation findings into counters.
func (s *Session) recordIssues(ctx context.Context) {
	issues := s.eng.PopValidationIssues()
	if s.met == nil {
		return
	}
	for _, issue := range issues {
		if issue.Code == "parse_failure" {
			s.met.RecordParseFailure(ctx, issue.Kind)
		} else {
			s.met.RecordValidationRejection(ctx, issue.Code)
		}
	}
}

// persistStep writes the turn to the journal. Journal failures are logged and
// swallowed: the response already exists and the game must go on.
func (s *Session) persistStep(command string, resp *game.GameResponse, turnErr error, elapsed time.Duration) {
	if s.store == nil {
		return
	}

	step := &steps.Step{
		Meta: steps.StepMetadata{
			GameID:          s.eng.GameID(),
			StepNumber:      s.eng.StepCount(),
			Timestamp:       s.clock.Now(),
			UserCommand:     command,
			MessageCount:    len(s.eng.AgentMessages()),
			Success:         turnErr == nil,
			ExecutionTimeMs: elapsed.Milliseconds(),
		},
		State:    s.eng.Snapshot(),
		Command:  command,
		Messages: s.eng.AgentMessages(),
	}
	if turnErr != nil {
		step.Meta.Error = turnErr.Error()
	}
	if resp != nil {
		step.Meta.ResponseLength = len(resp.Text)
		step.Meta.ToolCallCount = len(resp.ToolCalls)
		step.Response = resp.Text
		step.ToolCalls = resp.ToolCalls
		switch {
		case resp.Scene != nil:
			step.Turn = &game.TurnResponse{Type: game.ResponseFullScene, Scene: resp.Scene}
		case resp.Simple != nil:
			step.Turn = &game.TurnResponse{Type: game.ResponseSimple, Simple: resp.Simple}
		}
	}
	// The outline is journaled once, with the opening step.
	if step.Meta.StepNumber == 1 {
		step.Outline = s.eng.Outline()
	}

	start := s.clock.Now()
	err := s.store.SaveStep(step)
	if s.met != nil {
		s.met.RecordStepSave(context.Background(), err == nil, s.clock.Now().Sub(start).Seconds())
	}
	if err != nil {
		s.log.Error("step not journaled",
			"session", s.id, "game", s.eng.GameID(), "step", step.Meta.StepNumber, "error", err)
		return
	}
	s.log.Debug("step journaled",
		"session", s.id, "game", s.eng.GameID(), "step", step.Meta.StepNumber, "success", step.Meta.Success)
}

// rememberTurn records the media inputs of a finished turn and decides, while
// the turn lock is still held, which artifacts the turn warrants. Generation
// itself waits for [Session.ScheduleMedia].
func (s *Session) rememberTurn(resp *game.GameResponse) {
	if resp == nil {
		return
	}
	tm := &turnMedia{scene: resp.Scene, narration: resp.Text}
	if s.pool != nil && s.eng.MediaConfigured() {
		s.mu.Lock()
		imagesOn := s.imagesEnabled
		s.mu.Unlock()
		tm.imagePlanned = imagesOn && s.eng.ShouldGenerateSceneImage(resp)
		tm.musicPlanned = s.eng.ShouldGenerateBackgroundMusic(resp)
	}
	s.mu.Lock()
	s.turnMedia[resp.MessageIndex] = tm
	s.mu.Unlock()
}

// ─── Media ────────────────────────────────────────────────────────────────────

// PlannedMedia reports which media-ready notifications the turn at
// messageIndex will produce once scheduled, so the caller can announce them
// alongside the turn's result.
func (s *Session) PlannedMedia(messageIndex int) (image, music bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tm := s.turnMedia[messageIndex]; tm != nil {
		return tm.imagePlanned, tm.musicPlanned
	}
	return false, false
}

// ScheduleMedia hands the turn's planned media work to the pool as one
// detached task. Image and music are generated sequentially inside it so the
// ready notifications for one turn always arrive image first.
//
// Callers deliver the turn's result before scheduling; notifications can fire
// the moment this returns. Scheduling the same turn twice is a no-op.
func (s *Session) ScheduleMedia(messageIndex int) {
	s.mu.Lock()
	tm := s.turnMedia[messageIndex]
	if tm == nil || tm.scheduled || (!tm.imagePlanned && !tm.musicPlanned) {
		s.mu.Unlock()
		return
	}
	tm.scheduled = true
	wantImage, wantMusic := tm.imagePlanned, tm.musicPlanned
	scene, narration := tm.scene, tm.narration
	notify := s.notify
	s.mu.Unlock()

	s.pool.Go(s.ctx, fmt.Sprintf("media %s#%d", s.eng.GameID(), messageIndex), func(ctx context.Context) error {
		var imgErr, musErr error
		if wantImage {
			var art *game.MediaArtifact
			art, imgErr = s.eng.GenerateSceneImage(ctx, scene, narration)
			if imgErr == nil && art != nil {
				s.storeImage(messageIndex, art)
				if notify.OnImage != nil {
					notify.OnImage(messageIndex, art)
				}
			}
		}
		if wantMusic {
			var art *game.MediaArtifact
			art, musErr = s.eng.GenerateBackgroundMusic(ctx, scene, narration)
			if musErr == nil && art != nil {
				s.storeMusic(messageIndex, art)
				if notify.OnMusic != nil {
					notify.OnMusic(messageIndex, art)
				}
			}
		}
		return errors.Join(imgErr, musErr)
	})
}

func (s *Session) storeImage(idx int, art *game.MediaArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tm := s.turnMedia[idx]; tm != nil {
		tm.image = art
		return
	}
	s.turnMedia[idx] = &turnMedia{image: art}
}

func (s *Session) storeMusic(idx int, art *game.MediaArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tm := s.turnMedia[idx]; tm != nil {
		tm.music = art
		return
	}
	s.turnMedia[idx] = &turnMedia{music: art}
}

// SceneImageAt returns the illustration for the turn whose assistant entry
// sits at messageIndex. Artifacts already delivered are returned from memory;
// otherwise the media cache is consulted without generating. [ErrNoMedia]
// means the client should expect none.
func (s *Session) SceneImageAt(ctx context.Context, messageIndex int) (*game.MediaArtifact, error) {
	s.mu.Lock()
	tm := s.turnMedia[messageIndex]
	var ready *game.MediaArtifact
	if tm != nil {
		ready = tm.image
	}
	artStyle := s.artStyle
	s.mu.Unlock()
	if ready != nil {
		return ready, nil
	}

	scene, narration, ok := s.turnContext(messageIndex)
	if !ok || s.media == nil {
		return nil, ErrNoMedia
	}
	art, ok := s.media.CachedSceneImage(ctx, s.eng.GameID(), artStyle, scene, narration)
	if !ok {
		return nil, ErrNoMedia
	}
	s.storeImage(messageIndex, art)
	return art, nil
}

// MusicAt returns the background track for the turn whose assistant entry
// sits at messageIndex, with the same cache-only semantics as [SceneImageAt].
func (s *Session) MusicAt(ctx context.Context, messageIndex int) (*game.MediaArtifact, error) {
	s.mu.Lock()
	tm := s.turnMedia[messageIndex]
	var ready *game.MediaArtifact
	if tm != nil {
		ready = tm.music
	}
	s.mu.Unlock()
	if ready != nil {
		return ready, nil
	}

	scene, narration, ok := s.turnContext(messageIndex)
	if !ok || s.media == nil {
		return nil, ErrNoMedia
	}
	art, ok := s.media.CachedBackgroundMusic(ctx, s.eng.GameID(), scene, narration)
	if !ok {
		return nil, ErrNoMedia
	}
	s.storeMusic(messageIndex, art)
	return art, nil
}

// turnContext recovers the media inputs for a message index. Turns run in
// this session are answered from the per-turn log; after a load, only the
// newest assistant entry can be reconstructed, from the restored scene.
func (s *Session) turnContext(idx int) (*game.GameScene, string, bool) {
	s.mu.Lock()
	tm := s.turnMedia[idx]
	s.mu.Unlock()
	if tm != nil {
		return tm.scene, tm.narration, true
	}

	// Reading engine state is only safe between commands.
	if !s.turnMu.TryLock() {
		return nil, "", false
	}
	defer s.turnMu.Unlock()

	hist := s.eng.History()
	if idx >= 0 && idx == len(hist)-1 && hist[idx].Role == "assistant" {
		return s.eng.CurrentScene(), hist[idx].Content, true
	}
	return nil, "", false
}

// ─── Load & lifecycle ─────────────────────────────────────────────────────────

// LoadGame restores the engine from the game's latest journaled step. The
// per-turn media log is reset; cached artifacts remain reachable through
// [SceneImageAt] and [MusicAt] for the restored scene.
func (s *Session) LoadGame() error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.turnMu.Unlock()

	if s.store == nil {
		return fmt.Errorf("session: no step store configured")
	}

	gameID := s.eng.GameID()
	meta, err := s.store.LoadGameMetadata(gameID)
	if err != nil {
		return fmt.Errorf("session: load %s: %w", gameID, err)
	}
	step, err := s.store.LoadStep(gameID, meta.CurrentStep)
	if err != nil {
		return fmt.Errorf("session: load %s: %w", gameID, err)
	}
	if err := s.eng.Restore(step.State, step.Meta.StepNumber); err != nil {
		return fmt.Errorf("session: load %s: %w", gameID, err)
	}

	s.mu.Lock()
	s.turnMedia = make(map[int]*turnMedia)
	s.artStyle = s.eng.ArtStyle()
	s.mu.Unlock()

	s.log.Info("game loaded", "session", s.id, "game", gameID, "step", step.Meta.StepNumber)
	return nil
}

// Close cancels the session's detached media tasks and rejects further
// commands. Safe to call more than once; a command already in flight finishes
// on its own context.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
		s.log.Debug("session closed", "session", s.id, "game", s.eng.GameID())
	}
}
