// Package steps persists one directory per game turn, append-only. A step
// directory holds the full game state snapshot plus the turn's command,
// narration, structured response, agent transcript and tool calls, each in
// its own file. metadata.json is written last and works as the commit
// marker: a directory without it was interrupted mid-save and is invisible
// to loads and listings.
//
// Layout under the store root:
//
//	{root}/{gameId}/
//	  game.json          current step, totals, play time
//	  step-0001/
//	    metadata.json    commit marker, StepMetadata
//	    state.json       GameState snapshot
//	    command.txt      player command (absent on the opening step)
//	    response.txt     narration text
//	    response.json    structured scene or action payload
//	    messages.json    agent transcript
//	    tool-calls.json  tool invocations (absent when none)
//	    outline.json     adventure outline (opening step only)
//
// Step numbers are 1-based and dense; a numbering gap means the journal was
// tampered with or partially restored and surfaces as [ErrCorruptJournal].
package steps

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fableloom/fableloom/internal/agent"
	"github.com/fableloom/fableloom/internal/game"
	"github.com/fableloom/fableloom/pkg/types"
)

var (
	// ErrNotFound reports a missing game or step.
	ErrNotFound = errors.New("steps: not found")

	// ErrCorruptJournal reports a gap in the step numbering.
	ErrCorruptJournal = errors.New("steps: step journal has gaps")
)

// StepMetadata is the commit record of one step.
type StepMetadata struct {
	GameID          string    `json:"gameId"`
	StepNumber      int       `json:"stepNumber"`
	Timestamp       time.Time `json:"timestamp"`
	UserCommand     string    `json:"userCommand,omitempty"`
	ResponseLength  int       `json:"responseLength"`
	ToolCallCount   int       `json:"toolCallCount"`
	MessageCount    int       `json:"messageCount"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
}

// GameMetadata is the per-game summary kept in game.json. currentStep doubles
// as the format discriminator: legacy single-file saves never carry it.
type GameMetadata struct {
	GameID         string    `json:"gameId"`
	Theme          string    `json:"theme,omitempty"`
	ArtStyle       string    `json:"artStyle,omitempty"`
	AdventureTitle string    `json:"adventureTitle,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastSaved      time.Time `json:"lastSaved"`
	LastPlayed     time.Time `json:"lastPlayed"`
	TotalPlayTime  float64   `json:"totalPlayTime"`
	CurrentStep    int       `json:"currentStep"`
	TotalSteps     int       `json:"totalSteps"`
}

// Step aggregates everything persisted for one turn.
type Step struct {
	Meta      StepMetadata
	State     *game.GameState
	Command   string
	Response  string
	Turn      *game.TurnResponse
	Messages  []types.Message
	ToolCalls []agent.ToolCallRecord
	Outline   *game.AdventureOutline
}

// savedResponse is the on-disk shape of response.json.
type savedResponse struct {
	Type   string               `json:"type"`
	Scene  *game.GameScene      `json:"scene,omitempty"`
	Action *game.SimpleResponse `json:"action,omitempty"`
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithStoreClock overrides the wall clock, for deterministic tests.
func WithStoreClock(clock types.Clock) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithStoreLogger sets the structured logger. The default is [slog.Default].
func WithStoreLogger(log *slog.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Store reads and writes the save tree. Step saves are single-writer per
// game (the owning session), so the store itself holds no locks.
type Store struct {
	root  string
	clock types.Clock
	log   *slog.Logger
}

// NewStore returns a Store rooted at root. The directory is created on first
// save.
func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{
		root:  root,
		clock: types.SystemClock{},
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Root returns the save tree root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) gameDir(gameID string) string {
	return filepath.Join(s.root, gameID)
}

func stepDirName(n int) string {
	return fmt.Sprintf("step-%04d", n)
}

// SaveStep writes one step directory. Body files land first; metadata.json
// goes last via a temp-file rename so a crash can never leave a committed
// step with missing bodies. After the step commits, game.json is brought up
// to date; failures there are logged and swallowed since the step directory
// is authoritative.
func (s *Store) SaveStep(step *Step) error {
	if step.Meta.GameID == "" {
		return fmt.Errorf("steps: save: missing game id")
	}
	if step.Meta.StepNumber < 1 {
		return fmt.Errorf("steps: save: step number %d out of range", step.Meta.StepNumber)
	}

	dir := filepath.Join(s.gameDir(step.Meta.GameID), stepDirName(step.Meta.StepNumber))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("steps: create step dir: %w", err)
	}

	// Body files. Any failure aborts before the commit marker exists and
	// removes the partial directory.
	if err := s.writeBodies(dir, step); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.log.Warn("partial step dir not cleaned up", "dir", dir, "error", rmErr)
		}
		return err
	}

	// Commit marker.
	if err := writeJSONAtomic(dir, "metadata.json", step.Meta); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.log.Warn("partial step dir not cleaned up", "dir", dir, "error", rmErr)
		}
		return fmt.Errorf("steps: commit step %d: %w", step.Meta.StepNumber, err)
	}

	s.updateGameMetadata(step)
	return nil
}

// writeBodies writes every step file except the commit marker.
func (s *Store) writeBodies(dir string, step *Step) error {
	if err := writeJSON(dir, "state.json", step.State); err != nil {
		return fmt.Errorf("steps: write state: %w", err)
	}
	if step.Command != "" {
		if err := os.WriteFile(filepath.Join(dir, "command.txt"), []byte(step.Command), 0o644); err != nil {
			return fmt.Errorf("steps: write command: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "response.txt"), []byte(step.Response), 0o644); err != nil {
		return fmt.Errorf("steps: write response text: %w", err)
	}
	if step.Turn != nil {
		if err := writeJSON(dir, "response.json", toSavedResponse(step.Turn)); err != nil {
			return fmt.Errorf("steps: write response: %w", err)
		}
	}
	messages := step.Messages
	if messages == nil {
		messages = []types.Message{}
	}
	if err := writeJSON(dir, "messages.json", messages); err != nil {
		return fmt.Errorf("steps: write messages: %w", err)
	}
	if len(step.ToolCalls) > 0 {
		if err := writeJSON(dir, "tool-calls.json", step.ToolCalls); err != nil {
			return fmt.Errorf("steps: write tool calls: %w", err)
		}
	}
	if step.Outline != nil {
		if err := writeJSON(dir, "outline.json", step.Outline); err != nil {
			return fmt.Errorf("steps: write outline: %w", err)
		}
	}
	return nil
}

// LoadStep reads one committed step. Optional files may be absent; a
// response.json that fails to parse downgrades to a nil Turn with a warning
// instead of failing the load.
func (s *Store) LoadStep(gameID string, n int) (*Step, error) {
	dir := filepath.Join(s.gameDir(gameID), stepDirName(n))

	metaRaw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("steps: step %d of %s: %w", n, gameID, ErrNotFound)
		}
		return nil, fmt.Errorf("steps: read step metadata: %w", err)
	}

	step := &Step{}
	if err := json.Unmarshal(metaRaw, &step.Meta); err != nil {
		return nil, fmt.Errorf("steps: decode step metadata: %w", err)
	}

	stateRaw, err := os.ReadFile(filepath.Join(dir, "state.json"))
	if err != nil {
		return nil, fmt.Errorf("steps: read state: %w", err)
	}
	step.State = &game.GameState{}
	if err := json.Unmarshal(stateRaw, step.State); err != nil {
		return nil, fmt.Errorf("steps: decode state: %w", err)
	}

	respRaw, err := os.ReadFile(filepath.Join(dir, "response.txt"))
	if err != nil {
		return nil, fmt.Errorf("steps: read response text: %w", err)
	}
	step.Response = string(respRaw)

	if cmdRaw, err := os.ReadFile(filepath.Join(dir, "command.txt")); err == nil {
		step.Command = string(cmdRaw)
	}

	if turnRaw, err := os.ReadFile(filepath.Join(dir, "response.json")); err == nil {
		var saved savedResponse
		if err := json.Unmarshal(turnRaw, &saved); err != nil {
			s.log.Warn("step response payload unreadable, loading without it",
				"game_id", gameID, "step", n, "error", err)
		} else if turn := fromSavedResponse(&saved); turn != nil {
			step.Turn = turn
		} else {
			s.log.Warn("step response payload has unknown type, loading without it",
				"game_id", gameID, "step", n, "type", saved.Type)
		}
	}

	if msgRaw, err := os.ReadFile(filepath.Join(dir, "messages.json")); err == nil {
		if err := json.Unmarshal(msgRaw, &step.Messages); err != nil {
			return nil, fmt.Errorf("steps: decode messages: %w", err)
		}
	}

	if tcRaw, err := os.ReadFile(filepath.Join(dir, "tool-calls.json")); err == nil {
		if err := json.Unmarshal(tcRaw, &step.ToolCalls); err != nil {
			return nil, fmt.Errorf("steps: decode tool calls: %w", err)
		}
	}

	if outRaw, err := os.ReadFile(filepath.Join(dir, "outline.json")); err == nil {
		var outline game.AdventureOutline
		if err := json.Unmarshal(outRaw, &outline); err != nil {
			return nil, fmt.Errorf("steps: decode outline: %w", err)
		}
		step.Outline = &outline
	}

	return step, nil
}

// ListSteps returns the committed step numbers of a game in ascending order.
// Directories without a commit marker are skipped. A gap in the numbering
// returns the steps found so far plus [ErrCorruptJournal].
func (s *Store) ListSteps(gameID string) ([]int, error) {
	entries, err := os.ReadDir(s.gameDir(gameID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("steps: game %s: %w", gameID, ErrNotFound)
		}
		return nil, fmt.Errorf("steps: list steps: %w", err)
	}

	var nums []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(e.Name(), "step-%04d", &n); err != nil || n < 1 {
			continue
		}
		if stepDirName(n) != e.Name() {
			continue
		}
		// Uncommitted directories are invisible.
		if _, err := os.Stat(filepath.Join(s.gameDir(gameID), e.Name(), "metadata.json")); err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)

	for i, n := range nums {
		if n != i+1 {
			return nums, fmt.Errorf("steps: game %s: expected step %d, found %d: %w",
				gameID, i+1, n, ErrCorruptJournal)
		}
	}
	return nums, nil
}

// LatestStep loads the most recent committed step of a game.
func (s *Store) LatestStep(gameID string) (*Step, error) {
	nums, err := s.ListSteps(gameID)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("steps: game %s has no committed steps: %w", gameID, ErrNotFound)
	}
	return s.LoadStep(gameID, nums[len(nums)-1])
}

// toSavedResponse maps a turn to the persisted scene/action shape.
func toSavedResponse(turn *game.TurnResponse) *savedResponse {
	switch turn.Type {
	case game.ResponseFullScene:
		return &savedResponse{Type: "scene", Scene: turn.Scene}
	case game.ResponseSimple:
		return &savedResponse{Type: "action", Action: turn.Simple}
	}
	return &savedResponse{Type: string(turn.Type)}
}

// fromSavedResponse maps the persisted shape back, or nil for unknown types.
func fromSavedResponse(saved *savedResponse) *game.TurnResponse {
	switch saved.Type {
	case "scene":
		if saved.Scene == nil {
			return nil
		}
		return &game.TurnResponse{Type: game.ResponseFullScene, Scene: saved.Scene}
	case "action":
		if saved.Action == nil {
			return nil
		}
		return &game.TurnResponse{Type: game.ResponseSimple, Simple: saved.Action}
	}
	return nil
}

// writeJSON writes v as two-space-indented UTF-8 JSON with a trailing LF.
func writeJSON(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), append(data, '\n'), 0o644)
}

// writeJSONAtomic writes v to a temp file in dir and renames it into place.
func writeJSONAtomic(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}
