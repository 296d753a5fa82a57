package steps

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fableloom/fableloom/internal/game"
)

const gameMetaFile = "game.json"

// updateGameMetadata reloads game.json after a step save and advances it.
// Failures are logged, never returned: the committed step directory is the
// source of truth and the metadata can be rebuilt from it.
func (s *Store) updateGameMetadata(step *Step) {
	now := s.clock.Now()

	meta, err := s.readGameMetadata(step.Meta.GameID)
	if err != nil {
		meta = metadataFromState(step.Meta.GameID, step.State)
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = now
		}
	}

	meta.CurrentStep = step.Meta.StepNumber
	if step.Meta.StepNumber > meta.TotalSteps {
		meta.TotalSteps = step.Meta.StepNumber
	}
	meta.LastSaved = now
	meta.LastPlayed = now
	if step.State != nil {
		// The engine accumulates play time across sessions in its snapshot.
		if step.State.TotalPlayTime > meta.TotalPlayTime {
			meta.TotalPlayTime = step.State.TotalPlayTime
		}
		if step.State.AdventureTitle != "" {
			meta.AdventureTitle = step.State.AdventureTitle
		}
	}

	if err := s.writeGameMetadata(meta); err != nil {
		s.log.Warn("game metadata not updated after step save",
			"game_id", step.Meta.GameID, "step", step.Meta.StepNumber, "error", err)
	}
}

// LoadGameMetadata returns a game's game.json, migrating a legacy single-file
// save on first contact. A game directory whose game.json is missing is
// rebuilt from the latest committed step.
func (s *Store) LoadGameMetadata(gameID string) (*GameMetadata, error) {
	if _, err := os.Stat(s.gameDir(gameID)); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("steps: stat game dir: %w", err)
		}
		if migrated, merr := s.migrateLegacy(gameID); merr != nil {
			return nil, merr
		} else if !migrated {
			return nil, fmt.Errorf("steps: game %s: %w", gameID, ErrNotFound)
		}
	} else {
		// A leftover legacy file next to a migrated directory means a prior
		// migration crashed between commit and cleanup. Finish the job.
		s.removeLegacyFile(gameID)
	}

	meta, err := s.readGameMetadata(gameID)
	if err == nil {
		return meta, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("steps: read game metadata: %w", err)
	}

	s.log.Warn("game metadata missing, rebuilding from steps", "game_id", gameID)
	return s.rebuildGameMetadata(gameID)
}

// rebuildGameMetadata reconstructs game.json from the latest committed step.
func (s *Store) rebuildGameMetadata(gameID string) (*GameMetadata, error) {
	step, err := s.LatestStep(gameID)
	if err != nil {
		return nil, err
	}

	meta := metadataFromState(gameID, step.State)
	meta.CurrentStep = step.Meta.StepNumber
	meta.TotalSteps = step.Meta.StepNumber
	meta.LastSaved = step.Meta.Timestamp
	meta.LastPlayed = step.Meta.Timestamp
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = step.Meta.Timestamp
	}

	if err := s.writeGameMetadata(meta); err != nil {
		return nil, fmt.Errorf("steps: rebuild game metadata: %w", err)
	}
	return meta, nil
}

// metadataFromState seeds game.json fields from a state snapshot.
func metadataFromState(gameID string, st *game.GameState) *GameMetadata {
	meta := &GameMetadata{GameID: gameID}
	if st == nil {
		return meta
	}
	meta.Theme = st.Theme
	meta.ArtStyle = st.ArtStyle
	meta.AdventureTitle = st.AdventureTitle
	meta.CreatedAt = st.CreatedAt
	meta.TotalPlayTime = st.TotalPlayTime
	return meta
}

func (s *Store) readGameMetadata(gameID string) (*GameMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.gameDir(gameID), gameMetaFile))
	if err != nil {
		return nil, err
	}
	var meta GameMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) writeGameMetadata(meta *GameMetadata) error {
	dir := s.gameDir(meta.GameID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeJSONAtomic(dir, gameMetaFile, meta)
}

// ListGames returns every loadable game sorted by last played, most recent
// first. Games whose metadata cannot be read are skipped with a warning.
func (s *Store) ListGames() []GameMetadata {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("saves root unreadable", "root", s.root, "error", err)
		}
		return nil
	}

	var games []GameMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.readGameMetadata(e.Name())
		if err != nil {
			s.log.Warn("game skipped, metadata unreadable", "game_id", e.Name(), "error", err)
			continue
		}
		games = append(games, *meta)
	}

	sort.Slice(games, func(i, j int) bool {
		return games[i].LastPlayed.After(games[j].LastPlayed)
	})
	return games
}

// DeleteGame removes a game's directory recursively, plus any legacy
// single-file save under the same id. Deleting a game that does not exist
// returns [ErrNotFound].
func (s *Store) DeleteGame(gameID string) error {
	dir := s.gameDir(gameID)
	_, dirErr := os.Stat(dir)
	_, legacyErr := os.Stat(s.legacyPath(gameID))
	if os.IsNotExist(dirErr) && os.IsNotExist(legacyErr) {
		return fmt.Errorf("steps: game %s: %w", gameID, ErrNotFound)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("steps: delete game %s: %w", gameID, err)
	}
	s.removeLegacyFile(gameID)
	return nil
}

// ─── Legacy migration ─────────────────────────────────────────────────────────

func (s *Store) legacyPath(gameID string) string {
	return filepath.Join(s.root, gameID+".json")
}

// migrateLegacy converts a single-file save into step-1 directory form.
// Returns false when no legacy file exists. The legacy file is deleted last,
// so a crash mid-migration re-runs harmlessly: the directory check in
// [Store.LoadGameMetadata] wins on the next attempt.
func (s *Store) migrateLegacy(gameID string) (bool, error) {
	data, err := os.ReadFile(s.legacyPath(gameID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("steps: read legacy save: %w", err)
	}

	var st game.GameState
	if err := json.Unmarshal(data, &st); err != nil {
		return false, fmt.Errorf("steps: decode legacy save %s: %w", gameID, err)
	}

	s.log.Info("migrating legacy save to step format", "game_id", gameID)

	narration := lastAssistantEntry(st.ConversationHistory)
	timestamp := st.LastPlayed
	if timestamp.IsZero() {
		timestamp = s.clock.Now()
	}

	step := &Step{
		Meta: StepMetadata{
			GameID:         gameID,
			StepNumber:     1,
			Timestamp:      timestamp,
			ResponseLength: len(narration),
			MessageCount:   len(st.AgentMessages),
			Success:        true,
		},
		State:    &st,
		Response: narration,
		Messages: st.AgentMessages,
		Outline:  st.Outline,
	}
	if st.CurrentScene != nil {
		step.Turn = &game.TurnResponse{Type: game.ResponseFullScene, Scene: st.CurrentScene}
	}

	if err := s.SaveStep(step); err != nil {
		return false, fmt.Errorf("steps: migrate legacy save %s: %w", gameID, err)
	}

	// SaveStep stamped lastSaved/lastPlayed with the migration time; restore
	// the history the legacy file recorded.
	meta := metadataFromState(gameID, &st)
	meta.CurrentStep = 1
	meta.TotalSteps = 1
	meta.LastSaved = timestamp
	meta.LastPlayed = timestamp
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = timestamp
	}
	if err := s.writeGameMetadata(meta); err != nil {
		s.log.Warn("migrated game metadata not rewritten", "game_id", gameID, "error", err)
	}

	s.removeLegacyFile(gameID)
	return true, nil
}

// removeLegacyFile deletes a leftover legacy save, best-effort.
func (s *Store) removeLegacyFile(gameID string) {
	err := os.Remove(s.legacyPath(gameID))
	if err == nil {
		s.log.Debug("legacy save file removed", "game_id", gameID)
		return
	}
	if !os.IsNotExist(err) {
		s.log.Warn("legacy save file not removed", "game_id", gameID, "error", err)
	}
}

// lastAssistantEntry returns the content of the most recent assistant turn.
func lastAssistantEntry(history []game.ConversationEntry) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return history[i].Content
		}
	}
	return ""
}
