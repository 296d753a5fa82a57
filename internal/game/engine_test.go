package game

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fableloom/fableloom/internal/agent"
	"github.com/fableloom/fableloom/internal/tools/inventory"
	"github.com/fableloom/fableloom/pkg/provider/llm"
	llmmock "github.com/fableloom/fableloom/pkg/provider/llm/mock"
)

const hallRaw = "Torchlight gutters over the vaulted hall.\n" + Marker + "\n" +
	`{"responseType":"fullScene","locationId":"great_hall","locationName":"The Great Hall",` +
	`"imageDescription":"a vaulted stone hall","musicMood":"castle",` +
	`"exits":[{"direction":"north","targetLocationId":"armory","state":"open"},` +
	`{"direction":"east","targetLocationId":"vault","state":"locked"}]}`

const armoryMoveRaw = "Racks of pitted steel line the walls.\n" + Marker + "\n" +
	`{"responseType":"fullScene","locationId":"armory","locationName":"The Armory","musicMood":"mystery"}`

func hallOutline() *AdventureOutline {
	return &AdventureOutline{Title: "The Hollow Crown", MainQuest: "Recover the regalia."}
}

func newTestEngine(llmP llm.Provider, opts ...Option) *Engine {
	inv := inventory.New()
	return New("game-0000000a", "dark fantasy", "pixel", agent.New(llmP, nil), inv, opts...)
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

func TestEngineInitialize(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: hallRaw}}
	e := newTestEngine(llmP)

	resp, err := e.Initialize(context.Background(), hallOutline(), false)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if resp.Scene == nil || resp.Scene.LocationID != "great_hall" {
		t.Fatalf("opening scene = %+v", resp.Scene)
	}
	if resp.MessageIndex != 1 {
		t.Errorf("MessageIndex = %d, want 1", resp.MessageIndex)
	}
	if e.StepCount() != 1 {
		t.Errorf("StepCount = %d, want 1", e.StepCount())
	}
	if got := e.Visited(); len(got) != 1 || got[0] != "great_hall" {
		t.Errorf("Visited = %v", got)
	}

	hist := e.History()
	if len(hist) != 2 || hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Fatalf("history = %+v", hist)
	}
	if hist[0].Content != InitialCommand {
		t.Errorf("opening user entry = %q, want the synthetic command", hist[0].Content)
	}
	if !strings.Contains(hist[1].Content, "Torchlight") {
		t.Errorf("assistant entry = %q", hist[1].Content)
	}
}

func TestEngineInitializeGeneratesOutline(t *testing.T) {
	t.Parallel()

	outlineRaw := `{"title":"The Sunken Bell","mainQuest":"Silence the bell beneath the lake.",` +
		`"keyLocations":["lakeshore","drowned_chapel"]}`
	llmP := &llmmock.Provider{CompleteQueue: []*llm.CompletionResponse{
		{Content: outlineRaw},
		{Content: hallRaw},
	}}
	e := newTestEngine(llmP)

	if _, err := e.Initialize(context.Background(), nil, false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if o := e.Outline(); o == nil || o.Title != "The Sunken Bell" {
		t.Errorf("Outline = %+v", o)
	}
	if len(llmP.CompleteCalls) != 2 {
		t.Errorf("Complete called %d times, want 2 (outline, then opening turn)", len(llmP.CompleteCalls))
	}
}

func TestEngineCommandBeforeInitialize(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&llmmock.Provider{})
	if _, err := e.ProcessCommand(context.Background(), "look", false); err == nil {
		t.Fatal("ProcessCommand succeeded on an uninitialized engine")
	}
}

// ─── Movement gate ────────────────────────────────────────────────────────────

func TestEngineMovementThroughOpenExit(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteQueue: []*llm.CompletionResponse{
		{Content: hallRaw},
		{Content: armoryMoveRaw},
	}}
	e := newTestEngine(llmP)

	if _, err := e.Initialize(context.Background(), hallOutline(), false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	resp, err := e.ProcessCommand(context.Background(), "go north", false)
	if err != nil {
		t.Fatalf("ProcessCommand failed: %v", err)
	}
	if resp.Scene == nil || resp.Scene.LocationID != "armory" {
		t.Fatalf("scene = %+v, want armory", resp.Scene)
	}
	if issues := e.PopValidationIssues(); len(issues) != 0 {
		t.Errorf("issues = %+v, want none", issues)
	}
}

func TestEngineMovementRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		nextRaw  string
		wantCode string
	}{
		{
			name: "locked exit",
			nextRaw: "The vault swallows you.\n" + Marker + "\n" +
				`{"responseType":"fullScene","locationId":"vault","locationName":"The Vault"}`,
			wantCode: "movement_blocked",
		},
		{
			name: "no exit leads there",
			nextRaw: "You blink and stand in the throne room.\n" + Marker + "\n" +
				`{"responseType":"fullScene","locationId":"throne_room","locationName":"Throne Room"}`,
			wantCode: "movement_no_exit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			llmP := &llmmock.Provider{CompleteQueue: []*llm.CompletionResponse{
				{Content: hallRaw},
				{Content: tt.nextRaw},
			}}
			e := newTestEngine(llmP)
			if _, err := e.Initialize(context.Background(), hallOutline(), false); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}

			resp, err := e.ProcessCommand(context.Background(), "push through", false)
			if err != nil {
				t.Fatalf("a rejected move must still answer the player: %v", err)
			}

			// The narration is kept, the transition is not.
			if resp.Scene != nil {
				t.Errorf("rejected move produced a scene: %+v", resp.Scene)
			}
			if cur := e.CurrentScene(); cur == nil || cur.LocationID != "great_hall" {
				t.Errorf("player moved to %+v", cur)
			}

			issues := e.PopValidationIssues()
			if len(issues) != 1 || issues[0].Code != tt.wantCode {
				t.Fatalf("issues = %+v, want one %s", issues, tt.wantCode)
			}
			if again := e.PopValidationIssues(); len(again) != 0 {
				t.Errorf("issues not cleared by Pop: %+v", again)
			}
		})
	}
}

// ─── Degraded turns ───────────────────────────────────────────────────────────

func TestEngineParseFailureTurn(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteQueue: []*llm.CompletionResponse{
		{Content: hallRaw},
		{Content: "The narrator trails off without structure."},
	}}
	e := newTestEngine(llmP)

	if _, err := e.Initialize(context.Background(), hallOutline(), false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	resp, err := e.ProcessCommand(context.Background(), "look around", false)
	if err != nil {
		t.Fatalf("parse failure must not fail the turn: %v", err)
	}
	if resp.Text != ParseFailureText {
		t.Errorf("Text = %q", resp.Text)
	}
	if e.StepCount() != 2 {
		t.Errorf("StepCount = %d, want 2; a degraded turn still counts", e.StepCount())
	}

	issues := e.PopValidationIssues()
	if len(issues) != 1 || issues[0].Code != "parse_failure" {
		t.Fatalf("issues = %+v", issues)
	}
	if issues[0].Kind != string(ParseMissingJSON) {
		t.Errorf("Kind = %q, want %q", issues[0].Kind, ParseMissingJSON)
	}
}

func TestEngineFailedTurnConsumesStep(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: hallRaw}}
	e := newTestEngine(llmP)
	if _, err := e.Initialize(context.Background(), hallOutline(), false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	llmP.CompleteErr = errors.New("provider down")
	if _, err := e.ProcessCommand(context.Background(), "go north", false); err == nil {
		t.Fatal("ProcessCommand succeeded despite provider failure")
	}
	if e.StepCount() != 2 {
		t.Errorf("StepCount = %d, want 2; the failed turn takes its number", e.StepCount())
	}
}

// ─── Persistence ──────────────────────────────────────────────────────────────

func TestEngineSnapshotRestore(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteQueue: []*llm.CompletionResponse{
		{Content: hallRaw},
		{Content: armoryMoveRaw},
	}}
	e := newTestEngine(llmP)
	if _, err := e.Initialize(context.Background(), hallOutline(), false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := e.ProcessCommand(context.Background(), "go north", false); err != nil {
		t.Fatalf("ProcessCommand failed: %v", err)
	}

	st := e.Snapshot()
	if st.GameID != "game-0000000a" || st.ArtStyle != "pixel" {
		t.Errorf("snapshot identity = %q/%q", st.GameID, st.ArtStyle)
	}
	if st.CurrentScene == nil || st.CurrentScene.LocationID != "armory" {
		t.Errorf("snapshot scene = %+v", st.CurrentScene)
	}
	if len(st.VisitedLocationIDs) != 2 {
		t.Errorf("visited = %v", st.VisitedLocationIDs)
	}
	if st.AdventureTitle != "The Hollow Crown" {
		t.Errorf("AdventureTitle = %q", st.AdventureTitle)
	}

	restored := newTestEngine(&llmmock.Provider{})
	if err := restored.Restore(st, 2); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.StepCount() != 2 {
		t.Errorf("StepCount = %d, want 2", restored.StepCount())
	}
	if sc := restored.CurrentScene(); sc == nil || sc.LocationID != "armory" {
		t.Errorf("restored scene = %+v", sc)
	}
	if len(restored.History()) != len(e.History()) {
		t.Errorf("history length = %d, want %d", len(restored.History()), len(e.History()))
	}
	if len(restored.AgentMessages()) != len(e.AgentMessages()) {
		t.Errorf("agent transcript length = %d, want %d", len(restored.AgentMessages()), len(e.AgentMessages()))
	}
	if o := restored.Outline(); o == nil || o.Title != "The Hollow Crown" {
		t.Errorf("restored outline = %+v", o)
	}
}

func TestEngineRestoreRejectsForeignSnapshot(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&llmmock.Provider{})
	err := e.Restore(&GameState{GameID: "game-000000ff"}, 1)
	if err == nil {
		t.Fatal("Restore accepted a snapshot from another game")
	}
}

func TestEngineSnapshotIsolatedFromLaterTurns(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteQueue: []*llm.CompletionResponse{
		{Content: hallRaw},
		{Content: armoryMoveRaw},
	}}
	e := newTestEngine(llmP)
	if _, err := e.Initialize(context.Background(), hallOutline(), false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	st := e.Snapshot()
	before := len(st.ConversationHistory)

	if _, err := e.ProcessCommand(context.Background(), "go north", false); err != nil {
		t.Fatalf("ProcessCommand failed: %v", err)
	}
	if len(st.ConversationHistory) != before {
		t.Errorf("snapshot history grew from %d to %d", before, len(st.ConversationHistory))
	}
}

// ─── Media hooks ──────────────────────────────────────────────────────────────

func TestEngineMediaPredicates(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: hallRaw}}
	e := newTestEngine(llmP)
	resp, err := e.Initialize(context.Background(), hallOutline(), false)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !e.ShouldGenerateSceneImage(resp) {
		t.Error("a full scene must warrant an illustration")
	}
	if !e.ShouldGenerateBackgroundMusic(resp) {
		t.Error("the first scene must warrant a track")
	}

	// Without a media service, generation is a silent no-op.
	art, err := e.GenerateSceneImage(context.Background(), resp.Scene, resp.Text)
	if art != nil || err != nil {
		t.Errorf("GenerateSceneImage = %v, %v, want nil, nil", art, err)
	}
	art, err = e.GenerateBackgroundMusic(context.Background(), resp.Scene, resp.Text)
	if art != nil || err != nil {
		t.Errorf("GenerateBackgroundMusic = %v, %v, want nil, nil", art, err)
	}
}
