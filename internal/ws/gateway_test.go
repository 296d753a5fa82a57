package ws_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/fableloom/fableloom/internal/agent"
	"github.com/fableloom/fableloom/internal/game"
	"github.com/fableloom/fableloom/internal/ids"
	"github.com/fableloom/fableloom/internal/media"
	"github.com/fableloom/fableloom/internal/session"
	"github.com/fableloom/fableloom/internal/steps"
	"github.com/fableloom/fableloom/internal/tools/inventory"
	"github.com/fableloom/fableloom/internal/vocab"
	"github.com/fableloom/fableloom/internal/ws"
	imagemock "github.com/fableloom/fableloom/pkg/provider/image/mock"
	"github.com/fableloom/fableloom/pkg/provider/llm"
	llmmock "github.com/fableloom/fableloom/pkg/provider/llm/mock"
	musicmock "github.com/fableloom/fableloom/pkg/provider/music/mock"
	sttmock "github.com/fableloom/fableloom/pkg/provider/stt/mock"
	"github.com/fableloom/fableloom/pkg/types"
)

// openingRaw is a narrator response announcing the starting scene.
const openingRaw = "Torchlight gutters over the vaulted hall.\n" + game.Marker + "\n" +
	`{"responseType":"fullScene","locationId":"great_hall","locationName":"The Great Hall",` +
	`"imageDescription":"a vaulted stone hall lit by torches","musicMood":"castle",` +
	`"exits":[{"direction":"north","targetLocationId":"armory","state":"open"}],` +
	`"npcs":["eldrinax"]}`

// armoryRaw is a narrator response for moving through the north exit.
const armoryRaw = "Racks of pitted steel line the armory walls.\n" + game.Marker + "\n" +
	`{"responseType":"fullScene","locationId":"armory","locationName":"The Armory",` +
	`"imageDescription":"an armory crowded with weapon racks","musicMood":"mystery"}`

// armoryStream is armoryRaw sliced into stream chunks.
var armoryStream = []llm.Chunk{
	{Text: "Racks of pitted steel "},
	{Text: "line the armory walls."},
	{Text: "\n" + game.Marker + "\n" + `{"responseType":"fullScene","locationId":"armory","locationName":"The Armory"}`},
	{FinishReason: "stop"},
}

// frame is the union of every server frame, for decoding in assertions.
type frame struct {
	Type             string                   `json:"type"`
	Message          string                   `json:"message"`
	Version          string                   `json:"version"`
	ServerInstanceID string                   `json:"serverInstanceId"`
	SessionID        string                   `json:"sessionId"`
	GameID           string                   `json:"gameId"`
	Text             string                   `json:"text"`
	Command          string                   `json:"command"`
	MessageIndex     int                      `json:"messageIndex"`
	ChunkNumber      int                      `json:"chunkNumber"`
	TotalChunks      int                      `json:"totalChunks"`
	Duration         float64                  `json:"duration"`
	Scene            *game.GameScene          `json:"scene"`
	CurrentScene     *game.GameScene          `json:"currentScene"`
	CurrentLocation  string                   `json:"currentLocation"`
	Conversation     []game.ConversationEntry `json:"conversation"`
	HasImage         bool                     `json:"hasImage"`
	HasMusic         bool                     `json:"hasMusic"`
	Image            string                   `json:"image"`
	Music            string                   `json:"music"`
	Mood             string                   `json:"mood"`
	Games            []steps.GameMetadata     `json:"games"`
	Error            string                   `json:"error"`
	Details          string                   `json:"details"`
	Timestamp        int64                    `json:"timestamp"`
}

// ── Helpers ───────────────────────────────────────────────────────────────────

type testStack struct {
	mgr   *session.Manager
	store *steps.Store
	srv   *httptest.Server
}

// newStack serves a gateway whose factory wires each session over a shared
// store and the given providers.
func newStack(t *testing.T, llmP llm.Provider, engOpts []game.Option, sessOpts []session.Option) *testStack {
	t.Helper()
	store := steps.NewStore(t.TempDir())
	mgr := session.NewManager()
	factory := func(id string, spec ws.GameSpec) (*session.Session, error) {
		inv := inventory.New()
		eng := game.New(spec.GameID, spec.Theme, spec.ArtStyle, agent.New(llmP, nil), inv, engOpts...)
		return session.New(id, eng, store, inv, sessOpts...), nil
	}
	gw := ws.NewGateway(factory, mgr, store, ws.WithVersion("test"))
	srv := httptest.NewServer(gw)
	t.Cleanup(mgr.CloseAll)
	t.Cleanup(srv.Close)
	return &testStack{mgr: mgr, store: store, srv: srv}
}

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// dial opens a client connection and consumes the connected frame.
func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	if f := readFrame(t, conn); f.Type != ws.TypeConnected {
		t.Fatalf("first frame = %q, want connected", f.Type)
	}
	return conn
}

// readFrame reads one server frame with a timeout.
func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

// sendFrame marshals v and sends it as a text frame.
func sendFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// startAdventure sends newGame with a client-supplied outline, so the mock's
// scripted responses all go to turns, and returns the gameStarted frame.
func startAdventure(t *testing.T, conn *websocket.Conn, imageGeneration *bool) frame {
	t.Helper()
	sendFrame(t, conn, ws.ClientMessage{
		Type:             ws.TypeNewGame,
		ImageGeneration:  imageGeneration,
		AdventureOutline: &game.AdventureOutline{Title: "The Hollow Crown", MainQuest: "Recover the regalia."},
	})
	f := readFrame(t, conn)
	if f.Type != ws.TypeGameStarted {
		t.Fatalf("frame = %+v, want gameStarted", f)
	}
	return f
}

func boolPtr(b bool) *bool { return &b }

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

// ── Handshake ─────────────────────────────────────────────────────────────────

func TestGatewayConnectedFrame(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: openingRaw}}
	st := newStack(t, llmP, nil, nil)

	conn, _, err := websocket.Dial(context.Background(), wsURL(st.srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	f := readFrame(t, conn)
	if f.Type != ws.TypeConnected {
		t.Fatalf("type = %q, want connected", f.Type)
	}
	if f.Version != "test" {
		t.Errorf("version = %q, want test", f.Version)
	}
	if f.ServerInstanceID == "" {
		t.Error("serverInstanceId is empty")
	}

	// The instance id is process-wide: a second connection sees the same one.
	conn2, _, err := websocket.Dial(context.Background(), wsURL(st.srv), nil)
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	defer conn2.Close(websocket.StatusNormalClosure, "done")
	if f2 := readFrame(t, conn2); f2.ServerInstanceID != f.ServerInstanceID {
		t.Errorf("instance id changed between connections: %q vs %q", f2.ServerInstanceID, f.ServerInstanceID)
	}
}

func TestGatewayPingPong(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypePing, Timestamp: 1724572800123})
	f := readFrame(t, conn)
	if f.Type != ws.TypePong || f.Timestamp != 1724572800123 {
		t.Errorf("frame = %+v, want pong echoing the timestamp", f)
	}
}

// ── New games ─────────────────────────────────────────────────────────────────

func TestGatewayNewGameStartsAdventure(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: openingRaw}}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)

	sendFrame(t, conn, ws.ClientMessage{
		Type:             ws.TypeNewGame,
		Theme:            "haunted lighthouse",
		ArtStyle:         "pencil",
		ImageGeneration:  boolPtr(false),
		AdventureOutline: &game.AdventureOutline{Title: "The Hollow Crown", MainQuest: "Recover the regalia."},
	})

	f := readFrame(t, conn)
	if f.Type != ws.TypeGameStarted {
		t.Fatalf("frame = %+v, want gameStarted", f)
	}
	if !ids.Valid(f.SessionID) || !strings.HasPrefix(f.SessionID, "sess-") {
		t.Errorf("sessionId = %q", f.SessionID)
	}
	if !ids.Valid(f.GameID) || !strings.HasPrefix(f.GameID, "game-") {
		t.Errorf("gameId = %q", f.GameID)
	}
	if f.MessageIndex != 1 {
		t.Errorf("messageIndex = %d, want 1", f.MessageIndex)
	}
	if f.Scene == nil || f.Scene.LocationID != "great_hall" {
		t.Errorf("scene = %+v, want great_hall", f.Scene)
	}
	if !strings.Contains(f.Text, "Torchlight") {
		t.Errorf("text = %q", f.Text)
	}
	// No media service is wired, so the turn plans nothing.
	if f.HasImage || f.HasMusic {
		t.Errorf("hasImage/hasMusic = %v/%v, want false/false", f.HasImage, f.HasMusic)
	}

	if st.mgr.Len() != 1 {
		t.Errorf("registered sessions = %d, want 1", st.mgr.Len())
	}
	if _, err := st.store.LoadStep(f.GameID, 1); err != nil {
		t.Errorf("opening step not journaled: %v", err)
	}
}

func TestGatewayNewGameFailureLeavesNothingRegistered(t *testing.T) {
	t.Parallel()

	// No outline in the frame and Complete fails: outline generation dies
	// before the opening turn.
	llmP := &llmmock.Provider{CompleteErr: context.DeadlineExceeded}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeNewGame})
	f := readFrame(t, conn)
	if f.Type != ws.TypeError {
		t.Fatalf("frame = %+v, want error", f)
	}
	if st.mgr.Len() != 0 {
		t.Errorf("registered sessions = %d, want 0 after a failed start", st.mgr.Len())
	}
}

func TestGatewayNewGameDeliversMediaAfterStart(t *testing.T) {
	t.Parallel()

	img := &imagemock.Provider{GenerateResult: b64("png")}
	mus := &musicmock.Provider{AvailableResult: true, GenerateResult: b64("wav")}
	svc := media.NewService(media.NewCache(t.TempDir()),
		media.WithImageProvider(img, "openai"),
		media.WithMusicProvider(mus, "musicgen"),
	)
	pool := media.NewPool(2, nil)
	t.Cleanup(pool.Wait)

	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: openingRaw}}
	st := newStack(t, llmP,
		[]game.Option{game.WithMedia(svc)},
		[]session.Option{session.WithPool(pool), session.WithMediaLookup(svc)},
	)
	conn := dial(t, st.srv)

	started := startAdventure(t, conn, boolPtr(true))
	if !started.HasImage || !started.HasMusic {
		t.Fatalf("hasImage/hasMusic = %v/%v, want true/true", started.HasImage, started.HasMusic)
	}

	// The completion frame always lands before the artifacts, image first.
	imgFrame := readFrame(t, conn)
	if imgFrame.Type != ws.TypeImageReady {
		t.Fatalf("frame = %+v, want imageReady", imgFrame)
	}
	if imgFrame.MessageIndex != started.MessageIndex || imgFrame.Image != b64("png") {
		t.Errorf("imageReady = %+v", imgFrame)
	}

	musFrame := readFrame(t, conn)
	if musFrame.Type != ws.TypeMusicReady {
		t.Fatalf("frame = %+v, want musicReady", musFrame)
	}
	if musFrame.Music != b64("wav") || musFrame.Mood != "castle" {
		t.Errorf("musicReady = %+v", musFrame)
	}
}

// ── Commands ──────────────────────────────────────────────────────────────────

func TestGatewayBlockingCommand(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteQueue: []*llm.CompletionResponse{
		{Content: openingRaw},
		{Content: armoryRaw},
	}}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)
	startAdventure(t, conn, nil)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeCommand, Command: "go north"})
	f := readFrame(t, conn)
	if f.Type != ws.TypeCommandResponse {
		t.Fatalf("frame = %+v, want commandResponse", f)
	}
	if f.Command != "go north" {
		t.Errorf("command = %q", f.Command)
	}
	if f.MessageIndex != 3 {
		t.Errorf("messageIndex = %d, want 3", f.MessageIndex)
	}
	if f.Scene == nil || f.Scene.LocationID != "armory" {
		t.Errorf("scene = %+v, want armory", f.Scene)
	}
	if !strings.Contains(f.Text, "Racks of pitted steel") {
		t.Errorf("text = %q", f.Text)
	}
}

func TestGatewayCommandWithoutGame(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeCommand, Command: "look"})
	f := readFrame(t, conn)
	if f.Type != ws.TypeError || f.Error != "no active game" {
		t.Errorf("frame = %+v, want a no-active-game error", f)
	}
}

func TestGatewayStreamCommandChunkNumbering(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{
		CompleteQueue: []*llm.CompletionResponse{{Content: openingRaw}},
		StreamChunks:  armoryStream,
	}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)
	startAdventure(t, conn, nil)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeStreamCommand, Command: "go north"})

	var narration strings.Builder
	chunkCount := 0
	var complete frame
	for {
		f := readFrame(t, conn)
		if f.Type == ws.TypeStreamComplete {
			complete = f
			break
		}
		if f.Type != ws.TypeTextChunk {
			t.Fatalf("frame = %+v, want textChunk or streamComplete", f)
		}
		chunkCount++
		if f.ChunkNumber != chunkCount {
			t.Fatalf("chunkNumber = %d, want %d", f.ChunkNumber, chunkCount)
		}
		narration.WriteString(f.Text)
	}

	if chunkCount == 0 {
		t.Fatal("no textChunk frames before streamComplete")
	}
	if got := strings.TrimSpace(narration.String()); got != "Racks of pitted steel line the armory walls." {
		t.Errorf("streamed narration = %q", got)
	}
	if strings.Contains(narration.String(), game.Marker) {
		t.Error("structured payload leaked into the narration stream")
	}
	if complete.TotalChunks != chunkCount {
		t.Errorf("totalChunks = %d, want %d", complete.TotalChunks, chunkCount)
	}
	if complete.MessageIndex != 3 {
		t.Errorf("messageIndex = %d, want 3", complete.MessageIndex)
	}
	if complete.Scene == nil || complete.Scene.LocationID != "armory" {
		t.Errorf("scene = %+v, want armory", complete.Scene)
	}
}

// gatedLLM blocks the first StreamCompletion until released, so tests can
// hold a streaming turn in flight.
type gatedLLM struct {
	inner   *llmmock.Provider
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.StreamCompletion(ctx, req)
}

func (g *gatedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return g.inner.Complete(ctx, req)
}

func (g *gatedLLM) CountTokens(messages []types.Message) (int, error) {
	return g.inner.CountTokens(messages)
}

func (g *gatedLLM) Capabilities() types.ModelCapabilities {
	return g.inner.Capabilities()
}

func TestGatewayRejectsCommandWhileTurnInFlight(t *testing.T) {
	t.Parallel()

	llmP := &gatedLLM{
		inner: &llmmock.Provider{
			CompleteQueue: []*llm.CompletionResponse{{Content: openingRaw}},
			StreamChunks:  armoryStream,
		},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)
	startAdventure(t, conn, nil)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeStreamCommand, Command: "go north"})
	select {
	case <-llmP.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("streaming turn never reached the provider")
	}

	// The duplicate is rejected immediately; the gated turn has produced no
	// frames yet, so the error is the next thing the client sees.
	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeCommand, Command: "wait"})
	if f := readFrame(t, conn); f.Type != ws.TypeError || f.Error != "session busy" {
		t.Fatalf("frame = %+v, want a session-busy error", f)
	}

	close(llmP.release)
	for {
		f := readFrame(t, conn)
		if f.Type == ws.TypeStreamComplete {
			if f.Scene == nil || f.Scene.LocationID != "armory" {
				t.Errorf("scene = %+v, want armory", f.Scene)
			}
			return
		}
		if f.Type != ws.TypeTextChunk {
			t.Fatalf("frame = %+v, want the released stream to finish", f)
		}
	}
}

// ── Voice ─────────────────────────────────────────────────────────────────────

func TestGatewayAudioCommand(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{
		CompleteQueue: []*llm.CompletionResponse{{Content: openingRaw}},
		StreamChunks: []llm.Chunk{
			{Text: "Eldrinax turns toward you.\n"},
			{Text: game.Marker + "\n" + `{"responseType":"simple","locationId":"great_hall","actionTaken":"talk"}`},
			{FinishReason: "stop"},
		},
	}
	sttP := &sttmock.Provider{TranscribeResult: "talk to elder nacks"}
	st := newStack(t, llmP, nil, []session.Option{
		session.WithSTT(sttP),
		session.WithCorrector(vocab.New()),
	})
	conn := dial(t, st.srv)
	startAdventure(t, conn, nil)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeAudioCommand, Audio: b64("opus")})

	f := readFrame(t, conn)
	if f.Type != ws.TypeTranscription {
		t.Fatalf("frame = %+v, want transcription before the stream", f)
	}
	if f.Text != "talk to eldrinax" {
		t.Errorf("transcript = %q, want the corrected NPC name", f.Text)
	}

	var narration strings.Builder
	for {
		f = readFrame(t, conn)
		if f.Type == ws.TypeStreamComplete {
			break
		}
		if f.Type != ws.TypeTextChunk {
			t.Fatalf("frame = %+v, want textChunk or streamComplete", f)
		}
		narration.WriteString(f.Text)
	}
	if got := strings.TrimSpace(narration.String()); got != "Eldrinax turns toward you." {
		t.Errorf("streamed narration = %q", got)
	}
	if len(sttP.TranscribeCalls) != 1 || string(sttP.TranscribeCalls[0].Clip.Data) != "opus" {
		t.Errorf("clip not forwarded: %+v", sttP.TranscribeCalls)
	}
}

func TestGatewayAudioCommandBadBase64(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: openingRaw}}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)
	startAdventure(t, conn, nil)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeAudioCommand, Audio: "not@base64!"})
	if f := readFrame(t, conn); f.Type != ws.TypeError || f.Error != "malformed message" {
		t.Errorf("frame = %+v, want a malformed-message error", f)
	}
}

// ── Media re-requests ─────────────────────────────────────────────────────────

func TestGatewayGetImage(t *testing.T) {
	t.Parallel()

	img := &imagemock.Provider{GenerateResult: b64("png")}
	svc := media.NewService(media.NewCache(t.TempDir()),
		media.WithImageProvider(img, "openai"),
	)

	// No pool: the turn generates nothing on its own.
	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: openingRaw}}
	st := newStack(t, llmP,
		[]game.Option{game.WithMedia(svc)},
		[]session.Option{session.WithMediaLookup(svc)},
	)
	conn := dial(t, st.srv)
	started := startAdventure(t, conn, nil)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeGetImage, MessageIndex: started.MessageIndex})
	if f := readFrame(t, conn); f.Type != ws.TypeError || f.Error != "no media for that message" {
		t.Fatalf("frame = %+v, want a no-media error before anything was generated", f)
	}

	// Fill the cache out of band; the re-request must now serve it.
	if _, err := svc.SceneImage(context.Background(), started.GameID, "pixel", started.Scene, started.Text); err != nil {
		t.Fatalf("priming generation failed: %v", err)
	}
	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeGetImage, MessageIndex: started.MessageIndex})
	f := readFrame(t, conn)
	if f.Type != ws.TypeImageReady {
		t.Fatalf("frame = %+v, want imageReady", f)
	}
	if f.MessageIndex != started.MessageIndex || f.Image != b64("png") {
		t.Errorf("imageReady = %+v", f)
	}
	if n := len(img.GenerateSceneCalls); n != 1 {
		t.Errorf("provider called %d times, want 1; re-requests must never generate", n)
	}
}

// ── Saved games ───────────────────────────────────────────────────────────────

func TestGatewayListGames(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: openingRaw}}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)
	started := startAdventure(t, conn, nil)

	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeListGames})
	f := readFrame(t, conn)
	if f.Type != ws.TypeGamesList {
		t.Fatalf("frame = %+v, want gamesList", f)
	}
	if len(f.Games) != 1 {
		t.Fatalf("games = %d, want 1", len(f.Games))
	}
	if f.Games[0].GameID != started.GameID {
		t.Errorf("gameId = %q, want %q", f.Games[0].GameID, started.GameID)
	}
	if f.Games[0].Theme != "classic fantasy adventure" {
		t.Errorf("theme = %q, want the default", f.Games[0].Theme)
	}
}

func TestGatewayLoadGame(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteQueue: []*llm.CompletionResponse{
		{Content: openingRaw},
		{Content: armoryRaw},
	}}
	st := newStack(t, llmP, nil, nil)

	// Play two turns on the first connection.
	conn1 := dial(t, st.srv)
	started := startAdventure(t, conn1, nil)
	sendFrame(t, conn1, ws.ClientMessage{Type: ws.TypeCommand, Command: "go north"})
	if f := readFrame(t, conn1); f.Type != ws.TypeCommandResponse {
		t.Fatalf("frame = %+v, want commandResponse", f)
	}

	// Resume the same game on a second connection.
	conn2 := dial(t, st.srv)
	sendFrame(t, conn2, ws.ClientMessage{Type: ws.TypeLoadGame, GameID: started.GameID})
	f := readFrame(t, conn2)
	if f.Type != ws.TypeGameLoaded {
		t.Fatalf("frame = %+v, want gameLoaded", f)
	}
	if f.GameID != started.GameID {
		t.Errorf("gameId = %q, want %q", f.GameID, started.GameID)
	}
	if f.SessionID == started.SessionID || !ids.Valid(f.SessionID) {
		t.Errorf("sessionId = %q, want a fresh session", f.SessionID)
	}
	if len(f.Conversation) != 4 {
		t.Errorf("conversation entries = %d, want 4", len(f.Conversation))
	}
	if f.CurrentScene == nil || f.CurrentScene.LocationID != "armory" {
		t.Errorf("currentScene = %+v, want armory", f.CurrentScene)
	}
	if f.CurrentLocation != "The Armory" {
		t.Errorf("currentLocation = %q, want The Armory", f.CurrentLocation)
	}
}

func TestGatewayLoadGameUnknown(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)

	// Well-formed id, no such game on disk.
	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeLoadGame, GameID: "game-deadbeef"})
	if f := readFrame(t, conn); f.Type != ws.TypeError || f.Error != "game not found" {
		t.Errorf("frame = %+v, want a game-not-found error", f)
	}

	// Malformed id, rejected before touching the store.
	sendFrame(t, conn, ws.ClientMessage{Type: ws.TypeLoadGame, GameID: "../escape"})
	if f := readFrame(t, conn); f.Type != ws.TypeError || f.Error != "game not found" {
		t.Errorf("frame = %+v, want a game-not-found error", f)
	}
	if st.mgr.Len() != 0 {
		t.Errorf("registered sessions = %d, want 0", st.mgr.Len())
	}
}

// ── Protocol errors and lifecycle ─────────────────────────────────────────────

func TestGatewayUnknownMessageType(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)

	sendFrame(t, conn, map[string]string{"type": "teleport"})
	f := readFrame(t, conn)
	if f.Type != ws.TypeError || f.Error != "unknown message type" || f.Details != "teleport" {
		t.Errorf("frame = %+v, want an unknown-type error", f)
	}
}

func TestGatewayMalformedFrame(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Type != ws.TypeError || f.Error != "malformed message" {
		t.Errorf("frame = %+v, want a malformed-message error", f)
	}
}

func TestGatewayDisconnectClosesSession(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: openingRaw}}
	st := newStack(t, llmP, nil, nil)
	conn := dial(t, st.srv)
	startAdventure(t, conn, nil)

	if st.mgr.Len() != 1 {
		t.Fatalf("registered sessions = %d, want 1", st.mgr.Len())
	}

	conn.Close(websocket.StatusNormalClosure, "leaving")

	deadline := time.Now().Add(5 * time.Second)
	for st.mgr.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still registered %v after disconnect", 5*time.Second)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
