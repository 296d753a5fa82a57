package ws

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fableloom/fableloom/internal/game"
	"github.com/fableloom/fableloom/internal/ids"
	"github.com/fableloom/fableloom/internal/observe"
	"github.com/fableloom/fableloom/internal/session"
	"github.com/fableloom/fableloom/internal/steps"
	"github.com/fableloom/fableloom/pkg/provider/stt"
)

// Compile-time assertion that Gateway is mountable on a mux.
var _ http.Handler = (*Gateway)(nil)

const (
	defaultTheme    = "classic fantasy adventure"
	defaultArtStyle = "pixel"

	welcomeMessage = "Welcome to Fableloom."

	// outboundBuffer bounds the per-connection frame queue. A full queue
	// backpressures the producing turn or media task until the writer
	// drains.
	outboundBuffer = 32
)

// GameSpec is what the session factory needs to assemble one game.
type GameSpec struct {
	// GameID names the game, freshly minted for new games and supplied by
	// the client for loads.
	GameID string

	// Theme and ArtStyle are set for new games only. Loads restore both
	// from the journal.
	Theme    string
	ArtStyle string
}

// SessionFactory builds a fully wired session for one game. The composition
// root supplies it so the gateway stays free of provider plumbing.
type SessionFactory func(sessionID string, spec GameSpec) (*session.Session, error)

// Option configures a [Gateway].
type Option func(*Gateway)

// WithVersion sets the version string announced on connect.
func WithVersion(v string) Option {
	return func(g *Gateway) { g.version = v }
}

// WithOriginPatterns sets the host patterns accepted during the handshake.
// Without it only same-origin browsers connect.
func WithOriginPatterns(patterns ...string) Option {
	return func(g *Gateway) { g.originPatterns = patterns }
}

// WithMetrics attaches instrumentation for the open-connection gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.met = m }
}

// WithLogger sets the structured logger. The default is [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// Gateway accepts WebSocket connections and speaks the game protocol over
// them. One Gateway serves every player of the process.
type Gateway struct {
	factory SessionFactory
	mgr     *session.Manager
	store   *steps.Store

	gen            ids.Generator
	met            *observe.Metrics
	log            *slog.Logger
	version        string
	originPatterns []string
}

// NewGateway returns a Gateway that builds sessions through factory,
// registers them with mgr, and lists saved games from store.
func NewGateway(factory SessionFactory, mgr *session.Manager, store *steps.Store, opts ...Option) *Gateway {
	g := &Gateway{
		factory: factory,
		mgr:     mgr,
		store:   store,
		log:     slog.Default(),
		version: "dev",
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// ServeHTTP upgrades the request and serves the connection until the client
// leaves. Disconnecting cancels the in-flight turn and the session's
// detached media tasks; the game itself stays on disk, loadable by id.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Warn("websocket handshake rejected", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		gw:     g,
		conn:   conn,
		log:    g.log,
		out:    make(chan any, outboundBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	if g.met != nil {
		g.met.OpenWebsockets.Add(ctx, 1)
	}
	g.log.Info("client connected", "remote", r.RemoteAddr)

	c.run()

	if g.met != nil {
		g.met.OpenWebsockets.Add(context.Background(), -1)
	}
	conn.Close(websocket.StatusNormalClosure, "goodbye")
	g.log.Info("client disconnected", "remote", r.RemoteAddr)
}

// ── Per-connection client ───────────────────────────────────────────────────────

// client is the state of one connection: the bound session, the outbound
// frame queue, and the goroutines serving both directions.
type client struct {
	gw   *Gateway
	conn *websocket.Conn
	log  *slog.Logger

	// out is drained by the writer goroutine, the sole writer to conn.
	out chan any

	// ctx dies when the client disconnects; every turn and frame send is
	// scoped to it.
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks spawned frame handlers so run can wait them out before
	// tearing the session down.
	wg sync.WaitGroup

	mu        sync.Mutex
	sessionID string
}

func (c *client) run() {
	defer c.cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.send(ConnectedMessage{
		Type:             TypeConnected,
		Message:          welcomeMessage,
		Version:          c.gw.version,
		ServerInstanceID: ServerInstanceID(),
	})

	c.readLoop()

	// The reader is gone. Cancel the in-flight turn, wait for its handler,
	// then close the session so its media tasks die too.
	c.cancel()
	c.wg.Wait()
	c.unbind()
	<-writerDone
}

// readLoop decodes client frames until the connection drops.
func (c *client) readLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(ErrorMessage{Type: TypeError, Error: "malformed message", Details: err.Error()})
			continue
		}
		c.dispatch(&msg)
	}
}

// writeLoop serializes every outbound frame onto the connection.
func (c *client) writeLoop() {
	for {
		select {
		case msg := <-c.out:
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("outbound frame not marshalable", "error", err)
				continue
			}
			if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// send queues one frame for the writer. Frames queued after disconnect are
// dropped.
func (c *client) send(msg any) {
	select {
	case c.out <- msg:
	case <-c.ctx.Done():
	}
}

// dispatch routes one frame. Ping answers inline to stay responsive while a
// turn is streaming; everything else runs on its own goroutine so a second
// command reaches the session's busy gate instead of queueing in the reader.
func (c *client) dispatch(msg *ClientMessage) {
	switch msg.Type {
	case TypePing:
		c.send(PongMessage{Type: TypePong, Timestamp: msg.Timestamp})
	case TypeNewGame:
		c.spawn(func() { c.handleNewGame(msg) })
	case TypeLoadGame:
		c.spawn(func() { c.handleLoadGame(msg.GameID) })
	case TypeCommand:
		c.spawn(func() { c.handleCommand(msg.Command) })
	case TypeStreamCommand:
		c.spawn(func() { c.handleStreamCommand(msg) })
	case TypeAudioCommand:
		c.spawn(func() { c.handleAudioCommand(msg.Audio) })
	case TypeGetImage:
		c.spawn(func() { c.handleGetImage(msg.MessageIndex) })
	case TypeGetMusic:
		c.spawn(func() { c.handleGetMusic(msg.MessageIndex) })
	case TypeListGames:
		c.spawn(func() { c.handleListGames() })
	default:
		c.send(ErrorMessage{Type: TypeError, Error: "unknown message type", Details: msg.Type})
	}
}

func (c *client) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// ── Session binding ─────────────────────────────────────────────────────────────

// session returns the bound session, if any.
func (c *client) session() (*session.Session, bool) {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()
	if id == "" {
		return nil, false
	}
	return c.gw.mgr.Get(id)
}

// bind makes the session this connection's current game. A previously bound
// session is closed; one connection plays one game at a time.
func (c *client) bind(id string) {
	c.mu.Lock()
	old := c.sessionID
	c.sessionID = id
	c.mu.Unlock()
	if old != "" && old != id {
		c.gw.mgr.Remove(old)
	}
}

func (c *client) unbind() {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if id != "" {
		c.gw.mgr.Remove(id)
	}
}

// installMediaNotify points the session's media callbacks at this
// connection's frame queue.
func (c *client) installMediaNotify(sess *session.Session) {
	sess.SetMediaNotify(session.MediaNotify{
		OnImage: func(idx int, art *game.MediaArtifact) {
			c.send(MediaReadyMessage{Type: TypeImageReady, MessageIndex: idx, Image: art.B64})
		},
		OnMusic: func(idx int, art *game.MediaArtifact) {
			c.send(MediaReadyMessage{Type: TypeMusicReady, MessageIndex: idx, Music: art.B64, Mood: string(art.Mood)})
		},
	})
}

// ── Frame handlers ──────────────────────────────────────────────────────────────

func (c *client) handleNewGame(msg *ClientMessage) {
	theme := msg.Theme
	if theme == "" {
		theme = defaultTheme
	}
	artStyle := msg.ArtStyle
	if artStyle == "" {
		artStyle = defaultArtStyle
	}

	gameID, err := c.gw.gen.NewGameID()
	if err != nil {
		c.sendError(err)
		return
	}
	sess, err := c.gw.mgr.Create(func(id string) (*session.Session, error) {
		return c.gw.factory(id, GameSpec{GameID: gameID, Theme: theme, ArtStyle: artStyle})
	})
	if err != nil {
		c.sendError(err)
		return
	}

	if msg.ImageGeneration != nil {
		sess.SetImageGeneration(*msg.ImageGeneration)
	}
	c.installMediaNotify(sess)

	resp, err := sess.StartGame(c.ctx, msg.AdventureOutline, false)
	if err != nil {
		// Nothing was journaled; the failed game leaves no trace.
		c.gw.mgr.Remove(sess.ID())
		c.sendError(err)
		return
	}
	c.bind(sess.ID())

	hasImage, hasMusic := sess.PlannedMedia(resp.MessageIndex)
	c.send(GameStartedMessage{
		Type:         TypeGameStarted,
		SessionID:    sess.ID(),
		GameID:       sess.GameID(),
		Text:         resp.Text,
		MessageIndex: resp.MessageIndex,
		Scene:        resp.Scene,
		Audio:        resp.Audio,
		HasImage:     hasImage,
		HasMusic:     hasMusic,
	})
	sess.ScheduleMedia(resp.MessageIndex)
	c.log.Info("game started", "session", sess.ID(), "game", sess.GameID(), "theme", theme)
}

func (c *client) handleLoadGame(gameID string) {
	if !ids.Valid(gameID) {
		c.send(ErrorMessage{Type: TypeError, Error: "game not found", Details: gameID})
		return
	}

	sess, err := c.gw.mgr.Create(func(id string) (*session.Session, error) {
		return c.gw.factory(id, GameSpec{GameID: gameID})
	})
	if err != nil {
		c.sendError(err)
		return
	}
	if err := sess.LoadGame(); err != nil {
		c.gw.mgr.Remove(sess.ID())
		c.sendError(err)
		return
	}

	c.installMediaNotify(sess)
	c.bind(sess.ID())

	var location string
	scene := sess.CurrentScene()
	if scene != nil {
		location = scene.LocationName
	}
	c.send(GameLoadedMessage{
		Type:            TypeGameLoaded,
		SessionID:       sess.ID(),
		GameID:          gameID,
		Conversation:    sess.History(),
		CurrentLocation: location,
		CurrentScene:    scene,
	})
	c.log.Info("game loaded", "session", sess.ID(), "game", gameID)
}

func (c *client) handleCommand(command string) {
	sess, ok := c.session()
	if !ok {
		c.send(ErrorMessage{Type: TypeError, Error: "no active game"})
		return
	}

	resp, err := sess.Command(c.ctx, command, false)
	if err != nil {
		c.sendError(err)
		return
	}

	hasImage, hasMusic := sess.PlannedMedia(resp.MessageIndex)
	c.send(CommandResponseMessage{
		Type:         TypeCommandResponse,
		Text:         resp.Text,
		MessageIndex: resp.MessageIndex,
		Command:      command,
		Scene:        resp.Scene,
		Audio:        resp.Audio,
		HasImage:     hasImage,
		HasMusic:     hasMusic,
	})
	sess.ScheduleMedia(resp.MessageIndex)
}

func (c *client) handleStreamCommand(msg *ClientMessage) {
	sess, ok := c.session()
	if !ok {
		c.send(ErrorMessage{Type: TypeError, Error: "no active game"})
		return
	}
	if msg.ImageGeneration != nil {
		sess.SetImageGeneration(*msg.ImageGeneration)
	}

	started := time.Now()
	chunks := 0
	resp, err := sess.StreamCommand(c.ctx, msg.Command, func(text string) {
		chunks++
		c.send(TextChunkMessage{Type: TypeTextChunk, Text: text, ChunkNumber: chunks})
	}, false)
	if err != nil {
		c.sendError(err)
		return
	}

	hasImage, hasMusic := sess.PlannedMedia(resp.MessageIndex)
	c.send(StreamCompleteMessage{
		Type:         TypeStreamComplete,
		MessageIndex: resp.MessageIndex,
		TotalChunks:  chunks,
		Duration:     time.Since(started).Seconds(),
		Scene:        resp.Scene,
		Audio:        resp.Audio,
		HasImage:     hasImage,
		HasMusic:     hasMusic,
	})
	sess.ScheduleMedia(resp.MessageIndex)
}

func (c *client) handleAudioCommand(audioB64 string) {
	sess, ok := c.session()
	if !ok {
		c.send(ErrorMessage{Type: TypeError, Error: "no active game"})
		return
	}

	clip, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		c.send(ErrorMessage{Type: TypeError, Error: "malformed message", Details: "audio is not valid base64"})
		return
	}

	started := time.Now()
	chunks := 0
	resp, err := sess.AudioCommand(c.ctx, stt.Clip{Data: clip, MIME: "audio/webm"},
		func(text string) {
			c.send(TranscriptionMessage{Type: TypeTranscription, Text: text})
		},
		func(text string) {
			chunks++
			c.send(TextChunkMessage{Type: TypeTextChunk, Text: text, ChunkNumber: chunks})
		})
	if err != nil {
		c.sendError(err)
		return
	}

	hasImage, hasMusic := sess.PlannedMedia(resp.MessageIndex)
	c.send(StreamCompleteMessage{
		Type:         TypeStreamComplete,
		MessageIndex: resp.MessageIndex,
		TotalChunks:  chunks,
		Duration:     time.Since(started).Seconds(),
		Scene:        resp.Scene,
		Audio:        resp.Audio,
		HasImage:     hasImage,
		HasMusic:     hasMusic,
	})
	sess.ScheduleMedia(resp.MessageIndex)
}

func (c *client) handleGetImage(messageIndex int) {
	sess, ok := c.session()
	if !ok {
		c.send(ErrorMessage{Type: TypeError, Error: "no active game"})
		return
	}
	art, err := sess.SceneImageAt(c.ctx, messageIndex)
	if err != nil {
		c.sendError(err)
		return
	}
	c.send(MediaReadyMessage{Type: TypeImageReady, MessageIndex: messageIndex, Image: art.B64})
}

func (c *client) handleGetMusic(messageIndex int) {
	sess, ok := c.session()
	if !ok {
		c.send(ErrorMessage{Type: TypeError, Error: "no active game"})
		return
	}
	art, err := sess.MusicAt(c.ctx, messageIndex)
	if err != nil {
		c.sendError(err)
		return
	}
	c.send(MediaReadyMessage{Type: TypeMusicReady, MessageIndex: messageIndex, Music: art.B64, Mood: string(art.Mood)})
}

func (c *client) handleListGames() {
	c.send(GamesListMessage{Type: TypeGamesList, Games: c.gw.store.ListGames()})
}

// sendError maps an error onto the protocol's stable error phrases. Errors
// caused by the client's own disconnect are dropped.
func (c *client) sendError(err error) {
	msg := ErrorMessage{Type: TypeError, Error: "internal error", Details: err.Error()}
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, session.ErrBusy):
		msg.Error = "session busy"
	case errors.Is(err, session.ErrClosed):
		msg.Error = "session closed"
	case errors.Is(err, session.ErrNoMedia):
		msg.Error = "no media for that message"
	case errors.Is(err, steps.ErrNotFound):
		msg.Error = "game not found"
	}
	c.send(msg)
}

// ── Server instance id ──────────────────────────────────────────────────────────

var (
	instanceOnce sync.Once
	instanceID   string
)

// ServerInstanceID returns the process-wide random identifier announced on
// every connect. It changes on restart, telling reconnecting clients their
// cached session ids are stale.
func ServerInstanceID() string {
	instanceOnce.Do(func() {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			instanceID = fmt.Sprintf("boot-%d", time.Now().UnixNano())
			return
		}
		instanceID = hex.EncodeToString(buf)
	})
	return instanceID
}
