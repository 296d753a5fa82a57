// Package ws exposes the game over a WebSocket endpoint. Frames are JSON
// text messages with a discriminant "type" field; binary payloads (voice
// clips, images, music) travel base64-encoded inside them.
//
// Each connection runs one reader and one writer goroutine. The writer is
// the sole goroutine that touches the connection for output, so frames keep
// the order they were produced in: per command the client sees its textChunk
// frames, then one completion frame, then at most one imageReady and one
// musicReady. Media frames of earlier commands may land between the streams
// of later ones.
package ws

import (
	"github.com/fableloom/fableloom/internal/game"
	"github.com/fableloom/fableloom/internal/steps"
)

// ── Frame types (client → server) ──────────────────────────────────────────────

const (
	TypeNewGame       = "newGame"
	TypeLoadGame      = "loadGame"
	TypeCommand       = "command"
	TypeStreamCommand = "streamCommand"
	TypeAudioCommand  = "audioCommand"
	TypeGetImage      = "getImage"
	TypeGetMusic      = "getMusic"
	TypeListGames     = "listGames"
	TypePing          = "ping"
)

// ── Frame types (server → client) ──────────────────────────────────────────────

const (
	TypeConnected       = "connected"
	TypeGameStarted     = "gameStarted"
	TypeGameLoaded      = "gameLoaded"
	TypeCommandResponse = "commandResponse"
	TypeTextChunk       = "textChunk"
	TypeStreamComplete  = "streamComplete"
	TypeTranscription   = "transcription"
	TypeImageReady      = "imageReady"
	TypeMusicReady      = "musicReady"
	TypeGamesList       = "gamesList"
	TypeError           = "error"
	TypePong            = "pong"
)

// ClientMessage is the union of every client frame. Which fields are
// meaningful depends on Type.
type ClientMessage struct {
	Type string `json:"type"`

	// newGame
	Theme            string                 `json:"theme,omitempty"`
	ArtStyle         string                 `json:"artStyle,omitempty"`
	AdventureOutline *game.AdventureOutline `json:"adventureOutline,omitempty"`

	// newGame / streamCommand. Nil leaves the session's sticky toggle alone.
	ImageGeneration *bool `json:"imageGeneration,omitempty"`

	// loadGame
	GameID string `json:"gameId,omitempty"`

	// command / streamCommand
	Command string `json:"command,omitempty"`

	// audioCommand, base64-encoded clip
	Audio string `json:"audio,omitempty"`

	// getImage / getMusic
	MessageIndex int `json:"messageIndex,omitempty"`

	// ping
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ── Server frames ───────────────────────────────────────────────────────────────

// ConnectedMessage is the first frame on every connection. Clients that see
// ServerInstanceID change between reconnects must discard cached session
// state; saved games stay loadable by id.
type ConnectedMessage struct {
	Type             string `json:"type"`
	Message          string `json:"message"`
	Version          string `json:"version"`
	ServerInstanceID string `json:"serverInstanceId"`
}

// GameStartedMessage announces a fresh adventure and its opening turn.
type GameStartedMessage struct {
	Type         string          `json:"type"`
	SessionID    string          `json:"sessionId"`
	GameID       string          `json:"gameId"`
	Text         string          `json:"text"`
	MessageIndex int             `json:"messageIndex"`
	Scene        *game.GameScene `json:"scene,omitempty"`
	Audio        string          `json:"audio,omitempty"`
	HasImage     bool            `json:"hasImage"`
	HasMusic     bool            `json:"hasMusic"`
}

// GameLoadedMessage carries the restored state of a resumed game.
type GameLoadedMessage struct {
	Type            string                   `json:"type"`
	SessionID       string                   `json:"sessionId"`
	GameID          string                   `json:"gameId"`
	Conversation    []game.ConversationEntry `json:"conversation"`
	CurrentLocation string                   `json:"currentLocation,omitempty"`
	CurrentScene    *game.GameScene          `json:"currentScene,omitempty"`
}

// CommandResponseMessage is the result of one blocking command.
type CommandResponseMessage struct {
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	MessageIndex int             `json:"messageIndex"`
	Command      string          `json:"command"`
	Scene        *game.GameScene `json:"scene,omitempty"`
	Audio        string          `json:"audio,omitempty"`
	HasImage     bool            `json:"hasImage"`
	HasMusic     bool            `json:"hasMusic"`
}

// TextChunkMessage is one narration fragment of a streaming command.
// ChunkNumber counts from 1 and is strictly increasing within a command.
type TextChunkMessage struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	ChunkNumber int    `json:"chunkNumber"`
}

// StreamCompleteMessage closes a streaming command. Duration is the turn's
// wall-clock time in seconds.
type StreamCompleteMessage struct {
	Type         string          `json:"type"`
	MessageIndex int             `json:"messageIndex"`
	TotalChunks  int             `json:"totalChunks"`
	Duration     float64         `json:"duration"`
	Scene        *game.GameScene `json:"scene,omitempty"`
	Audio        string          `json:"audio,omitempty"`
	HasImage     bool            `json:"hasImage"`
	HasMusic     bool            `json:"hasMusic"`
}

// TranscriptionMessage reports the corrected transcript of a voice command
// before its narration streams.
type TranscriptionMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MediaReadyMessage delivers a finished artifact for the turn at
// MessageIndex. Image is set on imageReady frames, Music and Mood on
// musicReady frames.
type MediaReadyMessage struct {
	Type         string `json:"type"`
	MessageIndex int    `json:"messageIndex"`
	Image        string `json:"image,omitempty"`
	Music        string `json:"music,omitempty"`
	Mood         string `json:"mood,omitempty"`
}

// GamesListMessage lists every saved game on this server.
type GamesListMessage struct {
	Type  string               `json:"type"`
	Games []steps.GameMetadata `json:"games"`
}

// ErrorMessage reports a failed client frame. Error is a stable short
// phrase; Details carries the underlying cause when one exists.
type ErrorMessage struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// PongMessage echoes a ping's timestamp.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
