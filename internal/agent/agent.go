// Package agent drives the LLM tool-call loop for a game session.
//
// An [Agent] owns an [llm.Provider] and a [tools.Registry]. Each call to
// [Agent.Run] or [Agent.RunStreaming] performs one player turn: it sends the
// conversation to the model, executes any tool calls the model requests,
// feeds the results back, and repeats until the model answers with plain
// text (or the iteration guard trips).
//
// The streaming variant discriminates text responses from tool-call responses
// on the first meaningful chunk, so narration can be forwarded to the player
// in real time while tool-call turns stay silent.
//
// A conversation never retains an assistant message that has both empty
// content and no tool calls: such messages are not constructed, and a
// sanitize pass filters the outbound message list before every provider call.
// Some providers reject conversations containing them, so this is a
// correctness requirement of the loop rather than cosmetics.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fableloom/fableloom/internal/observe"
	"github.com/fableloom/fableloom/internal/tools"
	"github.com/fableloom/fableloom/pkg/provider/llm"
	"github.com/fableloom/fableloom/pkg/types"
)

// ErrToolLoopExceeded is returned when the model keeps requesting tools past
// the configured iteration limit without producing a final text answer.
var ErrToolLoopExceeded = errors.New("agent: tool loop exceeded maximum iterations")

const (
	// defaultMaxIterations bounds the LLM→tool→LLM cycle per turn.
	defaultMaxIterations = 8

	// defaultTemperature is the sampling temperature used when no override is
	// configured.
	defaultTemperature = 0.7
)

// State is the LLM-facing transcript of one game. It accumulates across
// turns; the engine persists State.Messages with each step and rebuilds the
// State when a game is loaded.
type State struct {
	// SystemPrompt is injected ahead of the conversation on every call.
	SystemPrompt string

	// Messages is the ordered conversation: user commands, assistant replies,
	// and tool-role results.
	Messages []types.Message
}

// NewState returns a State with the given system prompt and an empty
// conversation.
func NewState(systemPrompt string) *State {
	return &State{SystemPrompt: systemPrompt}
}

// AppendUser appends a user-role message to the conversation.
func (s *State) AppendUser(content string) {
	s.Messages = append(s.Messages, types.Message{Role: "user", Content: content})
}

// sanitized returns the message list with degenerate assistant messages
// (empty content AND no tool calls) filtered out. The filtered copy is what
// gets sent to the provider; the stored transcript is left untouched.
func (s *State) sanitized() []types.Message {
	clean := make([]types.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == "assistant" && m.Content == "" && len(m.ToolCalls) == 0 {
			continue
		}
		clean = append(clean, m)
	}
	return clean
}

// ToolCallRecord captures one executed tool call for step persistence.
type ToolCallRecord struct {
	// Name is the tool that was invoked.
	Name string `json:"name"`

	// Arguments is the JSON-encoded argument string the model supplied.
	Arguments string `json:"arguments"`

	// Result is the JSON-encoded result returned to the model.
	Result string `json:"result"`
}

// Result is the outcome of one agent run.
type Result struct {
	// Text is the model's final plain-text answer for the turn. For game
	// turns this is the raw narration+payload string before parsing.
	Text string

	// ToolCalls lists every tool executed during the run, in order.
	ToolCalls []ToolCallRecord

	// Iterations is the number of provider calls the run needed.
	Iterations int
}

// Option configures an [Agent] during construction.
type Option func(*Agent)

// WithMaxIterations sets the per-turn bound on LLM→tool→LLM cycles.
// The default is 8.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithTemperature sets the sampling temperature for all completions.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// WithMaxTokens caps completion tokens per provider call. Zero means the
// provider default.
func WithMaxTokens(n int) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// WithHistoryLimit caps how many conversation messages are sent to the model
// per call. The full transcript stays in the State untouched; the cap only
// trims the request window. Zero means unlimited.
func WithHistoryLimit(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

// WithLogger sets the structured logger. The default is [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.log = log
		}
	}
}

// WithMetrics attaches instrumentation for turn and tool latency. Without it
// the agent records nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Agent) { a.met = m }
}

// Agent runs the tool-call loop against a single LLM provider.
//
// Agent itself holds no per-game data; all conversation state lives in the
// [State] passed to each run, so one Agent may serve several games as long as
// each State is used by one goroutine at a time.
type Agent struct {
	llm      llm.Provider
	registry *tools.Registry

	maxIterations int
	temperature   float64
	maxTokens     int
	historyLimit  int
	log           *slog.Logger
	met           *observe.Metrics
}

// New constructs an Agent. registry may be nil for a tool-less agent.
func New(provider llm.Provider, registry *tools.Registry, opts ...Option) *Agent {
	a := &Agent{
		llm:           provider,
		registry:      registry,
		maxIterations: defaultMaxIterations,
		temperature:   defaultTemperature,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run performs one blocking turn: it drives the tool-call loop until the
// model produces a text answer and returns that answer with the executed
// tool calls. st is mutated in place — the assistant and tool messages of
// the turn are appended to st.Messages.
func (a *Agent) Run(ctx context.Context, st *State) (*Result, error) {
	defer a.recordTurn(ctx, time.Now())
	res := &Result{}

	for iter := range a.maxIterations {
		res.Iterations = iter + 1

		resp, err := a.llm.Complete(ctx, a.buildRequest(st))
		if err != nil {
			return nil, fmt.Errorf("agent: completion failed: %w", err)
		}

		appendAssistant(st, resp.Content, resp.ToolCalls)

		if len(resp.ToolCalls) == 0 {
			res.Text = resp.Content
			return res, nil
		}

		if err := a.executeToolCalls(ctx, st, resp.ToolCalls, res); err != nil {
			return nil, err
		}
	}

	return nil, ErrToolLoopExceeded
}

// RunStreaming performs one turn using streaming completions. onChunk is
// called, in arrival order, with each text fragment of the model's final
// answer; tool-call iterations produce no onChunk calls at all.
//
// The response kind is latched on the first chunk that carries either text
// or a tool-call fragment. Chunks that carry neither (role headers,
// keep-alives) are buffered until the kind is known and contribute nothing
// to the output.
func (a *Agent) RunStreaming(ctx context.Context, st *State, onChunk func(string)) (*Result, error) {
	defer a.recordTurn(ctx, time.Now())
	res := &Result{}

	for iter := range a.maxIterations {
		res.Iterations = iter + 1

		ch, err := a.llm.StreamCompletion(ctx, a.buildRequest(st))
		if err != nil {
			return nil, fmt.Errorf("agent: stream failed to start: %w", err)
		}

		text, toolCalls, err := a.consumeStream(ctx, ch, onChunk)
		if err != nil {
			return nil, err
		}

		appendAssistant(st, text, toolCalls)

		if len(toolCalls) == 0 {
			res.Text = text
			return res, nil
		}

		if err := a.executeToolCalls(ctx, st, toolCalls, res); err != nil {
			return nil, err
		}
	}

	return nil, ErrToolLoopExceeded
}

// ─── Internal helpers ─────────────────────────────────────────────────────────

// responseKind is the latched discrimination of a streaming response.
type responseKind int

const (
	kindUnknown responseKind = iota
	kindText
	kindToolCall
)

// consumeStream drains one streaming completion, forwarding text fragments to
// onChunk once the response is known to be a text response. It returns the
// accumulated text and any tool calls requested by the model.
func (a *Agent) consumeStream(ctx context.Context, ch <-chan llm.Chunk, onChunk func(string)) (string, []types.ToolCall, error) {
	var (
		kind      = kindUnknown
		buf       strings.Builder
		pending   []string // text seen before the kind was latched
		toolCalls []types.ToolCall
	)

	emit := func(text string) {
		if text == "" {
			return
		}
		buf.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return "", nil, fmt.Errorf("agent: stream cancelled: %w", ctx.Err())
		case chunk, ok := <-ch:
			if !ok {
				// Stream ended without a finish chunk. Flush whatever was
				// buffered as text.
				if kind == kindUnknown {
					for _, p := range pending {
						emit(p)
					}
				}
				return buf.String(), toolCalls, nil
			}

			if chunk.FinishReason == "error" {
				return "", nil, fmt.Errorf("agent: stream error: %s", chunk.Text)
			}

			// Latch the kind on the first discriminating chunk. Tool-call
			// fragments win over text carried in the same chunk: mixed chunks
			// belong to tool-call turns and are never narration.
			if kind == kindUnknown {
				switch {
				case chunk.ToolCallDelta:
					kind = kindToolCall
					pending = nil
				case chunk.Text != "":
					kind = kindText
					for _, p := range pending {
						emit(p)
					}
					pending = nil
				default:
					pending = append(pending, chunk.Text)
				}
			}

			switch kind {
			case kindText:
				emit(chunk.Text)
			case kindToolCall:
				if len(chunk.ToolCalls) > 0 {
					toolCalls = append(toolCalls, chunk.ToolCalls...)
				}
			}

			if chunk.FinishReason != "" {
				return buf.String(), toolCalls, nil
			}
		}
	}
}

// executeToolCalls runs each requested tool through the registry and appends
// the tool-role result messages to st. Registry-level failures (unknown tool)
// become structured error results so the model can recover on the next
// iteration; only context cancellation aborts the run.
func (a *Agent) executeToolCalls(ctx context.Context, st *State, calls []types.ToolCall, res *Result) error {
	for _, tc := range calls {
		var out string
		status := "ok"
		start := time.Now()
		if a.registry == nil {
			out = fmt.Sprintf(`{"success":false,"error":"no tools available: %s"}`, tc.Name)
			status = "error"
		} else {
			var err error
			out, err = a.registry.Execute(ctx, tc.Name, tc.Arguments)
			switch {
			case errors.Is(err, tools.ErrUnknownTool):
				out = fmt.Sprintf(`{"success":false,"error":"unknown tool: %s"}`, tc.Name)
				status = "error"
			case err != nil:
				a.recordToolCall(ctx, tc.Name, "error", time.Since(start))
				return fmt.Errorf("agent: tool %q aborted: %w", tc.Name, err)
			}
		}
		a.recordToolCall(ctx, tc.Name, status, time.Since(start))

		a.log.Debug("tool executed", "tool", tc.Name, "args", tc.Arguments)

		st.Messages = append(st.Messages, types.Message{
			Role:       "tool",
			Content:    out,
			ToolCallID: tc.ID,
		})
		res.ToolCalls = append(res.ToolCalls, ToolCallRecord{
			Name:      tc.Name,
			Arguments: tc.Arguments,
			Result:    out,
		})
	}
	return nil
}

// buildRequest assembles the provider request from the state and the agent's
// settings.
func (a *Agent) buildRequest(st *State) llm.CompletionRequest {
	msgs := st.sanitized()
	if a.historyLimit > 0 && len(msgs) > a.historyLimit {
		msgs = msgs[len(msgs)-a.historyLimit:]
		// The window must not open on a tool result whose triggering
		// assistant message was cut off.
		for len(msgs) > 0 && msgs[0].Role == "tool" {
			msgs = msgs[1:]
		}
	}
	req := llm.CompletionRequest{
		Messages:     msgs,
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
		SystemPrompt: st.SystemPrompt,
	}
	if a.registry != nil {
		req.Tools = a.registry.Definitions()
	}
	return req
}

func (a *Agent) recordTurn(ctx context.Context, start time.Time) {
	if a.met != nil {
		a.met.RecordLLMTurn(ctx, time.Since(start).Seconds())
	}
}

func (a *Agent) recordToolCall(ctx context.Context, tool, status string, elapsed time.Duration) {
	if a.met != nil {
		a.met.RecordToolCall(ctx, tool, status, elapsed.Seconds())
	}
}

// appendAssistant appends the assistant message for one iteration, skipping
// the degenerate empty form outright.
func appendAssistant(st *State, content string, toolCalls []types.ToolCall) {
	if content == "" && len(toolCalls) == 0 {
		return
	}
	st.Messages = append(st.Messages, types.Message{
		Role:      "assistant",
		Content:   content,
		ToolCalls: toolCalls,
	})
}

// Complete performs a single tool-less completion outside any conversation.
// Used for one-shot generations such as the adventure outline.
func (a *Agent) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     []types.Message{{Role: "user", Content: userPrompt}},
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("agent: completion failed: %w", err)
	}
	return resp.Content, nil
}
