// Package generator turns a caller utterance into spoken sentences, running
// the model's tool loop in between.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"yuzu/callagent/internal/llm"
)

type Kind string

const (
	KindSpeech  Kind = "speech"
	KindFiller  Kind = "filler"
	KindApology Kind = "apology"
)

type Sentence struct {
	Text string
	Kind Kind
}

var DefaultFillers = []string{
	"Let me check that for you.",
	"One moment while I look that up.",
	"Give me a second.",
	"Just a moment, please.",
}

const DefaultApology = "Sorry, I'm having trouble with that right now. Could you say it again?"

var errUnknownTool = errors.New("model requested an unknown tool")

// Model streams one completion.
type Model interface {
	Stream(ctx context.Context, req llm.Request, onText func(string)) (llm.Response, error)
}

// Tools runs tool calls requested by the model.
type Tools interface {
	Has(name string) bool
	Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error)
	Definitions(names []string) []llm.Tool
}

type Config struct {
	MaxToolRounds int
	Temperature   float64
	MaxTokens     int
	Fillers       []string
	Apology       string
	// Pick chooses a filler index in [0,n); defaults to a random choice.
	Pick func(n int) int
}

type Request struct {
	Utterance    string
	Context      string // retrieved knowledge, may be empty
	SystemPrompt string
	History      []llm.Message
	Tools        []string // tool names this agent may use
}

type Generator struct {
	model  Model
	tools  Tools
	cfg    Config
	logger *zap.Logger
}

func New(model Model, tools Tools, cfg Config, logger *zap.Logger) *Generator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 4
	}
	if len(cfg.Fillers) == 0 {
		cfg.Fillers = DefaultFillers
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.Pick == nil {
		cfg.Pick = rand.Intn
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, tools: tools, cfg: cfg, logger: logger.With(zap.String("component", "generator"))}
}

// Apology is the phrase spoken when generation fails.
func (g *Generator) Apology() string { return g.cfg.Apology }

// Generate starts a fresh generation. The channel yields sentences as they
// become available and is closed when generation ends. A failed generation
// yields exactly one apology sentence; cancelling ctx ends it silently.
func (g *Generator) Generate(ctx context.Context, req Request) <-chan Sentence {
	out := make(chan Sentence, 8)
	go func() {
		defer close(out)
		g.run(ctx, req, out)
	}()
	return out
}

func (g *Generator) run(ctx context.Context, req Request, out chan<- Sentence) {
	send := func(s Sentence) bool {
		select {
		case out <- s:
			metricSentences.WithLabelValues(string(s.Kind)).Inc()
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(reason string, err error) {
		if ctx.Err() != nil {
			return
		}
		metricFallbacks.WithLabelValues(reason).Inc()
		g.logger.Warn("generation failed; apologizing", zap.String("reason", reason), zap.Error(err))
		send(Sentence{Text: g.cfg.Apology, Kind: KindApology})
	}

	msgs := buildMessages(req)
	var defs []llm.Tool
	if g.tools != nil && len(req.Tools) > 0 {
		defs = g.tools.Definitions(req.Tools)
	}

	for round := 0; ; round++ {
		if round > g.cfg.MaxToolRounds {
			fail("tool_rounds", fmt.Errorf("exceeded %d tool rounds", g.cfg.MaxToolRounds))
			return
		}

		var seg llm.Segmenter
		resp, err := g.model.Stream(ctx, llm.Request{
			Messages:    msgs,
			Tools:       defs,
			Temperature: g.cfg.Temperature,
			MaxTokens:   g.cfg.MaxTokens,
		}, func(delta string) {
			for _, s := range seg.Push(delta) {
				send(Sentence{Text: s, Kind: KindSpeech})
			}
		})
		if err != nil {
			fail(failureReason(err), err)
			return
		}
		if tail := seg.Flush(); tail != "" {
			if !send(Sentence{Text: tail, Kind: KindSpeech}) {
				return
			}
		}
		if len(resp.ToolCalls) == 0 {
			return
		}

		for _, call := range resp.ToolCalls {
			if !g.allowed(req.Tools, call.Function.Name) {
				g.logger.Warn("model requested unknown tool", zap.String("tool", call.Function.Name))
				if strings.TrimSpace(resp.Text) == "" {
					fail("unknown_tool", fmt.Errorf("%w: %s", errUnknownTool, call.Function.Name))
				}
				return
			}
		}

		// one filler per round, however many tools the round runs
		filler := g.cfg.Fillers[g.cfg.Pick(len(g.cfg.Fillers))]
		if !send(Sentence{Text: filler, Kind: KindFiller}) {
			return
		}

		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    g.invoke(ctx, call),
			})
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (g *Generator) allowed(names []string, name string) bool {
	if g.tools == nil || !g.tools.Has(name) {
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// invoke runs one tool call and renders its result for the model. Tool
// failures go back to the model as {"error": ...} for it to phrase.
func (g *Generator) invoke(ctx context.Context, call llm.ToolCall) string {
	args := map[string]any{}
	if s := strings.TrimSpace(call.Function.Arguments); s != "" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return errorJSON(fmt.Errorf("invalid arguments: %w", err))
		}
	}
	res, err := g.tools.Invoke(ctx, call.Function.Name, args)
	if err != nil {
		return errorJSON(err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return errorJSON(err)
	}
	return string(b)
}

func errorJSON(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

func buildMessages(req Request) []llm.Message {
	system := req.SystemPrompt
	if c := strings.TrimSpace(req.Context); c != "" {
		system += "\n\nUse this information if it helps answer the caller:\n" + c
	}
	msgs := make([]llm.Message, 0, len(req.History)+2)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, req.History...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Utterance})
	return msgs
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		return "empty"
	case errors.Is(err, llm.ErrMalformed):
		return "malformed"
	default:
		return "model_error"
	}
}
