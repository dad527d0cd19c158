package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"yuzu/callagent/internal/generator"
	"yuzu/callagent/internal/llm"
	"yuzu/callagent/internal/session"
	"yuzu/callagent/internal/tts"
)

const retrievalTimeout = 2 * time.Second

// utterance claims a new turn for a finalized transcript and starts
// responding to it in the background.
func (c *Call) utterance(text string) {
	turn := c.supersede()
	c.lat.TurnStarted(turn)
	c.lat.DiscardBefore(turn)
	c.mirrorTurn(turn, session.StageThinking)

	metricTurns.Inc()
	c.record("utterance", map[string]any{"turn": turn, "text": text})
	c.logger.Info("utterance", zap.Uint64("turn", turn), zap.String("text", text))

	c.group.Go(func() error {
		c.respond(turn, text)
		return nil
	})
}

// supersede begins a new turn. Holding sendMu means no frame of an older
// turn can be written once the counter has moved.
func (c *Call) supersede() uint64 {
	c.sendMu.Lock()
	turn := c.floor.BeginTurn()
	c.sendMu.Unlock()
	c.synth.Cancel()
	return turn
}

func (c *Call) respond(turn uint64, text string) {
	knowledge := c.retrieve(text)
	if !c.floor.IsCurrent(turn) {
		c.dropStale(turn, "generate")
		return
	}

	history := c.historySnapshot()
	c.remember(llm.RoleUser, text)
	c.lat.GenerationStarted(turn)
	out := c.srv.deps.Generator.Generate(c.ctx, generator.Request{
		Utterance:    text,
		Context:      knowledge,
		SystemPrompt: c.agent.SystemPrompt,
		History:      history,
		Tools:        c.agent.Tools,
	})

	// Superseded output is drained, not spoken; the model call itself runs on.
	var said []string
	seq := 0
	for s := range out {
		if seq == 0 {
			c.lat.FirstSentence(turn)
		}
		spoken := c.speak(turn, seq, s.Text)
		switch {
		case s.Kind == generator.KindFiller:
			// the tool round runs while the filler plays
			if c.floor.IsCurrent(turn) {
				c.mirrorStage(session.StageToolExecution)
			}
		case spoken:
			said = append(said, s.Text)
		}
		seq++
	}
	c.remember(llm.RoleAssistant, strings.Join(said, " "))
	c.finishTurn(turn, nil)
}

// speakScript speaks fixed text, such as a greeting, as the given turn.
func (c *Call) speakScript(turn uint64, text string) {
	var said []string
	for seq, s := range llm.SplitSentences(text) {
		if c.speak(turn, seq, s) {
			said = append(said, s)
		}
	}
	c.remember(llm.RoleAssistant, strings.Join(said, " "))
	c.finishTurn(turn, nil)
}

// recognizerLost speaks the fallback phrase once, waits for it to play out
// and ends the call.
func (c *Call) recognizerLost() {
	metricRecognizerFallbacks.Inc()
	c.record("fallback", map[string]any{"reason": "recognizer_unavailable"})
	c.logger.Warn("speech recognition unavailable, ending call")

	turn := c.supersede()
	c.lat.DiscardBefore(turn)
	c.mirrorTurn(turn, session.StageSpeaking)

	if c.speak(turn, 0, c.srv.cfg.FallbackPhrase) {
		played := make(chan struct{})
		c.finishTurn(turn, played)
		select {
		case <-played:
		case <-c.ctx.Done():
		}
	}
	c.end("recognizer_unavailable")
}

// speak synthesizes one sentence for turn and queues its audio. The turn is
// checked before synthesis starts and again once audio is ready.
func (c *Call) speak(turn uint64, seq int, text string) bool {
	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	if !c.floor.IsCurrent(turn) {
		c.dropStale(turn, "synthesize")
		return false
	}
	c.lat.SynthesisStarted(turn, seq)
	c.mirrorStage(session.StageSpeaking)

	res, err := c.synthesize(turn, text)
	if err != nil {
		metricSynthesisFailures.Inc()
		c.record("fallback", map[string]any{"reason": "synthesis", "turn": turn})
		c.logger.Error("synthesis failed", zap.Uint64("turn", turn), zap.Error(err))
		return false
	}
	if res.Cancelled || !c.floor.IsCurrent(turn) {
		c.dropStale(turn, "send")
		return false
	}
	if len(res.Audio) == 0 {
		return false
	}
	c.lat.FirstAudioAt(turn, seq, res.Started, res.FirstByte)
	return c.enqueue(clip{turn: turn, audio: res.Audio})
}

// synthesize retries a failed sentence once, then tries the apology phrase.
func (c *Call) synthesize(turn uint64, text string) (tts.Result, error) {
	res, err := c.synth.Synthesize(c.ctx, text)
	if err == nil {
		return res, nil
	}
	c.logger.Warn("synthesis failed, retrying", zap.Uint64("turn", turn), zap.Error(err))
	if !c.floor.IsCurrent(turn) {
		return tts.Result{Cancelled: true}, nil
	}
	if res, err = c.synth.Synthesize(c.ctx, text); err == nil {
		return res, nil
	}
	apology := c.srv.deps.Generator.Apology()
	if text == apology || !c.floor.IsCurrent(turn) {
		return res, err
	}
	res, aerr := c.synth.Synthesize(c.ctx, apology)
	if aerr != nil {
		return res, fmt.Errorf("%w; apology: %v", err, aerr)
	}
	return res, nil
}

// finishTurn queues the end-of-turn marker behind the turn's audio.
func (c *Call) finishTurn(turn uint64, played chan struct{}) {
	c.enqueue(clip{turn: turn, finish: true, played: played})
}

func (c *Call) retrieve(query string) string {
	r := c.srv.deps.Retriever
	if r == nil || c.agent.KnowledgeBaseID == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(c.ctx, retrievalTimeout)
	defer cancel()
	text, err := r.Retrieve(ctx, query, c.agent.KnowledgeBaseID)
	if err != nil {
		metricRetrievalFailures.Inc()
		c.logger.Warn("retrieval failed, continuing without context", zap.Error(err))
		return ""
	}
	return text
}

func (c *Call) dropStale(turn uint64, stage string) {
	metricStaleDropped.WithLabelValues(stage).Inc()
	c.logger.Debug("dropping stale output", zap.Uint64("turn", turn), zap.String("stage", stage))
	c.record("stale_dropped", map[string]any{"turn": turn, "stage": stage})
}
