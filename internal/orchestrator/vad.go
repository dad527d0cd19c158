package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"yuzu/callagent/internal/session"
	"yuzu/callagent/internal/stt"
)

// eventLoop consumes recognizer events. Voice activity is handled inline so
// an interruption is never queued behind turn work.
func (c *Call) eventLoop() error {
	events := c.rec.Events()
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case stt.EventSpeechStarted:
				c.interrupt()
			case stt.EventUtterance:
				c.utterance(ev.Text)
			case stt.EventFallback:
				c.group.Go(func() error {
					c.recognizerLost()
					return nil
				})
			}
		}
	}
}

// interrupt supersedes every turn in flight: the counter advances, the
// synthesis in flight is cancelled and the bridge drops buffered audio.
func (c *Call) interrupt() {
	c.sendMu.Lock()
	d := c.floor.Interrupt()
	c.sendMu.Unlock()
	c.synth.Cancel()
	if err := c.sink.Clear(c.ctx); err != nil {
		c.logger.Debug("clear failed", zap.Error(err))
	}
	c.lat.DiscardBefore(d.Turn)
	c.mirrorTurn(d.Turn, session.StageListening)

	metricVADStarts.Inc()
	if !d.BargeIn {
		return
	}
	metricBargeIn.Inc()
	c.mirror("interrupts", func(ctx context.Context, s session.Store) error {
		_, err := s.IncrementInterrupts(ctx, c.id)
		return err
	})
	c.record("interrupted", map[string]any{"superseded_turn": d.PreviousTurn, "turn": d.Turn})
	c.logger.Info("barge-in", zap.Uint64("superseded_turn", d.PreviousTurn), zap.Uint64("turn", d.Turn))
}
