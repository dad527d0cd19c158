package orchestrator

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"yuzu/callagent/internal/session"
)

// playBurst lets a few frames go out back to back at the start of a clip.
const playBurst = 3

type clip struct {
	turn   uint64
	audio  []byte
	finish bool          // end of turn: the floor returns to the caller
	played chan struct{} // closed once the clip is sent or dropped
}

func (c *Call) enqueue(cl clip) bool {
	select {
	case c.playQ <- cl:
		return true
	case <-c.ctx.Done():
		if cl.played != nil {
			close(cl.played)
		}
		return false
	}
}

// playLoop sends queued audio in order, one frame per interval.
func (c *Call) playLoop() error {
	lim := rate.NewLimiter(rate.Every(c.srv.cfg.FrameInterval), playBurst)
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case cl := <-c.playQ:
			c.play(lim, cl)
		}
	}
}

func (c *Call) play(lim *rate.Limiter, cl clip) {
	if cl.played != nil {
		defer close(cl.played)
	}
	if cl.finish {
		if c.floor.Finish(cl.turn) {
			c.mirrorStage(session.StageListening)
		}
		return
	}
	size := c.srv.cfg.FrameBytes
	for off := 0; off < len(cl.audio); off += size {
		if err := lim.Wait(c.ctx); err != nil {
			return
		}
		end := min(off+size, len(cl.audio))
		if !c.sendFrame(cl.turn, cl.audio[off:end]) {
			return
		}
	}
}

// sendFrame writes one frame if turn is still current.
func (c *Call) sendFrame(turn uint64, frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.floor.IsCurrent(turn) {
		c.dropStale(turn, "frame")
		return false
	}
	if err := c.sink.SendAudio(c.ctx, frame); err != nil {
		c.logger.Debug("send audio failed", zap.Error(err))
		return false
	}
	metricOutboundFrames.Inc()
	return true
}
