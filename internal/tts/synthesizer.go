package tts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Result struct {
	Audio     []byte
	Cancelled bool
	Started   time.Time
	FirstByte time.Time
}

// Synthesizer runs one synthesis at a time for a call. Cancel aborts the
// request in flight; a cancelled request never returns audio.
type Synthesizer struct {
	provider Provider
	logger   *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func NewSynthesizer(p Provider, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{provider: p, logger: logger.With(zap.String("component", "tts"), zap.String("provider", p.Name()))}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (Result, error) {
	res := Result{Started: time.Now()}
	if text == "" {
		return res, nil
	}

	rctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.gen++
	my := s.gen
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.gen == my {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	body, err := s.provider.Open(rctx, text)
	if err != nil {
		if rctx.Err() != nil {
			return s.cancelled(res), nil
		}
		ttsSynthesisTotal.WithLabelValues("error").Inc()
		return res, err
	}
	defer body.Close()

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, rerr := body.Read(chunk)
		if n > 0 {
			if res.FirstByte.IsZero() {
				res.FirstByte = time.Now()
				ttsFirstByteMS.Observe(float64(res.FirstByte.Sub(res.Started).Milliseconds()))
			}
			buf.Write(chunk[:n])
		}
		if rctx.Err() != nil {
			return s.cancelled(res), nil
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			ttsSynthesisTotal.WithLabelValues("error").Inc()
			return res, rerr
		}
	}

	res.Audio = buf.Bytes()
	ttsSynthesisTotal.WithLabelValues("ok").Inc()
	ttsTotalDurationMS.Observe(float64(time.Since(res.Started).Milliseconds()))
	s.logger.Debug("synthesized", zap.Int("chars", len(text)), zap.Int("bytes", len(res.Audio)),
		zap.Duration("took", time.Since(res.Started)))
	return res, nil
}

// Cancel aborts the synthesis in flight, if any.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

func (s *Synthesizer) cancelled(res Result) Result {
	ttsSynthesisTotal.WithLabelValues("cancelled").Inc()
	return Result{Cancelled: true, Started: res.Started}
}
