package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"yuzu/callagent/internal/agents"
	"yuzu/callagent/internal/api"
	"yuzu/callagent/internal/bridge"
	"yuzu/callagent/internal/config"
	"yuzu/callagent/internal/events"
	"yuzu/callagent/internal/generator"
	"yuzu/callagent/internal/health"
	"yuzu/callagent/internal/latency"
	"yuzu/callagent/internal/llm"
	"yuzu/callagent/internal/logging"
	"yuzu/callagent/internal/orchestrator"
	"yuzu/callagent/internal/retrieval"
	"yuzu/callagent/internal/session"
	"yuzu/callagent/internal/stt"
	"yuzu/callagent/internal/tools"
	"yuzu/callagent/internal/tts"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	catalog, err := agents.Load(cfg.Call.AgentsFile)
	if err != nil {
		logger.Fatal("load agents", zap.Error(err))
	}
	httpc := &http.Client{Timeout: cfg.LLM.Timeout}
	reg := tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(reg, nil); err != nil {
		logger.Fatal("register builtin tools", zap.Error(err))
	}
	if err := catalog.RegisterTools(reg, httpc); err != nil {
		logger.Fatal("register agent tools", zap.Error(err))
	}

	model := llm.NewClient(llm.ClientConfig{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		AzureEndpoint: cfg.LLM.AzureEndpoint,
		AzureAPIKey:   cfg.LLM.AzureAPIKey,
		Deployment:    cfg.LLM.Deployment,
		APIVersion:    cfg.LLM.APIVersion,
		Timeout:       cfg.LLM.Timeout,
	}, nil, logger)
	gen := generator.New(model, reg, generator.Config{
		MaxToolRounds: cfg.LLM.MaxToolRounds,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
	}, logger)

	voice := ttsProvider(cfg)
	sttCfg := stt.Config{
		APIKey:        cfg.Deepgram.APIKey,
		Model:         cfg.Deepgram.Model,
		Language:      cfg.Deepgram.Language,
		BaseURL:       cfg.Deepgram.WSURL,
		EndpointingMs: cfg.Deepgram.EndpointingMs,
		UtterEndMs:    cfg.Deepgram.UtterEndMs,
		MaxRetries:    cfg.Deepgram.MaxRetries,
		Backoff:       cfg.Deepgram.Backoff,
	}

	evlog := events.NewStore(15 * time.Minute)
	deps := orchestrator.Deps{
		Agents:    catalog,
		Store:     store,
		Events:    evlog,
		Generator: gen,
		Recognizers: func(ctx context.Context, callID string) orchestrator.Recognizer {
			return stt.New(ctx, sttCfg, stt.WebsocketDialer{}, logger.With(zap.String("call_id", callID)))
		},
		Synthesizers: func(a agents.Agent) orchestrator.Synthesizer {
			return tts.NewSynthesizer(voice.WithVoice(a.VoiceID), logger)
		},
		Report: latency.LogReporter(logger),
	}
	if cfg.Retrieval.URL != "" {
		deps.Retriever = retrieval.NewClient(cfg.Retrieval.URL, cfg.Retrieval.Limit)
	}
	orch := orchestrator.NewServer(orchestrator.Config{
		GhostTimeout:  cfg.Call.GhostTimeout,
		FrameBytes:    cfg.Call.FrameBytes,
		FrameInterval: cfg.Call.FrameInterval,
		HistoryLimit:  cfg.Call.HistoryLimit,
	}, deps, logger)

	var ready atomic.Bool
	ready.Store(true)
	checkDeps := func(ctx context.Context) health.HealthStatus { return health.CheckAll(ctx, cfg, store) }
	h := api.NewHandlers(store, evlog, orch, checkDeps, &ready, logger)
	media := bridge.NewHandler(orch.Bridge(), logger)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(logger, api.NewRouter(h, media)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, hs := startGRPCHealth(cfg.Server.GRPCHealthAddr, logger)

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("shutdown signal received; stopping server")
		ready.Store(false)
		if hs != nil {
			hs.Shutdown()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// End live calls before draining HTTP so their websockets close cleanly
		if err := orch.Shutdown(ctx); err != nil {
			logger.Warn("calls did not drain", zap.Error(err), zap.Int("active", orch.Active()))
		}
		_ = srv.Shutdown(ctx)
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
	}()

	logger.Info("server starting", zap.String("addr", addr), zap.Int("agents", catalog.Len()), zap.String("tts", voice.Name()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

// openStore prefers Redis and falls back to an in-process store, since the
// session record is advisory.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (session.Store, func()) {
	if cfg.Redis.URL == "" {
		return session.NewMemoryStore(cfg.Call.SessionTTL), func() {}
	}
	rs, err := session.OpenRedis(ctx, cfg.Redis.URL, cfg.Call.SessionTTL, logger)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory session store", zap.Error(err))
		return session.NewMemoryStore(cfg.Call.SessionTTL), func() {}
	}
	return rs, func() { _ = rs.Close() }
}

func ttsProvider(cfg config.Config) tts.Provider {
	if cfg.TTS.Provider == "deepgram" {
		return &tts.DeepgramAura{APIKey: cfg.Deepgram.APIKey, Model: cfg.Deepgram.TTSModel}
	}
	return &tts.ElevenLabs{APIKey: cfg.Eleven.APIKey, VoiceID: cfg.Eleven.VoiceID, ModelID: cfg.Eleven.ModelID}
}

func startGRPCHealth(addr string, logger *zap.Logger) (*grpc.Server, *grpchealth.Server) {
	if addr == "" {
		return nil, nil
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Warn("grpc health disabled", zap.String("addr", addr), zap.Error(err))
		return nil, nil
	}

	// keepalive for fast death detection
	kap := keepalive.ServerParameters{
		MaxConnectionIdle:     2 * time.Minute,
		MaxConnectionAge:      15 * time.Minute,
		MaxConnectionAgeGrace: 30 * time.Second,
		Time:                  30 * time.Second,
		Timeout:               10 * time.Second,
	}
	kasp := keepalive.EnforcementPolicy{
		MinTime:             10 * time.Second,
		PermitWithoutStream: true,
	}
	s := grpc.NewServer(grpc.KeepaliveParams(kap), grpc.KeepaliveEnforcementPolicy(kasp))
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		logger.Info("grpc health listening", zap.String("addr", addr))
		if err := s.Serve(l); err != nil {
			logger.Warn("grpc serve", zap.Error(err))
		}
	}()
	return s, hs
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}
