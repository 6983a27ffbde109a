// Command ordovox is the main entry point for the Ordovox voice order server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/ordovox/ordovox/internal/adminapi"
	"github.com/ordovox/ordovox/internal/call"
	"github.com/ordovox/ordovox/internal/callstore"
	"github.com/ordovox/ordovox/internal/catalog"
	"github.com/ordovox/ordovox/internal/config"
	"github.com/ordovox/ordovox/internal/extract"
	"github.com/ordovox/ordovox/internal/health"
	"github.com/ordovox/ordovox/internal/observe"
	"github.com/ordovox/ordovox/internal/order"
	"github.com/ordovox/ordovox/internal/resilience"
	"github.com/ordovox/ordovox/internal/stock"
	"github.com/ordovox/ordovox/pkg/provider/embeddings"
	ollamaembed "github.com/ordovox/ordovox/pkg/provider/embeddings/ollama"
	oaembed "github.com/ordovox/ordovox/pkg/provider/embeddings/openai"
	"github.com/ordovox/ordovox/pkg/provider/llm"
	"github.com/ordovox/ordovox/pkg/provider/llm/anyllm"
	oallm "github.com/ordovox/ordovox/pkg/provider/llm/openai"
	"github.com/ordovox/ordovox/pkg/provider/stt"
	"github.com/ordovox/ordovox/pkg/provider/stt/deepgram"
	"github.com/ordovox/ordovox/pkg/provider/tts"
	"github.com/ordovox/ordovox/pkg/provider/tts/elevenlabs"
	"github.com/ordovox/ordovox/pkg/provider/vad"
	"github.com/ordovox/ordovox/pkg/provider/vad/energy"
	"github.com/ordovox/ordovox/pkg/provider/vad/silero"
	"github.com/ordovox/ordovox/pkg/telephony/telnyx"
	"github.com/ordovox/ordovox/pkg/types"
)

const (
	defaultListenAddr = ":8080"
	defaultAdminAddr  = ":9090"

	// mediaPath is the websocket path configured in the Telnyx call-control
	// application.
	mediaPath = "/media"

	// ttsCacheEntries and ttsCacheTTL size the utterance cache. Fixed
	// prompts repeat on every call; 15 minutes keeps them warm through
	// normal traffic without pinning stale voices forever.
	ttsCacheEntries = 256
	ttsCacheTTL     = 15 * time.Minute

	// fallbackUtterance is spoken when the TTS backend fails mid-call.
	fallbackUtterance = "Un instant, je rencontre un problème technique."
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ordovox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ordovox: %v\n", err)
		}
		return 1
	}

	// The level var lets the config watcher adjust verbosity without a
	// restart.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("ordovox starting",
		"config", *configPath,
		"listen_addr", listenAddr(cfg),
		"admin_addr", adminAddr(cfg),
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "ordovox"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provs, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}

	// One pool serves the stock, order, and call stores. The catalog store
	// manages its own pool because it registers pgvector types per
	// connection.
	pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to create database pool", "error", err)
		return 1
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		slog.Error("database unreachable", "error", err)
		return 1
	}

	catalogStore, err := catalog.NewStore(ctx, cfg.Database.PostgresDSN, provs.embeddings)
	if err != nil {
		slog.Error("failed to open catalog store", "error", err)
		return 1
	}
	defer catalogStore.Close()

	stockPg, err := stock.NewPostgresServiceWithPool(ctx, pool)
	if err != nil {
		slog.Error("failed to open stock service", "error", err)
		return 1
	}
	stockSvc := stock.NewCachedService(stockPg, stock.DefaultReadTTL)

	orderStore, err := order.NewPostgresStoreWithPool(ctx, pool)
	if err != nil {
		slog.Error("failed to open order store", "error", err)
		return 1
	}

	callsStore, err := callstore.NewPostgresStoreWithPool(ctx, pool)
	if err != nil {
		slog.Error("failed to open call store", "error", err)
		return 1
	}

	orders := order.NewService(orderStore, stockSvc,
		order.WithReviewThresholds(cfg.Orders.ReviewTotalThreshold, cfg.Orders.ReviewConfidenceFloor))
	extractor := extract.New(provs.llm)

	voice := types.VoiceProfile{
		ID:        cfg.Dialogue.Voice.VoiceID,
		Provider:  cfg.Dialogue.Voice.Provider,
		Stability: cfg.Dialogue.Voice.Stability,
	}

	cacheOpts := []tts.CacheOption{tts.WithCacheLogger(logger)}
	if pcm := prewarmFallbackAudio(ctx, provs.tts, voice); pcm != nil {
		cacheOpts = append(cacheOpts, tts.WithFallbackAudio(pcm))
	}
	synth := tts.NewCache(provs.tts, ttsCacheEntries, ttsCacheTTL, cacheOpts...)

	registry := call.NewRegistry(cfg.Calls.MaxConcurrent, call.WithRegistryLogger(logger))

	orch := call.NewOrchestrator(call.Deps{
		Registry:  registry,
		STT:       provs.stt,
		TTS:       synth,
		Voice:     voice,
		Extractor: extractor,
		Catalog:   catalogStore,
		Stock:     stockSvc,
		Orders:    orders,
		Calls:     callsStore,
		VAD:       provs.vad,
		Logger:    logger,
	}, call.Config{
		SessionTimeout:    cfg.Calls.SessionTimeout.Std(),
		DrainTimeout:      cfg.Calls.DrainTimeout.Std(),
		OutboundQueueSize: cfg.Calls.OutboundQueueSize,
		CompanyName:       cfg.Dialogue.CompanyName,
		Language:          cfg.Dialogue.Language,
		Keywords:          keywordBoosts(cfg.Dialogue.Keywords),
		Deadlines: call.Deadlines{
			Extract:       cfg.Calls.Deadlines.Extract.Std(),
			Catalog:       cfg.Calls.Deadlines.Catalog.Std(),
			Stock:         cfg.Calls.Deadlines.Stock.Std(),
			TTSFirstChunk: cfg.Calls.Deadlines.TTSFirstChunk.Std(),
			Sink:          cfg.Calls.Deadlines.Sink.Std(),
		},
	})

	transport := telnyx.New(telnyx.WithLogger(logger))

	checks := health.New([]health.Checker{
		{Name: "database", Check: pool.Ping},
	}, health.WithHandlerLogger(logger))
	admin := adminapi.New(registry, callsStore,
		adminapi.WithLogger(logger),
		adminapi.WithHealth(checks),
		adminapi.WithMetrics(metrics),
	)

	mediaMux := http.NewServeMux()
	mediaMux.Handle(mediaPath, transport)
	mediaSrv := &http.Server{Addr: listenAddr(cfg), Handler: mediaMux}
	adminSrv := &http.Server{Addr: adminAddr(cfg), Handler: admin.Handler()}

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(levelVar, old, new)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("media listener ready", "addr", mediaSrv.Addr, "path", mediaPath)
		var err error
		if cfg.Server.TLS != nil {
			err = mediaSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = mediaSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		slog.Info("admin listener ready", "addr", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return acceptLoop(gctx, transport, orch)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		_ = transport.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = mediaSrv.Shutdown(shutdownCtx)
		_ = adminSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// acceptLoop drains the transport and runs one orchestrator session per
// call. Sessions own their full lifecycle; the loop only logs terminal
// errors.
func acceptLoop(ctx context.Context, transport *telnyx.Server, orch *call.Orchestrator) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sess, ok := <-transport.Accept():
			if !ok {
				return nil
			}
			go func() {
				if err := orch.HandleSession(ctx, sess); err != nil {
					if errors.Is(err, call.ErrAtCapacity) {
						slog.Warn("call refused at capacity", "call_id", sess.Info().CallID)
						return
					}
					slog.Error("call ended with error", "call_id", sess.Info().CallID, "error", err)
				}
			}()
		}
	}
}

// applyReload applies the hot-reloadable parts of a config change and warns
// about the rest.
func applyReload(levelVar *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DialogueChanged || d.KeywordsChanged {
		slog.Warn("dialogue settings changed; applies to new calls after restart")
	}
	if d.CallLimitsChanged {
		slog.Warn("call limits changed; restart required to apply")
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providers holds the instantiated provider set the orchestrator runs on.
type providers struct {
	stt        stt.Provider
	tts        tts.Provider
	llm        llm.Provider
	embeddings embeddings.Provider
	vad        vad.Engine
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai goes through the native SDK; the rest share the any-llm
	// pattern of optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{"anthropic", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return silero.New(modelPath)
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})
}

// buildProviders instantiates the providers named in cfg. STT, TTS, LLM, and
// embeddings are required; VAD is optional and the pipeline falls back to
// its energy gate when absent.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}

	var err error
	if ps.stt, err = reg.CreateSTT(cfg.Providers.STT); err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	if ps.tts, err = reg.CreateTTS(cfg.Providers.TTS); err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.llm = primary
	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			fb, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, fb)
			slog.Info("llm fallback registered", "name", entry.Name, "model", entry.Model)
		}
		ps.llm = group
	}

	if cfg.Providers.Embeddings.Name == "" {
		return nil, errors.New("providers.embeddings is required for catalog search")
	}
	if ps.embeddings, err = reg.CreateEmbeddings(cfg.Providers.Embeddings); err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		if ps.vad, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
	}

	for kind, name := range map[string]string{
		"stt":        cfg.Providers.STT.Name,
		"tts":        cfg.Providers.TTS.Name,
		"llm":        cfg.Providers.LLM.Name,
		"embeddings": cfg.Providers.Embeddings.Name,
		"vad":        cfg.Providers.VAD.Name,
	} {
		if name != "" {
			slog.Info("provider created", "kind", kind, "name", name)
		}
	}

	return ps, nil
}

// prewarmFallbackAudio synthesizes the degraded-mode utterance once at
// startup so a later TTS outage still leaves the caller with speech instead
// of silence. Best effort: on failure the cache runs without fallback audio.
func prewarmFallbackAudio(ctx context.Context, provider tts.Provider, voice types.VoiceProfile) []byte {
	synthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	text := make(chan string, 1)
	text <- fallbackUtterance
	close(text)

	stream, err := provider.SynthesizeStream(synthCtx, text, voice)
	if err != nil {
		slog.Warn("fallback audio prewarm failed", "error", err)
		return nil
	}
	var pcm []byte
	for chunk := range stream.Chunks() {
		pcm = append(pcm, chunk...)
	}
	if err := stream.Err(); err != nil {
		slog.Warn("fallback audio prewarm ended early", "error", err)
		return nil
	}
	if len(pcm) == 0 {
		slog.Warn("fallback audio prewarm returned no audio")
		return nil
	}
	return pcm
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func listenAddr(cfg *config.Config) string {
	if cfg.Server.ListenAddr != "" {
		return cfg.Server.ListenAddr
	}
	return defaultListenAddr
}

func adminAddr(cfg *config.Config) string {
	if cfg.Server.AdminAddr != "" {
		return cfg.Server.AdminAddr
	}
	return defaultAdminAddr
}

func keywordBoosts(kws []config.KeywordConfig) []types.KeywordBoost {
	if len(kws) == 0 {
		return nil
	}
	out := make([]types.KeywordBoost, len(kws))
	for i, kw := range kws {
		out[i] = types.KeywordBoost{Keyword: kw.Keyword, Boost: kw.Boost}
	}
	return out
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// untyped numbers as int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}
