package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/events"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/queue"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/infrastructure/config"
	sqlitestorage "github.com/Loggableim/ltth-desktop2-sub002/internal/infrastructure/persistence/sqlite"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/infrastructure/stream"
	ws "github.com/Loggableim/ltth-desktop2-sub002/internal/interface/api/ws"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/interface/player"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/metrics"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/engine"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/gate"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/speech"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/triggers"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/voices"
)

type Options struct {
	// DisableLocalPlayback skips the audio device sink, for headless runs.
	DisableLocalPlayback bool
}

// Runtime owns the assembled pipeline: storage, engines, queue, gate,
// triggers and the notification socket.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	cfg      *config.Config
	store    *sqlitestorage.Store
	bus      *events.Bus
	metrics  *metrics.Metrics
	engines  *engine.Registry
	queue    *queue.Manager
	gate     *gate.Gate
	voices   *voices.Service
	speech   *speech.Service
	triggers *triggers.Handler
	wsServer *ws.Server

	wg sync.WaitGroup
}

func Start(ctx context.Context, opts Options) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runtimeCtx, cancel := context.WithCancel(ctx)

	cfg, err := config.Load()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("logger: %w", err)
	}

	store, err := sqlitestorage.NewStore(cfg.DBPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	seedCredentials(runtimeCtx, store, cfg, log)

	bus := events.NewBus(log)
	m := metrics.New()

	registry := engine.NewRegistry(log)
	registerEngines(runtimeCtx, registry, store, cfg, log)

	g := gate.New(store, store, log)
	voiceSvc := voices.New(store, registry, bus, cfg.DefaultEngine, cfg.DefaultLanguage, log)

	var sink queue.Sink
	if !opts.DisableLocalPlayback {
		sink = player.New(log)
	}

	qm := queue.New(queue.Config{
		Engines:      registry,
		Bus:          bus,
		Metrics:      m,
		Sink:         sink,
		Log:          log,
		MaxQueueSize: cfg.QueueMax,
		RateLimit:    cfg.RateLimit,
		RateWindow:   cfg.RateWindow,
		SynthTimeout: cfg.SynthTimeout,
	})

	speechSvc := speech.New(g, qm, voiceSvc, registry, m, cfg.DefaultLanguage, log)
	trig := triggers.NewHandler(bus, speechSvc, cfg.EventsHighPriority, log)

	g.Reconfigure(gateSnapshot(runtimeCtx, store, trig))

	server := ws.NewServer(cfg.WSAddr, bus, speechSvc, m.Handler(), log)
	server.SetQueueControl(qm)
	server.SetGainService(voiceSvc)

	run := &Runtime{
		ctx:      runtimeCtx,
		cancel:   cancel,
		log:      log,
		cfg:      cfg,
		store:    store,
		bus:      bus,
		metrics:  m,
		engines:  registry,
		queue:    qm,
		gate:     g,
		voices:   voiceSvc,
		speech:   speechSvc,
		triggers: trig,
		wsServer: server,
	}

	qm.Start(runtimeCtx)
	trig.Start(runtimeCtx)

	if cfg.MetricsAddr != "" {
		if addr, err := run.startMetricsServer(runtimeCtx, cfg.MetricsAddr, m); err != nil {
			log.Warn("metrics listener not started", zap.Error(err))
		} else {
			log.Info("metrics listener started", zap.String("addr", addr.String()))
		}
	}

	run.wg.Add(1)
	go func() {
		defer run.wg.Done()
		if err := server.Start(runtimeCtx); err != nil {
			log.Error("ws server stopped", zap.Error(err))
			cancel()
		}
	}()

	log.Info("speech pipeline started",
		zap.String("ws_addr", cfg.WSAddr),
		zap.Strings("engines", registry.IDs()),
		zap.String("default_engine", cfg.DefaultEngine))

	return run, nil
}

// startMetricsServer exposes the Prometheus registry on its own listener,
// separate from the notification socket. Returns the bound address.
func (r *Runtime) startMetricsServer(ctx context.Context, addr string, m *metrics.Metrics) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		defer r.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return ln.Addr(), nil
}

// Stop tears the pipeline down in reverse construction order.
func (r *Runtime) Stop() {
	r.cancel()
	r.triggers.Stop()
	r.queue.Stop()
	r.wg.Wait()
	r.bus.Close()
	if err := r.store.Close(); err != nil {
		r.log.Warn("sqlite close", zap.Error(err))
	}
	_ = r.log.Sync()
}

func (r *Runtime) Wait() {
	<-r.ctx.Done()
}

// seedCredentials copies env-provided keys into the settings store unless
// a value is already stored there.
func seedCredentials(ctx context.Context, store *sqlitestorage.Store, cfg *config.Config, log *zap.Logger) {
	for engineID, key := range cfg.Credentials {
		if strings.TrimSpace(key) == "" {
			continue
		}
		settingKey := "credentials." + engineID
		if existing, err := store.GetSetting(ctx, settingKey); err == nil && strings.TrimSpace(existing) != "" {
			continue
		}
		if err := store.SetSetting(ctx, settingKey, key); err != nil {
			log.Warn("credential seed failed", zap.String("engine", engineID), zap.Error(err))
		}
	}
}

// registerEngines builds every adapter whose credential resolves. Keyless
// providers always register; a missing key skips that provider with a log
// line, never an abort.
func registerEngines(ctx context.Context, registry *engine.Registry, store *sqlitestorage.Store, cfg *config.Config, log *zap.Logger) {
	mode := engine.PerformanceMode(cfg.PerformanceMode)

	registry.Register(engine.NewGoogle(mode, log))
	registry.Register(engine.NewStreamElements(mode, log))

	type keyed struct {
		id    string
		build func(key string) (engine.Engine, error)
	}

	streamClient := stream.NewClient(cfg.StreamEndpoint, cfg.StreamTimeout, log)

	adapters := []keyed{
		{"elevenlabs", func(key string) (engine.Engine, error) { return engine.NewElevenLabs(key, mode, log) }},
		{"openai", func(key string) (engine.Engine, error) { return engine.NewOpenAI(key, mode, log) }},
		{"speechify", func(key string) (engine.Engine, error) { return engine.NewSpeechify(key, mode, log) }},
		{"fishaudio", func(key string) (engine.Engine, error) { return engine.NewFishAudio(key, mode, streamClient, log) }},
	}

	for _, a := range adapters {
		key := engine.ResolveCredential(ctx, store, engine.CredentialKeys(a.id)...)
		eng, err := a.build(key)
		if err != nil {
			log.Info("engine not configured", zap.String("engine", a.id), zap.Error(err))
			continue
		}
		registry.Register(eng)
	}
}

// gateSnapshot assembles the startup policy from stored settings and the
// trigger cooldown table.
func gateSnapshot(ctx context.Context, store *sqlitestorage.Store, trig *triggers.Handler) gate.Snapshot {
	snap := gate.Snapshot{
		Enabled:   true,
		Cooldowns: trig.Cooldowns(),
	}

	if v, err := store.GetSetting(ctx, "tts_enabled"); err == nil && strings.TrimSpace(v) != "" {
		snap.Enabled = strings.ToLower(strings.TrimSpace(v)) != "false"
	}
	if v, err := store.GetSetting(ctx, "min_rank"); err == nil {
		if rank, convErr := strconv.Atoi(strings.TrimSpace(v)); convErr == nil {
			snap.MinRank = domain.Rank(rank)
		}
	}
	if v, err := store.GetSetting(ctx, "require_permission_record"); err == nil {
		snap.RequireRecord = strings.ToLower(strings.TrimSpace(v)) == "true"
	}

	return snap
}
