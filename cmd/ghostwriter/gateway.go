package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/channel/channels"
	"github.com/ghostwriter-im/ghostwriter/channel/channels/telegram"
	"github.com/ghostwriter-im/ghostwriter/channel/channels/whatsapp"
	"github.com/ghostwriter-im/ghostwriter/gateway"
	"github.com/ghostwriter-im/ghostwriter/gateway/accumulate"
	"github.com/ghostwriter-im/ghostwriter/gateway/admission"
	"github.com/ghostwriter-im/ghostwriter/gateway/assemble"
	"github.com/ghostwriter-im/ghostwriter/gateway/classify"
	"github.com/ghostwriter-im/ghostwriter/gateway/events"
	"github.com/ghostwriter-im/ghostwriter/gateway/generate"
	"github.com/ghostwriter-im/ghostwriter/gateway/hts"
	"github.com/ghostwriter-im/ghostwriter/gateway/llm"
	"github.com/ghostwriter-im/ghostwriter/gateway/metrics"
	"github.com/ghostwriter-im/ghostwriter/gateway/pause"
	"github.com/ghostwriter-im/ghostwriter/gateway/pipeline"
	"github.com/ghostwriter-im/ghostwriter/gateway/ratelimit"
	"github.com/ghostwriter-im/ghostwriter/gateway/scheduler"
	"github.com/ghostwriter-im/ghostwriter/internal/profile"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/kv/memkv"
	"github.com/ghostwriter-im/ghostwriter/kv/sqlitekv"
	"github.com/ghostwriter-im/ghostwriter/server"
	"github.com/ghostwriter-im/ghostwriter/store"
	"github.com/ghostwriter-im/ghostwriter/store/db"
)

// gatewayRuntime owns every long-lived component and their shutdown order.
type gatewayRuntime struct {
	profile *profile.Profile

	store    *store.Store
	kv       kv.Store
	llm      llm.Service
	bus      *events.Bus
	manager  *channels.Manager
	pipeline *pipeline.Coordinator
	sched    *scheduler.Scheduler
	relAcc   *accumulate.RelationshipAccumulator
	styleAcc *accumulate.StyleAccumulator
	pauses   *pause.Controller
	exporter *metrics.Exporter
	admin    *server.Server
	unwatch  func()

	cancelBg context.CancelFunc
	bg       sync.WaitGroup
}

// managerSender adapts the channel manager to the admission gate's
// auto-reply slice.
type managerSender struct {
	manager *channels.Manager
}

func (s *managerSender) Send(ctx context.Context, channelID channel.ID, contactID, text string) error {
	result := s.manager.Send(ctx, channelID, contactID, &channel.OutgoingMessage{To: contactID, Text: text})
	if !result.OK {
		return errors.Errorf("send failed: %s", result.Error)
	}
	return nil
}

func newKVStore(p *profile.Profile) (kv.Store, error) {
	switch p.KVDriver {
	case "memory":
		return memkv.New(), nil
	case "sqlite":
		return sqlitekv.New(p.KVDSN)
	default:
		return nil, errors.Errorf("unknown kv driver %q", p.KVDriver)
	}
}

// newGateway builds the full component graph. Nothing is running yet when it
// returns, Start launches the background loops.
func newGateway(ctx context.Context, p *profile.Profile) (*gatewayRuntime, error) {
	if !p.IsLLMEnabled() {
		return nil, errors.New("no LLM configured, set GHOSTWRITER_LLM_API_KEY or use the ollama provider")
	}

	dbDriver, err := db.NewDriver(p)
	if err != nil {
		return nil, errors.Wrap(err, "create db driver")
	}
	storeInstance := store.New(dbDriver)
	if err := storeInstance.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}

	kvStore, err := newKVStore(p)
	if err != nil {
		return nil, errors.Wrap(err, "create kv store")
	}

	llmService, err := llm.NewService(&llm.Config{
		Provider:   p.LLMProvider,
		APIKey:     p.LLMAPIKey,
		BaseURL:    p.LLMBaseURL,
		SmallModel: p.LLMSmallModel,
		LargeModel: p.LLMLargeModel,
		Timeout:    p.LLMTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create llm service")
	}

	cfg := gateway.FromProfile(p)
	bus := events.NewBus()
	manager := channels.NewManager()
	exporter := metrics.NewExporter(metrics.DefaultConfig())

	if p.TelegramBotToken != "" {
		manager.Register(telegram.New(telegram.Config{
			BotToken:   p.TelegramBotToken,
			SkipGroups: p.SkipGroups,
		}, manager))
	}
	if p.WhatsAppBridgeURL != "" {
		manager.Register(whatsapp.New(whatsapp.Config{
			BridgeURL:  p.WhatsAppBridgeURL,
			APIKey:     p.WhatsAppAPIKey,
			SkipGroups: p.SkipGroups,
		}, manager))
	}

	rules, err := admission.CompileDropRules(cfg.Admission.DropRules)
	if err != nil {
		return nil, errors.Wrap(err, "compile drop rules")
	}

	gate := admission.NewGate(storeInstance, kvStore, bus, rules, cfg.Admission, &managerSender{manager: manager})
	pauses := pause.NewController(kvStore, bus)
	limiter := ratelimit.New(kvStore, cfg.RateLimit, bus, pauses)
	sleep := pause.NewSleep(cfg.Sleep)
	classifier := classify.New(llmService)
	assembler := assemble.New(storeInstance, kvStore, cfg.CacheTTL)
	generator := generate.New(llmService, kvStore, cfg.OwnerName)
	generator.SetMetrics(exporter)
	dispatcher := hts.New(kvStore, manager, cfg.HTSMaxDelay)
	dispatcher.SetMetrics(exporter)
	styleAcc := accumulate.NewStyleAccumulator(kvStore, storeInstance)
	relAcc := accumulate.NewRelationshipAccumulator(kvStore, storeInstance)

	coordinator := pipeline.New(pipeline.Deps{
		Config:     cfg,
		KV:         kvStore,
		Store:      storeInstance,
		Bus:        bus,
		Gate:       gate,
		Limiter:    limiter,
		Pauses:     pauses,
		Sleep:      sleep,
		Classifier: classifier,
		Assembler:  assembler,
		Generator:  generator,
		Dispatcher: dispatcher,
		Style:      styleAcc,
		Metrics:    exporter,
	})
	manager.SetSink(coordinator.Submit)

	sched := scheduler.New(kvStore, storeInstance, coordinator)

	unwatch := exporter.WatchBus(bus)

	admin := server.New(p, storeInstance, kvStore, gate, pauses, limiter, exporter)

	return &gatewayRuntime{
		profile:  p,
		store:    storeInstance,
		kv:       kvStore,
		llm:      llmService,
		bus:      bus,
		manager:  manager,
		pipeline: coordinator,
		sched:    sched,
		relAcc:   relAcc,
		styleAcc: styleAcc,
		pauses:   pauses,
		exporter: exporter,
		admin:    admin,
		unwatch:  unwatch,
	}, nil
}

// gaugeSource feeds the metrics gauges from live pause and pairing
// state.
type gaugeSource struct {
	pauses *pause.Controller
	store  *store.Store
}

func (g *gaugeSource) PausedContacts(ctx context.Context) (int, error) {
	return g.pauses.PausedContacts(ctx)
}

func (g *gaugeSource) PendingPairing(ctx context.Context) (int, error) {
	requests, err := g.store.Pairing.List(ctx, store.PairingPending)
	if err != nil {
		return 0, err
	}
	return len(requests), nil
}

// Start launches the background loops and connects the transports.
func (g *gatewayRuntime) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	g.cancelBg = cancel

	go g.llm.Warmup(bgCtx)

	// Each loop is supervised: a panic in one accumulator must not take
	// the gateway down, it restarts with backoff instead.
	gauges := &gaugeSource{pauses: g.pauses, store: g.store}
	loops := []struct {
		name string
		run  func(context.Context)
	}{
		{"scheduler", g.sched.Run},
		{"relationship-accumulator", g.relAcc.Run},
		{"style-accumulator", g.styleAcc.Run},
		{"metrics-gauges", func(ctx context.Context) {
			g.exporter.RunGaugeLoop(ctx, gauges, g.bus)
		}},
	}
	g.bg.Add(len(loops))
	for _, loop := range loops {
		go func() {
			defer g.bg.Done()
			gateway.Supervise(bgCtx, loop.name, loop.run)
		}()
	}

	addr := net.JoinHostPort(g.profile.Addr, strconv.Itoa(g.profile.Port))
	go func() {
		if err := g.admin.Start(bgCtx, addr); err != nil {
			slog.Error("admin side-channel stopped", "error", err)
		}
	}()

	g.manager.ConnectAll(ctx)
}

// Shutdown stops intake first, then drains the background loops, then
// releases storage. Deferred messages and pending signals survive in kv.
func (g *gatewayRuntime) Shutdown() {
	fmt.Printf("%s\n", "Shutting down...")

	g.manager.SetSink(func(msg *channel.NormalizedMessage) {
		slog.Info("shutdown in progress, message dropped", "channel", msg.ChannelID, "message_id", msg.ID)
	})
	if err := g.manager.Close(); err != nil {
		slog.Error("failed to close channel manager", "error", err)
	}

	g.pipeline.Close()

	if g.cancelBg != nil {
		g.cancelBg()
	}
	done := make(chan struct{})
	go func() {
		g.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		slog.Warn("background loops did not drain in time")
	}

	g.unwatch()
	g.bus.Close()

	if err := g.kv.Close(); err != nil {
		slog.Error("failed to close kv store", "error", err)
	}
	if err := g.store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
}
