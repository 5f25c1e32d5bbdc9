package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"local-language/contract"
	"local-language/domain/event"
	"local-language/projection"
	"local-language/runtime/workers"
)

type OrchestratorConfig struct {
	Session            SessionConfig
	Coordinator        CoordinatorConfig
	Translation        workers.TranslationConfig
	TranslationWorkers int
	BufferSize         int
	SinkTimeout        time.Duration
	TypingTTL          time.Duration
	SweepInterval      time.Duration
}

// Orchestrator builds the engine and registers its workers: the loop, the
// domain event fan-out, the translation overlay and the typing sweeper.
type Orchestrator struct {
	mu          sync.Mutex
	log         *slog.Logger
	cfg         OrchestratorConfig
	supervisor  contract.ISupervisor
	loop        *Loop
	session     *Session
	coordinator *Coordinator
	overlay     *workers.TranslationOverlay
	sinks       []contract.EventSink
	events      chan event.DomainEvent
}

func NewOrchestrator(
	log *slog.Logger,
	supervisor contract.ISupervisor,
	dialer contract.Dialer,
	api contract.ChatAPI,
	translator contract.Translator,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultLoopBuffer
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = projection.DefaultTypingTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.TypingTTL / 6
	}
	events := make(chan event.DomainEvent, cfg.BufferSize)
	loop := NewLoop(log.With("component", "loop"), cfg.BufferSize)
	session := NewSession(log, dialer, loop, cfg.Session)
	overlay := workers.NewTranslationOverlay(log, translator, cfg.Translation)
	tracker := projection.NewTracker(cfg.TypingTTL)
	coordinator := NewCoordinator(log, session, loop, api, tracker, overlay, events, cfg.Coordinator)
	overlay.OnResult(coordinator.ApplyTranslation)

	return &Orchestrator{
		log:         log,
		cfg:         cfg,
		supervisor:  supervisor,
		loop:        loop,
		session:     session,
		coordinator: coordinator,
		overlay:     overlay,
		events:      events,
	}
}

func (o *Orchestrator) Session() *Session { return o.session }

func (o *Orchestrator) Coordinator() *Coordinator { return o.coordinator }

// Add registers sinks. Only sinks added before Start receive events.
func (o *Orchestrator) Add(sinks ...contract.EventSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks = append(o.sinks, sinks...)
}

// Start registers all workers and blocks until the supervisor returns.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	fanout := workers.NewEventFanout(o.log, o.events, o.cfg.SinkTimeout).Add(o.sinks...)
	sweeper := workers.NewTypingSweeper(o.log, o.coordinator.SweepTyping, o.cfg.SweepInterval)
	o.supervisor.Add(o.loop, fanout, sweeper)
	o.supervisor.Add(o.overlay.Workers(o.cfg.TranslationWorkers)...)
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers", "translation_workers", max(o.cfg.TranslationWorkers, 1))
	o.supervisor.Run(ctx)
	return nil
}

// Stop disconnects the session, then stops the workers.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.session.Disconnect()
	o.supervisor.Stop()
	o.loop.Stop()
}
