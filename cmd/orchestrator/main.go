// Command orchestrator runs the bead workflow orchestrator: a supervised
// actor tree fronting an event-sourced Scheduler, worker pool, reconciler,
// checkpoint store, and timer/messaging subsystems.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel"

	"github.com/lprior-repo/oya-sub008/internal/actor"
	"github.com/lprior-repo/oya-sub008/internal/checkpoint"
	"github.com/lprior-repo/oya-sub008/internal/config"
	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
	"github.com/lprior-repo/oya-sub008/internal/logging"
	"github.com/lprior-repo/oya-sub008/internal/otelinit"
	"github.com/lprior-repo/oya-sub008/internal/projection"
	"github.com/lprior-repo/oya-sub008/internal/queue"
	"github.com/lprior-repo/oya-sub008/internal/reconciler"
	"github.com/lprior-repo/oya-sub008/internal/resilience"
	"github.com/lprior-repo/oya-sub008/internal/scheduler"
	"github.com/lprior-repo/oya-sub008/internal/supervisor"
	"github.com/lprior-repo/oya-sub008/internal/timers"
	"github.com/lprior-repo/oya-sub008/internal/trigger"
	"github.com/lprior-repo/oya-sub008/internal/worker"
)

func main() {
	logger := logging.Init("oya-orchestrator")

	cfgPath := os.Getenv("OYA_CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer := otelinit.InitTracer(ctx, "oya-orchestrator")
	shutdownMetrics, _, _ := otelinit.InitMetrics(ctx, "oya-orchestrator")
	defer otelinit.Flush(context.Background(), shutdownTracer)
	defer otelinit.Flush(context.Background(), shutdownMetrics)

	meter := otel.GetMeterProvider().Meter("oya-orchestrator")

	store := events.NewInMemoryStore()
	bus := events.NewInProcessBus(store)

	dispatch := queue.New(queue.FIFO, 1024)
	sched := scheduler.New(dispatch, bus, meter)

	allBeads := projection.NewManaged[projection.AllBeadsState](projection.AllBeads{})
	allBeads.CatchUp(store)
	projectionSub := bus.Subscribe(events.Pattern{})
	go func() {
		for e := range projectionSub.C() {
			allBeads.ApplyOne(e)
		}
	}()

	cbPath := cfg.Storage
	cpStore, err := checkpoint.Open(cbPath, zstd.SpeedDefault, meter)
	if err != nil {
		logger.Error("open checkpoint store", "error", err)
		os.Exit(1)
	}
	defer cpStore.Close()

	timerPersist, err := timers.OpenBoltPersistence(cbPath + ".timers")
	if err != nil {
		logger.Error("open timer store", "error", err)
		os.Exit(1)
	}
	timerSched := timers.New(timerPersist, func(ctx context.Context, t *timers.DurableTimer) {
		logger.Info("timer fired", "timer_id", t.ID.String())
	}, meter)
	if err := timerSched.Restore(ctx); err != nil {
		logger.Error("restore timers", "error", err)
	}

	httpExecutor := worker.NewResilientExecutor(worker.NewHTTPExecutor(nil), 3, 200*time.Millisecond)
	healthMonitor := worker.NewHealthMonitor(cfg.HeartbeatInterval, cfg.HeartbeatUnhealthy, cfg.HeartbeatDeadMisses, meter,
		func(h *worker.AgentHandle) {
			logger.Warn("agent declared unhealthy, requeuing in-flight bead", "agent_id", h.ID.String(), "bead_id", h.CurrentBead.String())
			if h.CurrentBead.IsZero() {
				return
			}
			if _, err := bus.Publish(events.Event{
				BeadID:    h.CurrentBead,
				AgentID:   h.ID,
				Kind:      events.KindFailed,
				Timestamp: time.Now(),
				Error:     "transient: agent missed heartbeats",
			}); err != nil {
				logger.Error("publish transient failure for unhealthy agent's bead", "bead_id", h.CurrentBead.String(), "error", err)
			}
		},
		func(h *worker.AgentHandle) {
			logger.Warn("agent declared dead", "agent_id", h.ID.String())
		},
	)
	pool := worker.NewAgentPool(worker.FIFOPolicy{}, healthMonitor).
		WithAdmissionLimiter(resilience.NewRateLimiter(32, 16, time.Second, 64))
	dispatchWorker := worker.NewWorker(pool, httpExecutor, bus, meter)

	reconcileExecutor := reconciler.NewResilientExecutor(noopActionExecutor{logger: logger}, 3, 100*time.Millisecond)
	recon := reconciler.New(allBeads, reconcileExecutor, cfg.ReconcileTick, cfg.ReconcileJitter, meter)

	trig := trigger.New(sched, meter)
	trig.Start()

	// Periodically snapshots the aggregate AllBeadsState projection so a
	// restart can resume from LastApplied instead of replaying from genesis.
	snapshotID := ids.NewWorkflowID()
	checkpointTimer := checkpoint.NewDurationTimer(cfg.ReconcileTick*4, func(ctx context.Context) {
		if _, err := cpStore.Create(ctx, snapshotID, allBeads.LastApplied(), allBeads.State()); err != nil {
			logger.Error("create checkpoint", "error", err)
		}
	}, meter)
	go checkpointTimer.Run(ctx)

	// Drains ready beads off the dispatch queue onto the worker pool. Mapping
	// a bead id to its BeadSpec (target URL, method, templated body) is the
	// caller's responsibility via the workflow definition it registered;
	// this loop assumes specs are resolvable by bead id alone, which holds
	// for the HTTP executor's flat addressing model.
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bead, ok := dispatch.Dequeue()
				if !ok {
					continue
				}
				agentID, err := pool.AssignBead(bead)
				if err != nil {
					logger.Warn("no capacity for ready bead", "bead_id", bead.String(), "error", err)
					continue
				}
				go func() {
					if err := dispatchWorker.HandleBead(ctx, bead, agentID, worker.BeadSpec{BeadID: bead.String()}); err != nil {
						logger.Error("bead execution failed", "bead_id", bead.String(), "agent_id", agentID.String(), "error", err)
					}
					pool.CompleteBead(agentID)
				}()
			}
		}
	}()

	root := actor.NewCancellationToken()
	sup := supervisor.New("root", supervisor.Config{
		MaxRestarts:       cfg.MaxRestarts,
		Window:            cfg.RestartWindow,
		InitialBackoff:    cfg.InitialBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxBackoff:        cfg.MaxBackoff,
		ShutdownGrace:     cfg.ShutdownGrace,
	}, root, meter)

	if err := sup.Spawn(ctx, supervisor.ChildSpec{
		Name: "timers",
		Start: func(ctx context.Context, token *actor.CancellationToken) error {
			go timerSched.Run(ctx)
			return nil
		},
		Stop: func(ctx context.Context) error { return nil },
	}); err != nil {
		logger.Error("spawn timers child", "error", err)
	}

	if err := sup.Spawn(ctx, supervisor.ChildSpec{
		Name: "reconciler",
		Start: func(ctx context.Context, token *actor.CancellationToken) error {
			go recon.Run(ctx)
			return nil
		},
		Stop: func(ctx context.Context) error { return nil },
	}); err != nil {
		logger.Error("spawn reconciler child", "error", err)
	}

	if err := sup.Spawn(ctx, supervisor.ChildSpec{
		Name: "health-monitor",
		Start: func(ctx context.Context, token *actor.CancellationToken) error {
			go healthMonitor.Run(ctx, pool)
			return nil
		},
		Stop: func(ctx context.Context) error { return nil },
	}); err != nil {
		logger.Error("spawn health monitor child", "error", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "supervisor": sup.State().String()})
	})
	server := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	_ = trig.Stop(shutdownCtx)
	sup.Shutdown(shutdownCtx)
	projectionSub.Cancel()
}

type noopActionExecutor struct {
	logger *slog.Logger
}

func (n noopActionExecutor) Execute(ctx context.Context, action reconciler.Action) error {
	n.logger.Info("reconcile action", "kind", action.Kind.String(), "bead_id", action.BeadID.String())
	return nil
}
