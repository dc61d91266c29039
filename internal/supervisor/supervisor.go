// Package supervisor implements the three-tier supervision tree: restart
// strategies, exponential backoff, meltdown detection and graceful shutdown
// propagation described for the Scheduler/Worker/Reconciler/Storage actors.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lprior-repo/oya-sub008/internal/actor"
)

// State is a supervisor's lifecycle state.
type State int

const (
	Starting State = iota
	Running
	Draining
	Meltdown
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Meltdown:
		return "meltdown"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config controls restart limits and backoff for one supervisor.
type Config struct {
	MaxRestarts       int
	Window            time.Duration
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	ShutdownGrace     time.Duration
	Strategy          RestartStrategy
}

// DefaultConfig mirrors the enumerated configuration defaults.
func DefaultConfig() Config {
	return Config{
		MaxRestarts:       3,
		Window:            60 * time.Second,
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
		ShutdownGrace:     5 * time.Second,
		Strategy:          OneForOne{},
	}
}

// ChildSpec describes one supervised child: a name, a start function
// returning a cancellable handle, and a stop function invoked on shutdown
// or restart.
type ChildSpec struct {
	Name  string
	Start func(ctx context.Context, token *actor.CancellationToken) error
	Stop  func(ctx context.Context) error
}

type childState struct {
	spec         ChildSpec
	token        *actor.CancellationToken
	failureTimes []time.Time // ring buffer, capped at MaxRestarts+1
	restarts     int
}

// Supervisor owns a homogeneous or heterogeneous set of children and applies
// its configured RestartStrategy on failure.
type Supervisor struct {
	name   string
	cfg    Config
	parent *actor.CancellationToken

	mu       sync.Mutex
	state    State
	children map[string]*childState
	order    []string // spawn order

	restartCounter metric.Int64Counter
	meltdownGauge  metric.Int64Counter
}

// New constructs a supervisor named name under parent's cancellation tree.
func New(name string, cfg Config, parent *actor.CancellationToken, meter metric.Meter) *Supervisor {
	if cfg.Strategy == nil {
		cfg.Strategy = OneForOne{}
	}
	restartCounter, _ := meter.Int64Counter("oya_supervisor_restarts_total")
	meltdownCounter, _ := meter.Int64Counter("oya_supervisor_meltdowns_total")
	return &Supervisor{
		name:           name,
		cfg:            cfg,
		parent:         parent,
		state:          Starting,
		children:       make(map[string]*childState),
		restartCounter: restartCounter,
		meltdownGauge:  meltdownCounter,
	}
}

// Spawn starts a new child under this supervisor.
func (s *Supervisor) Spawn(ctx context.Context, spec ChildSpec) error {
	s.mu.Lock()
	token := s.parent.Child()
	cs := &childState{spec: spec, token: token}
	s.children[spec.Name] = cs
	s.order = append(s.order, spec.Name)
	s.state = Running
	s.mu.Unlock()

	return s.start(ctx, cs)
}

func (s *Supervisor) start(ctx context.Context, cs *childState) error {
	if err := cs.spec.Start(ctx, cs.token); err != nil {
		s.onFailure(ctx, cs.spec.Name, err)
		return err
	}
	return nil
}

// ReportFailure is called by (or on behalf of) a child to signal it crashed.
// It records the failure, checks for meltdown, and applies the restart
// strategy if the supervisor is still healthy.
func (s *Supervisor) ReportFailure(ctx context.Context, childName string, reason error) {
	s.onFailure(ctx, childName, reason)
}

func (s *Supervisor) onFailure(ctx context.Context, childName string, reason error) {
	s.mu.Lock()
	cs, ok := s.children[childName]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	cs.failureTimes = append(cs.failureTimes, now)
	if len(cs.failureTimes) > s.cfg.MaxRestarts+1 {
		cs.failureTimes = cs.failureTimes[len(cs.failureTimes)-(s.cfg.MaxRestarts+1):]
	}

	melted := len(cs.failureTimes) >= s.cfg.MaxRestarts+1 &&
		now.Sub(cs.failureTimes[0]) <= s.cfg.Window

	if melted {
		s.state = Meltdown
		s.mu.Unlock()
		s.meltdownGauge.Add(ctx, 1, metric.WithAttributes(attribute.String("supervisor", s.name), attribute.String("child", childName)))
		slog.Error("supervisor meltdown", "supervisor", s.name, "child", childName, "restarts", cs.restarts)
		return
	}

	decision := s.cfg.Strategy.Decide(RestartContext{FailedChild: childName, Reason: reason, Siblings: append([]string{}, s.order...)})
	s.mu.Unlock()

	if decision.Stop {
		s.state = Stopped
		return
	}

	// OneForAll stops siblings in reverse spawn order before restarting all.
	if len(decision.Restart) > 1 {
		s.stopInReverseOrder(ctx, decision.Restart)
	}

	for i, name := range decision.Restart {
		cs := s.childOf(name)
		if cs == nil {
			continue
		}
		delay := Backoff(cs.restarts, s.cfg.InitialBackoff, s.cfg.BackoffMultiplier, s.cfg.MaxBackoff)
		cs.restarts++
		s.restartCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("supervisor", s.name), attribute.String("child", name)))
		slog.Info("supervisor restarting child", "supervisor", s.name, "child", name, "attempt", cs.restarts, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		s.mu.Lock()
		cs.token = s.parent.Child()
		s.mu.Unlock()
		_ = i
		if err := s.start(ctx, cs); err != nil {
			slog.Error("supervisor restart failed", "supervisor", s.name, "child", name, "error", err)
		}
	}
}

func (s *Supervisor) childOf(name string) *childState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.children[name]
}

func (s *Supervisor) stopInReverseOrder(ctx context.Context, names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		cs := s.childOf(names[i])
		if cs == nil {
			continue
		}
		cs.token.Cancel()
		if cs.spec.Stop != nil {
			_ = cs.spec.Stop(ctx)
		}
	}
}

// Shutdown propagates Shutdown to children in reverse spawn order, granting
// each the configured grace period to drain.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.state = Draining
	names := append([]string{}, s.order...)
	s.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
		s.stopInReverseOrder(gctx, names[i:i+1])
		cancel()
	}

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
