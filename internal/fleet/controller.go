package fleet

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meshwork-labs/meshd/internal/agent"
	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
)

const defaultCycleInterval = 5 * time.Minute

// Controller owns the autonomy fleet lifecycle: it constructs agents
// from the type registry, registers them on the mesh, drives their
// cycles on jittered tickers, and stops them together. A weighted
// semaphore caps how many cycles run at once so a large catalog cannot
// stampede the host.
type Controller struct {
	cfg  config.FleetConfig
	deps Deps
	log  *logging.Logger

	mu     sync.Mutex
	agents map[string]*AutonomyAgent

	cancel context.CancelFunc
	group  *errgroup.Group
	sem    *semaphore.Weighted
}

// NewController builds the fleet from the registry, filtered by the
// configured type prefixes. No agent touches the mesh until Start.
func NewController(cfg config.FleetConfig, reg *agent.TypeRegistry, deps Deps) (*Controller, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("fleet: missing logger")
	}

	maxConcurrent := cfg.MaxConcurrentCycles
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger.Named("fleet"),
		agents: make(map[string]*AutonomyAgent),
		sem:    semaphore.NewWeighted(maxConcurrent),
	}

	for _, spec := range reg.List() {
		if !c.typeSelected(spec.Type) {
			continue
		}
		a, err := NewAutonomyAgent(spec, deps)
		if err != nil {
			return nil, err
		}
		c.agents[a.ID()] = a
	}
	return c, nil
}

// Start registers every agent and begins its cycle loop. Returns an
// error if any registration fails; agents registered before the
// failure are left on the mesh for the daemon's shutdown to clean up.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("fleet already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	c.cancel = cancel
	c.group = group

	for _, a := range c.agents {
		if err := a.Init(groupCtx); err != nil {
			cancel()
			return err
		}
	}

	for _, a := range c.agents {
		a := a
		group.Go(func() error {
			c.cycleLoop(groupCtx, a)
			return nil
		})
	}

	c.log.Info(ctx, "fleet started",
		zap.Int("agents", len(c.agents)),
		zap.Int64("max_concurrent_cycles", c.cfg.MaxConcurrentCycles))
	return nil
}

// Stop halts all cycle loops and waits for in-flight cycles to finish
// or the context to expire.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	group := c.group
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("fleet stop: %w", ctx.Err())
	}
}

// Agent returns one agent by mesh ID.
func (c *Controller) Agent(id string) (*AutonomyAgent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[id]
	return a, ok
}

// StatusAll snapshots every agent, sorted by ID.
func (c *Controller) StatusAll() []agent.Status {
	c.mu.Lock()
	agents := make([]*AutonomyAgent, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	c.mu.Unlock()

	out := make([]agent.Status, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Size returns how many agents the controller runs.
func (c *Controller) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.agents)
}

func (c *Controller) cycleLoop(ctx context.Context, a *AutonomyAgent) {
	interval := a.spec.CycleInterval
	if interval <= 0 {
		interval = c.cfg.DefaultInterval.Duration()
	}
	if interval <= 0 {
		interval = defaultCycleInterval
	}

	// Initial jitter spreads the catalog's first cycles apart.
	select {
	case <-time.After(jitter(interval)):
	case <-ctx.Done():
		a.setState(agent.StateStopped)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.runOnce(ctx, a)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			a.setState(agent.StateStopped)
			return
		}
	}
}

func (c *Controller) runOnce(ctx context.Context, a *AutonomyAgent) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer c.sem.Release(1)

	if _, err := a.RunCycle(ctx); err != nil && ctx.Err() == nil {
		c.log.Warn(ctx, "cycle failed",
			zap.String("agent_id", a.ID()), zap.Error(err))
	}
}

func (c *Controller) typeSelected(agentType string) bool {
	if len(c.cfg.TypePrefixes) == 0 {
		return true
	}
	for _, prefix := range c.cfg.TypePrefixes {
		if strings.HasPrefix(agentType, prefix) {
			return true
		}
	}
	return false
}

// jitter returns a random delay up to the interval, capped at 30s so
// long-cadence agents still report soon after startup.
func jitter(interval time.Duration) time.Duration {
	max := interval
	if max > 30*time.Second {
		max = 30 * time.Second
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
