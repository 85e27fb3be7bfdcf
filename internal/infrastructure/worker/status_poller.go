package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
	"github.com/garyjia/taxcredit-docflow/internal/domain/workflow"
)

// StatusPollerConfig holds polling intervals
type StatusPollerConfig struct {
	PollInterval time.Duration
	// RetryDelay is used after a failed status query or store error
	RetryDelay       time.Duration
	QueryTimeout     time.Duration
	IterationTimeout time.Duration
	StopTimeout      time.Duration
}

// DefaultStatusPollerConfig returns default configuration
func DefaultStatusPollerConfig() StatusPollerConfig {
	return StatusPollerConfig{
		PollInterval:     10 * time.Second,
		RetryDelay:       3 * time.Second,
		QueryTimeout:     15 * time.Second,
		IterationTimeout: 30 * time.Second,
		StopTimeout:      10 * time.Second,
	}
}

type pollLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StatusPoller runs one loop per triggered trigger until it reaches a terminal
// status. Iterations for the same trigger never overlap: a replacement loop
// waits for the loop it replaced to exit.
type StatusPoller struct {
	config  StatusPollerConfig
	repo    port.TriggerRepository
	engine  port.WorkflowEngine
	policy  workflow.Policy
	metrics port.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	loops   map[string]*pollLoop
	baseCtx context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewStatusPoller creates a new status poller
func NewStatusPoller(
	config StatusPollerConfig,
	repo port.TriggerRepository,
	engine port.WorkflowEngine,
	policy workflow.Policy,
	metrics port.Metrics,
	logger *zap.Logger,
) *StatusPoller {
	def := DefaultStatusPollerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = def.QueryTimeout
	}
	if config.IterationTimeout <= 0 {
		config.IterationTimeout = def.IterationTimeout
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = def.StopTimeout
	}
	if metrics == nil {
		metrics = port.NopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &StatusPoller{
		config:  config,
		repo:    repo,
		engine:  engine,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		loops:   make(map[string]*pollLoop),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// StartPolling starts a loop for triggerID, replacing any loop already running for it
func (p *StatusPoller) StartPolling(triggerID string, onStatusChange port.StatusChangeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.logger.Warn("Status poller stopped, ignoring start", zap.String("trigger_id", triggerID))
		return
	}

	var prev <-chan struct{}
	if old, ok := p.loops[triggerID]; ok {
		old.cancel()
		prev = old.done
		p.logger.Debug("Replacing poll loop", zap.String("trigger_id", triggerID))
	}

	ctx, cancel := context.WithCancel(p.baseCtx)
	loop := &pollLoop{cancel: cancel, done: make(chan struct{})}
	p.loops[triggerID] = loop
	p.metrics.SetActivePollers(len(p.loops))

	p.wg.Add(1)
	go p.run(ctx, triggerID, onStatusChange, loop, prev)
}

// StopPolling cancels future iterations for triggerID. An iteration already
// in flight still completes.
func (p *StatusPoller) StopPolling(triggerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if loop, ok := p.loops[triggerID]; ok {
		loop.cancel()
		delete(p.loops, triggerID)
		p.metrics.SetActivePollers(len(p.loops))
	}
}

// StopAll cancels every loop without forcing any transition
func (p *StatusPoller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, loop := range p.loops {
		loop.cancel()
		delete(p.loops, id)
	}
	p.metrics.SetActivePollers(0)
}

// ActiveCount returns the number of registered loops
func (p *StatusPoller) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loops)
}

// IsPolling reports whether triggerID has a registered loop
func (p *StatusPoller) IsPolling(triggerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[triggerID]
	return ok
}

// Start implements Worker. Loops are started on demand by StartPolling.
func (p *StatusPoller) Start(ctx context.Context) error {
	p.logger.Info("StatusPoller started",
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Duration("retry_delay", p.config.RetryDelay))
	return nil
}

// Stop cancels all loops and waits for in-flight iterations to finish
func (p *StatusPoller) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.StopAll()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("StatusPoller stopped")
		return nil
	case <-time.After(p.config.StopTimeout):
		return errors.New("timed out waiting for poll iterations to finish")
	}
}

func (p *StatusPoller) Name() string {
	return "StatusPoller"
}

func (p *StatusPoller) deregister(triggerID string, loop *pollLoop) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loops[triggerID] == loop {
		delete(p.loops, triggerID)
		p.metrics.SetActivePollers(len(p.loops))
	}
}

func (p *StatusPoller) run(ctx context.Context, triggerID string, fn port.StatusChangeFunc, loop *pollLoop, prev <-chan struct{}) {
	defer p.wg.Done()
	defer close(loop.done)
	defer p.deregister(triggerID, loop)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, stop := p.iterate(ctx, triggerID, fn)
		if stop {
			return
		}
		timer.Reset(next)
	}
}

// iterate runs one poll and returns the delay before the next one. The
// iteration is detached from loop cancellation so a started update is applied.
func (p *StatusPoller) iterate(loopCtx context.Context, triggerID string, fn port.StatusChangeFunc) (time.Duration, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(loopCtx), p.config.IterationTimeout)
	defer cancel()

	t, err := p.repo.GetByID(ctx, triggerID)
	if err != nil {
		p.logger.Error("Failed to load trigger for polling", zap.String("trigger_id", triggerID), zap.Error(err))
		return p.config.RetryDelay, false
	}
	if t == nil {
		p.logger.Warn("Polled trigger no longer exists", zap.String("trigger_id", triggerID))
		return 0, true
	}
	if t.IsTerminal() {
		p.notify(ctx, fn, t)
		return 0, true
	}
	if t.Status != entity.TriggerStatusTriggered {
		p.logger.Debug("Trigger not awaiting completion, stopping poll",
			zap.String("trigger_id", triggerID),
			zap.String("status", t.Status))
		return 0, true
	}

	var obs *workflow.Observation
	queryFailed := false
	if t.ExecutionID != "" {
		qctx, qcancel := context.WithTimeout(ctx, p.config.QueryTimeout)
		st, err := p.engine.QueryStatus(qctx, t.ExecutionID, t.ScenarioID)
		qcancel()
		if err != nil {
			queryFailed = true
			p.logger.Warn("Execution status query failed",
				zap.String("trigger_id", triggerID),
				zap.String("execution_id", t.ExecutionID),
				zap.Error(err))
		} else {
			obs = &workflow.Observation{Status: st.Status, Message: st.Message, Raw: st.Raw}
		}
	}

	expectedStatus, expectedRetries := t.Status, t.RetryCount
	next := t.Clone()
	res, err := p.policy.EvaluatePoll(next, obs, p.now().UTC())
	if err != nil {
		if workflow.IsUnrecognized(err) {
			p.logger.Error("Unrecognized execution status",
				zap.String("trigger_id", triggerID),
				zap.String("execution_id", t.ExecutionID),
				zap.String("status", obs.Status))
		} else {
			p.logger.Error("Failed to evaluate poll", zap.String("trigger_id", triggerID), zap.Error(err))
		}
		return p.config.RetryDelay, false
	}

	if !res.Changed {
		if queryFailed {
			return p.config.RetryDelay, false
		}
		return p.config.PollInterval, false
	}

	if err := p.repo.UpdateTransition(ctx, next, expectedStatus, expectedRetries); err != nil {
		if errors.Is(err, port.ErrStaleTrigger) {
			p.logger.Debug("Trigger changed concurrently, reloading", zap.String("trigger_id", triggerID))
			return 0, false
		}
		p.logger.Error("Failed to persist trigger transition",
			zap.String("trigger_id", triggerID),
			zap.String("to_status", next.Status),
			zap.Error(err))
		return p.config.RetryDelay, false
	}

	p.logger.Info("Trigger transitioned by poll",
		zap.String("trigger_id", triggerID),
		zap.String("signal", string(res.Signal)),
		zap.String("status", next.Status))

	p.notify(ctx, fn, next)
	return 0, next.IsTerminal()
}

func (p *StatusPoller) notify(ctx context.Context, fn port.StatusChangeFunc, t *entity.WorkflowTrigger) {
	if fn != nil {
		fn(ctx, t)
	}
}

var _ port.TriggerPoller = (*StatusPoller)(nil)
