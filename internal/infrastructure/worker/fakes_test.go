package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

type fakeTriggerRepo struct {
	mu       sync.Mutex
	triggers map[string]*entity.WorkflowTrigger
	updates  int
}

func newFakeTriggerRepo(ts ...*entity.WorkflowTrigger) *fakeTriggerRepo {
	r := &fakeTriggerRepo{triggers: make(map[string]*entity.WorkflowTrigger)}
	for _, t := range ts {
		r.triggers[t.ID] = t.Clone()
	}
	return r
}

func (r *fakeTriggerRepo) Create(ctx context.Context, t *entity.WorkflowTrigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[t.ID] = t.Clone()
	return nil
}

func (r *fakeTriggerRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowTrigger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.triggers[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (r *fakeTriggerRepo) UpdateTransition(ctx context.Context, t *entity.WorkflowTrigger, expectedStatus string, expectedRetryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.triggers[t.ID]
	if !ok || cur.Status != expectedStatus || cur.RetryCount != expectedRetryCount || cur.IsTerminal() {
		return port.ErrStaleTrigger
	}
	r.triggers[t.ID] = t.Clone()
	r.updates++
	return nil
}

func (r *fakeTriggerRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowTrigger, error) {
	return nil, nil
}

func (r *fakeTriggerRepo) ListByStatus(ctx context.Context, status string, after *entity.WorkflowTrigger, limit int) ([]*entity.WorkflowTrigger, error) {
	return nil, nil
}

func (r *fakeTriggerRepo) status(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggers[id].Status
}

func (r *fakeTriggerRepo) get(id string) *entity.WorkflowTrigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggers[id].Clone()
}

func (r *fakeTriggerRepo) set(id string, fn func(t *entity.WorkflowTrigger)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.triggers[id])
}

// scriptedEngine answers status queries from a script; the last entry repeats
type scriptedEngine struct {
	mu      sync.Mutex
	script  []scriptStep
	queries int
	block   chan struct{}
	entered chan struct{}
}

type scriptStep struct {
	status  string
	message string
	err     error
}

var errNetwork = errors.New("connection reset by peer")

func (e *scriptedEngine) Dispatch(ctx context.Context, payload []byte) (*port.DispatchResult, error) {
	return nil, errors.New("not used")
}

func (e *scriptedEngine) QueryStatus(ctx context.Context, executionID, scenarioID string) (*port.ExecutionStatus, error) {
	e.mu.Lock()
	block, entered := e.block, e.entered
	e.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.queries
	if idx >= len(e.script) {
		idx = len(e.script) - 1
	}
	e.queries++
	step := e.script[idx]
	if step.err != nil {
		return nil, step.err
	}
	return &port.ExecutionStatus{Status: step.status, Message: step.message, Raw: `{"status":"` + step.status + `"}`}, nil
}

func (e *scriptedEngine) Queries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queries
}

type notifications struct {
	mu       sync.Mutex
	statuses []string
}

func (n *notifications) record(ctx context.Context, t *entity.WorkflowTrigger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, t.Status)
}

func (n *notifications) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.statuses...)
}
