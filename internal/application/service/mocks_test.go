package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) HasError(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.errors {
		if e == msg {
			return true
		}
	}
	return false
}

// fakeClock advances only when told to
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockDocumentRepo struct {
	mu        sync.Mutex
	docs      map[string]*entity.DocumentRecord
	createErr error
}

func newMockDocumentRepo() *mockDocumentRepo {
	return &mockDocumentRepo{docs: make(map[string]*entity.DocumentRecord)}
}

func (m *mockDocumentRepo) Create(ctx context.Context, doc *entity.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if doc.Status == entity.DocumentStatusAvailable && (doc.StorageKey == "" || doc.ContentDigest == "") {
		return errors.New("CHECK constraint failed")
	}
	c := *doc
	m.docs[doc.ID] = &c
	return nil
}

func (m *mockDocumentRepo) GetByID(ctx context.Context, id string) (*entity.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	c := *d
	return &c, nil
}

func (m *mockDocumentRepo) ListBySourceForm(ctx context.Context, sourceFormID string) ([]*entity.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.DocumentRecord
	for _, d := range m.docs {
		if d.SourceFormID == sourceFormID {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockDocumentRepo) update(id string, fn func(d *entity.DocumentRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	fn(d)
	return nil
}

func (m *mockDocumentRepo) IncrementDownloadCount(ctx context.Context, id string) error {
	return m.update(id, func(d *entity.DocumentRecord) { d.DownloadCount++ })
}

func (m *mockDocumentRepo) RecordResend(ctx context.Context, id string, at time.Time) error {
	return m.update(id, func(d *entity.DocumentRecord) {
		d.ResendCount++
		d.LastResentAt = &at
	})
}

func (m *mockDocumentRepo) MarkSuperseded(ctx context.Context, id, supersededBy string) error {
	return m.update(id, func(d *entity.DocumentRecord) { d.SupersededBy = supersededBy })
}

func (m *mockDocumentRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

type mockTriggerRepo struct {
	mu        sync.Mutex
	triggers  map[string]*entity.WorkflowTrigger
	updateErr error
	listCalls int
}

func newMockTriggerRepo() *mockTriggerRepo {
	return &mockTriggerRepo{triggers: make(map[string]*entity.WorkflowTrigger)}
}

func (m *mockTriggerRepo) Create(ctx context.Context, t *entity.WorkflowTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[t.ID] = t.Clone()
	return nil
}

func (m *mockTriggerRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (m *mockTriggerRepo) UpdateTransition(ctx context.Context, t *entity.WorkflowTrigger, expectedStatus string, expectedRetryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	cur, ok := m.triggers[t.ID]
	if !ok || cur.Status != expectedStatus || cur.RetryCount != expectedRetryCount || cur.IsTerminal() {
		return port.ErrStaleTrigger
	}
	m.triggers[t.ID] = t.Clone()
	return nil
}

func (m *mockTriggerRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.WorkflowTrigger
	for _, t := range m.triggers {
		if t.Status == entity.TriggerStatusPending && t.NextRetryAt != nil && !t.NextRetryAt.After(now) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockTriggerRepo) ListByStatus(ctx context.Context, status string, after *entity.WorkflowTrigger, limit int) ([]*entity.WorkflowTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []*entity.WorkflowTrigger
	for _, t := range m.triggers {
		if t.Status == status && (after == nil || triggerAfter(t, after)) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return triggerAfter(out[j], out[i]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// triggerAfter reports whether a sorts after b by (created_at, id)
func triggerAfter(a, b *entity.WorkflowTrigger) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

type mockAuditRepo struct {
	mu        sync.Mutex
	entries   []*entity.AuditLogEntry
	appendErr error
}

func (m *mockAuditRepo) Append(ctx context.Context, e *entity.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	c := *e
	m.entries = append(m.entries, &c)
	return nil
}

func (m *mockAuditRepo) FindRecent(ctx context.Context, actorID, action, entityType, entityID string, since time.Time) (*entity.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *entity.AuditLogEntry
	for _, e := range m.entries {
		if e.ActorID == actorID && e.Action == action && e.EntityType == entityType && e.EntityID == entityID && !e.CreatedAt.Before(since) &&
			e.Outcome != entity.AuditOutcomeFailed {
			if found == nil || e.CreatedAt.After(found.CreatedAt) {
				found = e
			}
		}
	}
	return found, nil
}

func (m *mockAuditRepo) ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]*entity.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.AuditLogEntry
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAuditRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type mockObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]port.PutObjectInput
	putErr  error
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte), meta: make(map[string]port.PutObjectInput)}
}

func (m *mockObjectStore) Put(ctx context.Context, in port.PutObjectInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if _, ok := m.objects[in.Key]; ok {
		return port.ErrObjectExists
	}
	m.objects[in.Key] = append([]byte(nil), in.Content...)
	m.meta[in.Key] = in
	return nil
}

func (m *mockObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, port.ErrObjectNotFound
	}
	return b, nil
}

func (m *mockObjectStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.test/%s?expires_in=%d", key, int(ttl.Seconds())), nil
}

type mockRenderer struct {
	renderFunc func(ctx context.Context, templateID string, data map[string]interface{}) (*port.RenderedDocument, error)
}

func (m *mockRenderer) Render(ctx context.Context, templateID string, data map[string]interface{}) (*port.RenderedDocument, error) {
	if m.renderFunc != nil {
		return m.renderFunc(ctx, templateID, data)
	}
	return &port.RenderedDocument{Content: []byte("%PDF-1.7 " + templateID), MimeType: "application/pdf"}, nil
}

type mockEngine struct {
	mu           sync.Mutex
	dispatchFunc func(ctx context.Context, payload []byte) (*port.DispatchResult, error)
	calls        int
	payloads     [][]byte
}

func (m *mockEngine) Dispatch(ctx context.Context, payload []byte) (*port.DispatchResult, error) {
	m.mu.Lock()
	m.calls++
	m.payloads = append(m.payloads, payload)
	fn := m.dispatchFunc
	n := m.calls
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, payload)
	}
	return &port.DispatchResult{ExecutionID: fmt.Sprintf("exec-%d", n), ScenarioID: "docflow"}, nil
}

func (m *mockEngine) QueryStatus(ctx context.Context, executionID, scenarioID string) (*port.ExecutionStatus, error) {
	return &port.ExecutionStatus{Status: "running"}, nil
}

func (m *mockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockPoller struct {
	mu      sync.Mutex
	started []string
}

func (m *mockPoller) StartPolling(triggerID string, onStatusChange port.StatusChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, triggerID)
}

func (m *mockPoller) StopPolling(triggerID string) {}

func (m *mockPoller) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}

type mockPayments struct {
	mu      sync.Mutex
	refunds int
	getErr  error
}

func (m *mockPayments) GetPayment(ctx context.Context, paymentID string) (*port.PaymentSnapshot, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &port.PaymentSnapshot{ID: paymentID, Status: "succeeded", Currency: "usd", Amount: 49900, AmountReceived: 49900}, nil
}

func (m *mockPayments) Refund(ctx context.Context, req port.RefundRequest) (*port.RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds++
	return &port.RefundResult{RefundID: fmt.Sprintf("re_%d", m.refunds), Status: "succeeded", Currency: "usd", Amount: 49900}, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
