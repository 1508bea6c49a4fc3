package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/client"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// In-memory fakes implementing the storage interfaces. The task queue fake
// reproduces the same conditional state transitions the SQL repository
// performs, so concurrency tests exercise the real claim contract.

// ── task queue ───────────────────────────────────────────────────────────────

type fakeTaskQueue struct {
	mu    sync.Mutex
	seq   int
	tasks map[string]*repository.Task
}

func newFakeTaskQueue() *fakeTaskQueue {
	return &fakeTaskQueue{tasks: make(map[string]*repository.Task)}
}

func (q *fakeTaskQueue) Enqueue(ctx context.Context, task *repository.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	task.ID = fmt.Sprintf("task-%d", q.seq)
	task.Status = repository.TaskStatusPending
	if task.Priority == 0 {
		task.Priority = 5
	}
	task.CreatedAt = time.Now().Add(time.Duration(q.seq) * time.Microsecond)
	q.tasks[task.ID] = task
	return nil
}

func (q *fakeTaskQueue) ClaimNext(ctx context.Context, capability repository.Capability, workerID string, lease time.Duration) (*repository.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *repository.Task
	for _, t := range q.tasks {
		if t.Status != repository.TaskStatusPending || t.Capability != capability {
			continue
		}
		if best == nil || t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.CreatedAt.Before(best.CreatedAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}

	now := time.Now()
	expires := now.Add(lease)
	best.Status = repository.TaskStatusInProgress
	best.StartedAt = &now
	best.ClaimedBy = &workerID
	best.LeaseExpiresAt = &expires

	cp := *best
	return &cp, nil
}

func (q *fakeTaskQueue) Complete(ctx context.Context, id string, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return apperrors.NotFound("task", id)
	}
	if t.Status == repository.TaskStatusCompleted && string(t.Result) == string(result) {
		return nil
	}
	if t.Status != repository.TaskStatusInProgress {
		return apperrors.Newf(apperrors.ErrCodeConflict, "task %s is not in progress", id)
	}
	now := time.Now()
	t.Status = repository.TaskStatusCompleted
	t.Result = result
	t.CompletedAt = &now
	return nil
}

func (q *fakeTaskQueue) Fail(ctx context.Context, id, errMsg string, retry bool) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return "", apperrors.NotFound("task", id)
	}
	t.ErrorMessage = &errMsg
	if retry && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = repository.TaskStatusPending
		t.ClaimedBy = nil
		t.LeaseExpiresAt = nil
	} else {
		now := time.Now()
		t.Status = repository.TaskStatusFailed
		t.CompletedAt = &now
	}
	return t.Status, nil
}

func (q *fakeTaskQueue) ReapExpired(ctx context.Context) (reclaimed, failed []string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, t := range q.tasks {
		if t.Status != repository.TaskStatusInProgress || t.LeaseExpiresAt == nil || t.LeaseExpiresAt.After(now) {
			continue
		}
		if t.RetryCount < t.MaxRetries {
			t.RetryCount++
			t.Status = repository.TaskStatusPending
			t.ClaimedBy = nil
			t.LeaseExpiresAt = nil
			reclaimed = append(reclaimed, t.ID)
		} else {
			t.Status = repository.TaskStatusFailed
			failed = append(failed, t.ID)
		}
	}
	return reclaimed, failed, nil
}

func (q *fakeTaskQueue) GetByID(ctx context.Context, id string) (*repository.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}
	cp := *t
	return &cp, nil
}

// ── event log ────────────────────────────────────────────────────────────────

type fakeEventLog struct {
	mu     sync.Mutex
	seq    int
	events []*repository.Event
}

func newFakeEventLog() *fakeEventLog {
	return &fakeEventLog{}
}

func (l *fakeEventLog) Append(ctx context.Context, ev *repository.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	ev.ID = fmt.Sprintf("event-%d", l.seq)
	ev.CreatedAt = time.Now()
	l.events = append(l.events, ev)
	return nil
}

func (l *fakeEventLog) ListUnprocessed(ctx context.Context, limit int) ([]*repository.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*repository.Event
	for _, ev := range l.events {
		if !ev.Processed {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *fakeEventLog) MarkProcessed(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.ID == id {
			if ev.Processed {
				return apperrors.Newf(apperrors.ErrCodeConflict, "event %s already processed", id)
			}
			ev.Processed = true
			return nil
		}
	}
	return apperrors.NotFound("event", id)
}

// ── decisions ────────────────────────────────────────────────────────────────

type fakeDecisionStore struct {
	mu        sync.Mutex
	seq       int
	decisions map[string]*repository.Decision
	stats     map[string]*repository.CounterpartyStats
}

func newFakeDecisionStore() *fakeDecisionStore {
	return &fakeDecisionStore{
		decisions: make(map[string]*repository.Decision),
		stats:     make(map[string]*repository.CounterpartyStats),
	}
}

func (s *fakeDecisionStore) Create(ctx context.Context, d *repository.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	d.ID = fmt.Sprintf("decision-%d", s.seq)
	d.CreatedAt = time.Now()
	s.decisions[d.ID] = d
	return nil
}

func (s *fakeDecisionStore) RecordFeedback(ctx context.Context, id string, correct bool, correctedDecision json.RawMessage, notes *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return apperrors.NotFound("decision", id)
	}
	if d.FeedbackCorrect != nil {
		return apperrors.Newf(apperrors.ErrCodeConflict, "decision %s already has feedback", id)
	}
	d.FeedbackCorrect = &correct
	d.CorrectedDecision = correctedDecision
	d.FeedbackNotes = notes
	return nil
}

func (s *fakeDecisionStore) GetByID(ctx context.Context, id string) (*repository.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, apperrors.NotFound("decision", id)
	}
	cp := *d
	return &cp, nil
}

func (s *fakeDecisionStore) GetCounterpartyStats(ctx context.Context, tenantID, counterparty string) (*repository.CounterpartyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[counterparty]; ok {
		cp := *st
		return &cp, nil
	}
	return &repository.CounterpartyStats{}, nil
}

// ── review queue ─────────────────────────────────────────────────────────────

type fakeReviewStore struct {
	mu    sync.Mutex
	seq   int
	items map[string]*repository.ReviewItem
}

func newFakeReviewStore() *fakeReviewStore {
	return &fakeReviewStore{items: make(map[string]*repository.ReviewItem)}
}

func (s *fakeReviewStore) Create(ctx context.Context, item *repository.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	item.ID = fmt.Sprintf("review-%d", s.seq)
	item.Status = repository.ReviewStatusPending
	item.CreatedAt = time.Now()
	s.items[item.ID] = item
	return nil
}

func (s *fakeReviewStore) GetByID(ctx context.Context, id string) (*repository.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, apperrors.NotFound("review item", id)
	}
	cp := *item
	return &cp, nil
}

func (s *fakeReviewStore) Resolve(ctx context.Context, id, status, resolvedBy string, note *string, applyToSimilar bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return apperrors.NotFound("review item", id)
	}
	if item.Status != repository.ReviewStatusPending && item.Status != repository.ReviewStatusInProgress {
		return apperrors.Newf(apperrors.ErrCodeConflict, "review item %s already resolved", id)
	}
	now := time.Now()
	item.Status = status
	item.ResolvedBy = &resolvedBy
	item.ResolvedAt = &now
	item.ResolutionNote = note
	item.ApplyToSimilar = applyToSimilar
	return nil
}

func (s *fakeReviewStore) ListPending(ctx context.Context, tenantID string, limit, offset int) ([]*repository.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.ReviewItem
	for _, item := range s.items {
		if item.TenantID == tenantID && item.Status == repository.ReviewStatusPending {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeReviewStore) byCategory(category string) []*repository.ReviewItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.ReviewItem
	for _, item := range s.items {
		if item.IssueCategory == category {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out
}

// ── corrections ──────────────────────────────────────────────────────────────

type fakeCorrectionStore struct {
	mu          sync.Mutex
	seq         int
	corrections []*repository.Correction
}

func newFakeCorrectionStore() *fakeCorrectionStore {
	return &fakeCorrectionStore{}
}

func (s *fakeCorrectionStore) Create(ctx context.Context, c *repository.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	c.ID = fmt.Sprintf("correction-%d", s.seq)
	c.CreatedAt = time.Now()
	s.corrections = append(s.corrections, c)
	return nil
}

func (s *fakeCorrectionStore) ListGroupsReady(ctx context.Context, tenantID string, minCount int) ([]*repository.SimilarityGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, c := range s.corrections {
		if c.TenantID == tenantID && !c.Consumed {
			counts[c.SimilarityKey]++
		}
	}
	var groups []*repository.SimilarityGroup
	for key, n := range counts {
		if n >= minCount {
			groups = append(groups, &repository.SimilarityGroup{
				TenantID:      tenantID,
				SimilarityKey: key,
				Count:         n,
			})
		}
	}
	return groups, nil
}

func (s *fakeCorrectionStore) ListByKey(ctx context.Context, tenantID, similarityKey string) ([]*repository.Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Correction
	for _, c := range s.corrections {
		if c.TenantID == tenantID && c.SimilarityKey == similarityKey && !c.Consumed {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCorrectionStore) MarkConsumed(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.corrections {
		for _, id := range ids {
			if c.ID == id {
				c.Consumed = true
			}
		}
	}
	return nil
}

// ── patterns ─────────────────────────────────────────────────────────────────

type fakePatternStore struct {
	mu       sync.Mutex
	seq      int
	patterns map[string]*repository.Pattern
}

func newFakePatternStore() *fakePatternStore {
	return &fakePatternStore{patterns: make(map[string]*repository.Pattern)}
}

func (s *fakePatternStore) Create(ctx context.Context, p *repository.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	p.ID = fmt.Sprintf("pattern-%d", s.seq)
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.patterns[p.ID] = p
	return nil
}

func (s *fakePatternStore) ListActive(ctx context.Context, clientID string) ([]*repository.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Pattern
	for _, p := range s.patterns {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakePatternStore) FindByTriggerCounterparty(ctx context.Context, counterparty string) (*repository.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patterns {
		if p.Trigger.Counterparty == counterparty {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakePatternStore) UpdateAction(ctx context.Context, id string, action repository.PatternAction, fromDecisions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return apperrors.NotFound("pattern", id)
	}
	p.Action = action
	p.IsActive = true
	p.CreatedFrom = append(p.CreatedFrom, fromDecisions...)
	p.UpdatedAt = time.Now()
	return nil
}

func (s *fakePatternStore) RecordApplication(ctx context.Context, id string, correct bool) (*repository.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil, apperrors.NotFound("pattern", id)
	}
	p.TimesApplied++
	if correct {
		p.TimesCorrect++
	} else {
		p.TimesIncorrect++
	}
	p.SuccessRate = float64(p.TimesCorrect) / float64(p.TimesApplied)
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (s *fakePatternStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return apperrors.NotFound("pattern", id)
	}
	p.IsActive = false
	return nil
}

// ── ledger ───────────────────────────────────────────────────────────────────

type fakeVoucherStore struct {
	mu       sync.Mutex
	seq      int
	counters map[string]int64 // clientID|seriesCode -> last sequence
	vouchers map[string]*repository.Voucher

	// periods, when set, mirrors the period re-check the SQL repository
	// performs inside the commit transaction. beforeCreate runs first,
	// standing in for whatever a concurrent writer got in between.
	periods      *fakePeriods
	beforeCreate func()
}

func newFakeVoucherStore() *fakeVoucherStore {
	return &fakeVoucherStore{
		counters: make(map[string]int64),
		vouchers: make(map[string]*repository.Voucher),
	}
}

func (s *fakeVoucherStore) Create(ctx context.Context, voucher *repository.Voucher) error {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.periods != nil {
		closed, _ := s.periods.IsClosed(ctx, voucher.ClientID, voucher.FiscalYear, voucher.Period)
		if closed {
			return apperrors.Newf(apperrors.ErrCodePeriodClosed,
				"period %d/%d is closed for client %s", voucher.FiscalYear, voucher.Period, voucher.ClientID)
		}
	}

	if voucher.ReversesID != nil {
		original, ok := s.vouchers[*voucher.ReversesID]
		if !ok {
			return apperrors.NotFound("voucher", *voucher.ReversesID)
		}
		if original.IsReversed {
			return apperrors.Newf(apperrors.ErrCodeConflict, "voucher %s already reversed", original.ID)
		}
		original.IsReversed = true
	}

	key := voucher.ClientID + "|" + voucher.SeriesCode
	s.counters[key]++
	voucher.SequenceNumber = s.counters[key]

	s.seq++
	voucher.ID = fmt.Sprintf("voucher-%d", s.seq)
	voucher.CreatedAt = time.Now()
	for i, line := range voucher.Lines {
		line.ID = fmt.Sprintf("%s-line-%d", voucher.ID, i+1)
		line.VoucherID = voucher.ID
	}
	s.vouchers[voucher.ID] = voucher
	return nil
}

func (s *fakeVoucherStore) GetByID(ctx context.Context, id string) (*repository.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return nil, apperrors.NotFound("voucher", id)
	}
	cp := *v
	return &cp, nil
}

func (s *fakeVoucherStore) FindByCreditTotal(ctx context.Context, clientID string, amount int64, limit int) ([]*repository.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Voucher
	for _, v := range s.vouchers {
		if v.ClientID != clientID || v.IsReversed {
			continue
		}
		var credit int64
		for _, line := range v.Lines {
			credit += line.Credit
		}
		if credit == amount {
			cp := *v
			out = append(out, &cp)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ── reference data ───────────────────────────────────────────────────────────

type fakeAccounts struct {
	codes map[string]bool
}

func (a *fakeAccounts) ActiveCodes(ctx context.Context, clientID string) (map[string]bool, error) {
	return a.codes, nil
}

type fakePeriods struct {
	mu     sync.Mutex
	closed map[string]bool
}

func newFakePeriods() *fakePeriods {
	return &fakePeriods{closed: make(map[string]bool)}
}

func (p *fakePeriods) IsClosed(ctx context.Context, clientID string, fiscalYear, period int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed[fmt.Sprintf("%s|%d|%d", clientID, fiscalYear, period)], nil
}

func (p *fakePeriods) close(clientID string, fiscalYear, period int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed[fmt.Sprintf("%s|%d|%d", clientID, fiscalYear, period)] = true
}

type fakeClients struct {
	clients map[string]*repository.Client
}

func (c *fakeClients) GetByID(ctx context.Context, id string) (*repository.Client, error) {
	cl, ok := c.clients[id]
	if !ok {
		return nil, apperrors.NotFound("client", id)
	}
	cp := *cl
	return &cp, nil
}

// ── audit and notifications ──────────────────────────────────────────────────

type fakeAuditLog struct {
	mu      sync.Mutex
	entries []*repository.AuditEntry
}

func (a *fakeAuditLog) Append(ctx context.Context, entry *repository.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry.ID = fmt.Sprintf("audit-%d", len(a.entries)+1)
	entry.CreatedAt = time.Now()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAuditLog) actions(subjectType string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		if e.SubjectType == subjectType {
			out = append(out, e.Action)
		}
	}
	return out
}

type publishedNotification struct {
	EventType  string
	ResourceID string
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []publishedNotification
}

func (n *fakeNotifier) Publish(ctx context.Context, eventType, tenantID, resourceType, resourceID string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, publishedNotification{EventType: eventType, ResourceID: resourceID})
}

// ── external collaborators ───────────────────────────────────────────────────

type fakeExtractor struct {
	fields *client.ExtractedFields
	err    error
}

func (e *fakeExtractor) Extract(ctx context.Context, documentRef string) (*client.ExtractedFields, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.fields, nil
}

type fakeReasoner struct {
	draft *client.DraftDecision
	err   error
}

func (r *fakeReasoner) Propose(ctx context.Context, req *client.ProposalContext) (*client.DraftDecision, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.draft, nil
}

type fakeRateSource struct {
	rate int64
	err  error
}

func (r *fakeRateSource) Rate(ctx context.Context, from, to, date string) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.rate, nil
}
