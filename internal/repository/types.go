package repository

import (
	"encoding/json"
	"time"
)

// ── Capabilities and lifecycle enums ─────────────────────────────────────────

// Capability identifies the agent loop a task is bound to.
type Capability string

const (
	CapabilityInvoiceParsing    Capability = "invoice_parsing"
	CapabilityPostingSuggestion Capability = "posting_suggestion"
	CapabilityLearning          Capability = "learning"
	CapabilityReconciliation    Capability = "reconciliation"
)

// Task lifecycle states. failed is terminal only once the retry budget is
// exhausted; before that Fail re-queues the task as pending.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// ReviewItem states. approved, corrected and rejected are terminal.
const (
	ReviewStatusPending    = "pending"
	ReviewStatusInProgress = "in_progress"
	ReviewStatusApproved   = "approved"
	ReviewStatusCorrected  = "corrected"
	ReviewStatusRejected   = "rejected"
)

// Issue categories attached to review items.
const (
	IssueUnknownVendor    = "unknown_vendor"
	IssueValidationFailed = "validation_failed"
	IssueAmountAnomaly    = "amount_anomaly"
	IssueUnusualStructure = "unusual_structure"
	IssueAccountMismatch  = "account_mismatch"
	IssueProcessingError  = "processing_error"
	IssueUnmatchedTx      = "unmatched_transaction"
)

// Event types the orchestrator understands.
const (
	EventDocumentReceived        = "document.received"
	EventDocumentParsed          = "document.parsed"
	EventCorrectionRecorded      = "correction.recorded"
	EventBankTransactionReceived = "bank_transaction.received"
)

// Performer kinds for audit entries.
const (
	PerformerAutomation = "automation"
	PerformerHuman      = "human"
)

// ── Event log ────────────────────────────────────────────────────────────────

// Event is one append-only record in the domain event log. Immutable once
// written except the processed flag, which the orchestrator sets exactly once.
type Event struct {
	ID        string
	TenantID  string
	Type      string
	Payload   json.RawMessage
	Processed bool
	CreatedAt time.Time
}

// ── Task queue ───────────────────────────────────────────────────────────────

// Task is one durable work item. Mutated only by the worker holding the
// claim (or the reaper once the lease expires).
type Task struct {
	ID             string
	TenantID       string
	Capability     Capability
	TaskType       string
	Status         string
	Priority       int // 1–10, higher claimed first
	Payload        json.RawMessage
	Result         json.RawMessage
	ErrorMessage   *string
	RetryCount     int
	MaxRetries     int
	ParentTaskID   *string
	ClaimedBy      *string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// ── Decisions and feedback ───────────────────────────────────────────────────

// Decision is one agent-proposed outcome with its confidence breakdown.
// Write-once except the human feedback fields.
type Decision struct {
	ID                string
	TenantID          string
	Capability        Capability
	SourceType        string
	SourceID          string
	InputData         json.RawMessage
	Decision          json.RawMessage
	ConfidenceScore   int // 0-100
	Reasoning         string
	PatternsUsed      []string
	FeedbackCorrect   *bool
	CorrectedDecision json.RawMessage
	FeedbackNotes     *string
	CreatedAt         time.Time
}

// ── Review queue ─────────────────────────────────────────────────────────────

// ReviewItem holds a decision awaiting human disposition.
type ReviewItem struct {
	ID             string
	TenantID       string
	SourceType     string
	SourceID       string
	DecisionID     *string
	Priority       int
	Status         string
	IssueCategory  string
	AISuggestion   json.RawMessage
	AIConfidence   int
	Details        *string // human-readable why: confidence breakdown or validation error
	ResolvedBy     *string
	ResolvedAt     *time.Time
	ResolutionNote *string
	ApplyToSimilar bool
	CreatedAt      time.Time
}

// Correction records what a human changed when resolving a review item.
type Correction struct {
	ID             string
	TenantID       string
	ReviewItemID   string
	VoucherID      *string
	SimilarityKey  string // normalized counterparty + corrected debit account
	OriginalEntry  json.RawMessage
	CorrectedEntry json.RawMessage
	Reason         string
	BatchID        *string
	CorrectedBy    string
	Consumed       bool // picked up by pattern synthesis
	CreatedAt      time.Time
}

// ── Pattern store ────────────────────────────────────────────────────────────

// Pattern scopes.
const (
	PatternScopeGlobal    = "global"
	PatternScopeClientSet = "client_set"
)

// Pattern is a reusable decision rule synthesized from repeated corrections.
type Pattern struct {
	ID              string
	PatternType     string
	Trigger         PatternTrigger
	Action          PatternAction
	Scope           string
	ClientIDs       []string // populated when Scope == client_set
	SuccessRate     float64
	TimesApplied    int
	TimesCorrect    int
	TimesIncorrect  int
	ConfidenceBoost int
	IsActive        bool
	CreatedFrom     []string // decision ids
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PatternTrigger is the stored predicate a decision input is matched against.
type PatternTrigger struct {
	Counterparty string `json:"counterparty,omitempty"`
	MinAmount    *int64 `json:"min_amount,omitempty"`
	MaxAmount    *int64 `json:"max_amount,omitempty"`
}

// PatternAction is the decision the pattern proposes when it matches.
type PatternAction struct {
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account,omitempty"`
	VATCode       string `json:"vat_code,omitempty"`
}

// ── Ledger ───────────────────────────────────────────────────────────────────

// Voucher is a committed double-entry ledger transaction. Immutable once
// committed; reversal creates a balancing voucher referencing the original.
type Voucher struct {
	ID             string
	ClientID       string
	SeriesCode     string
	SequenceNumber int64
	EntryDate      string // YYYY-MM-DD
	AccountingDate string // YYYY-MM-DD
	Period         int    // 1–12
	FiscalYear     int
	Description    string
	Currency       string
	SourceType     string
	SourceID       string
	Status         string
	IsReversed     bool
	ReversesID     *string // set on the balancing voucher
	CreatedBy      string
	CreatedAt      time.Time
	Lines          []*VoucherLine
}

// VoucherLine is one debit or credit leg. Amounts are int64 cents; exactly
// one of Debit/Credit is non-zero.
type VoucherLine struct {
	ID        string
	VoucherID string
	LineNo    int
	Account   string
	Debit     int64
	Credit    int64
	VATCode   *string
	VATAmount int64
}

// ── Reference data ───────────────────────────────────────────────────────────

// Client is one bookkeeping tenant.
type Client struct {
	ID                string
	TenantID          string
	Name              string
	BaseCurrency      string
	AutoPostThreshold int // 0–100 confidence gate for autonomous posting
	CreatedAt         time.Time
}

// Account is one chart-of-accounts entry for a client.
type Account struct {
	ID        string
	ClientID  string
	Code      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// AccountingPeriod is a lockable (fiscal_year, period) interval.
type AccountingPeriod struct {
	ClientID   string
	FiscalYear int
	Period     int
	IsClosed   bool
	ClosedBy   *string
	ClosedAt   *time.Time
}

// ── Audit log ────────────────────────────────────────────────────────────────

// AuditEntry is one immutable record in the audit log.
type AuditEntry struct {
	ID            string
	TenantID      string
	SubjectID     string
	SubjectType   string // task | voucher | review_item | pattern | event
	Action        string // created | claimed | completed | failed | reversed | approved | corrected | rejected | deactivated
	PerformerKind string // automation | human
	PerformerID   *string
	Confidence    *int
	Details       map[string]any
	CreatedAt     time.Time
}
