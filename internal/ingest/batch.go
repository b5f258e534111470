package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Policy decides what a row-level failure does to the batch.
type Policy string

const (
	// PolicyBestEffort skips failed rows and commits the rest.
	PolicyBestEffort Policy = "best-effort"
	// PolicyAllOrNothing rolls the whole batch back on the first failed row.
	// Rows that needed defaults (MalformedRow warnings) count as failed.
	PolicyAllOrNothing Policy = "all-or-nothing"
)

// ParsePolicy accepts the policy names plus a few spellings seen in config
// files and query strings.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "best-effort", "best_effort", "besteffort":
		return PolicyBestEffort, nil
	case "all-or-nothing", "all_or_nothing", "allornothing", "atomic", "strict":
		return PolicyAllOrNothing, nil
	}
	return "", fmt.Errorf("unknown import policy %q (want best-effort or all-or-nothing)", s)
}

// UnitOfWork is one open storage transaction.
type UnitOfWork interface {
	Queries
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend opens units of work.
type Backend interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context) (UnitOfWork, error)

func (f BackendFunc) Begin(ctx context.Context) (UnitOfWork, error) { return f(ctx) }

// State is the lifecycle position of a Coordinator.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Outcome is how a batch ended.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// RowFailure identifies a row that was not stored.
type RowFailure struct {
	Line                 int    `json:"line" csv:"line"`
	IdentificationNumber string `json:"identification_number" csv:"identification_number"`
	InvoiceNumber        string `json:"invoice_number" csv:"invoice_number"`
	Kind                 Kind   `json:"kind" csv:"kind"`
	Reason               string `json:"reason" csv:"reason"`
}

// Report summarises a batch. After a rollback the success counters are
// zero since nothing was stored.
type Report struct {
	Policy               Policy       `json:"policy"`
	Outcome              Outcome      `json:"outcome"`
	DryRun               bool         `json:"dry_run,omitempty"`
	Attempted            int          `json:"attempted"`
	Succeeded            int          `json:"succeeded"`
	Failed               int          `json:"failed"`
	CustomersCreated     int          `json:"customers_created"`
	TransactionsInserted int          `json:"transactions_inserted"`
	TransactionsUpdated  int          `json:"transactions_updated"`
	Failures             []RowFailure `json:"failures"`
	Warnings             []Warning    `json:"warnings"`
	DurationMS           int64        `json:"duration_ms"`
}

// Progress is a point-in-time count passed to progress callbacks.
type Progress struct {
	Attempted int
	Succeeded int
	Failed    int
}

const rowSavepoint = "ingest_row"

// Coordinator drives one batch of records into storage inside a single unit
// of work. A Coordinator runs once; create a new one per batch.
type Coordinator struct {
	backend       Backend
	policy        Policy
	dryRun        bool
	now           func() time.Time
	logger        *slog.Logger
	progressEvery int
	onProgress    func(Progress)

	state atomic.Int32
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPolicy sets the failure policy. The default is PolicyBestEffort.
func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithDryRun rolls the unit of work back instead of committing, so the
// report shows what an import would do.
func WithDryRun() Option {
	return func(c *Coordinator) { c.dryRun = true }
}

// WithClock overrides the time source used for defaulted billing periods.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger used for row failures and batch outcome.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithProgress calls fn after every n attempted rows and once at the end.
func WithProgress(n int, fn func(Progress)) Option {
	return func(c *Coordinator) {
		if n < 1 {
			n = 1
		}
		c.progressEvery = n
		c.onProgress = fn
	}
}

// NewCoordinator returns an idle coordinator for backend.
func NewCoordinator(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend: backend,
		policy:  PolicyBestEffort,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state. Safe for concurrent use.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Policy returns the failure policy in effect.
func (c *Coordinator) Policy() Policy { return c.policy }

// Run processes records in order. It returns a report in every case; the
// error is non-nil when the batch rolled back. Cancelling ctx stops the
// batch between rows and rolls it back, but once the commit has been
// issued it runs to completion.
func (c *Coordinator) Run(ctx context.Context, records iter.Seq2[Record, error]) (*Report, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}

	start := c.now()
	b := &batch{
		Coordinator: c,
		report:      &Report{Policy: c.policy, DryRun: c.dryRun, Failures: []RowFailure{}, Warnings: []Warning{}},
	}
	defer func() { b.report.DurationMS = c.now().Sub(start).Milliseconds() }()

	uow, err := c.backend.Begin(ctx)
	if err != nil {
		c.state.Store(int32(StateRolledBack))
		b.report.Outcome = OutcomeRolledBack
		return b.report, fmt.Errorf("%w: begin: %w", ErrBackendUnavailable, err)
	}
	b.uow = uow
	b.gw = NewGateway(uow)

	for rec, srcErr := range records {
		if err := ctx.Err(); err != nil {
			return b.abort(ctx, fmt.Errorf("batch cancelled after %d rows: %w", b.report.Attempted, err))
		}
		if srcErr != nil {
			return b.abort(ctx, fmt.Errorf("%w: %w", ErrInvalidInput, srcErr))
		}

		if err := b.process(ctx, rec); err != nil {
			return b.abort(ctx, err)
		}
		if c.onProgress != nil && b.report.Attempted%c.progressEvery == 0 {
			c.onProgress(b.progress())
		}
	}

	if err := ctx.Err(); err != nil {
		return b.abort(ctx, fmt.Errorf("batch cancelled before commit: %w", err))
	}
	if c.dryRun {
		return b.finishDryRun(ctx)
	}
	return b.commit(ctx)
}

// batch is the per-run state of a Coordinator.
type batch struct {
	*Coordinator
	uow    UnitOfWork
	gw     *Gateway
	report *Report
}

func (b *batch) progress() Progress {
	return Progress{Attempted: b.report.Attempted, Succeeded: b.report.Succeeded, Failed: b.report.Failed}
}

// process stores one record. A non-nil return aborts the batch.
func (b *batch) process(ctx context.Context, rec Record) error {
	b.report.Attempted++
	row := Normalize(rec, b.now())
	b.report.Warnings = append(b.report.Warnings, row.Warnings...)

	if b.policy == PolicyAllOrNothing {
		if len(row.Warnings) > 0 {
			w := row.Warnings[0]
			return b.rowError(row, KindMalformedRow, fmt.Errorf("%w: %s: %s", ErrMalformedRow, w.Field, w.Message))
		}
		res, err := b.store(ctx, row)
		if err != nil {
			if kind := Classify(err); kind.RowLevel() {
				return b.rowError(row, kind, err)
			}
			return err
		}
		b.tally(res)
		return nil
	}

	if err := b.uow.Savepoint(ctx, rowSavepoint); err != nil {
		return err
	}
	res, err := b.store(ctx, row)
	if err != nil {
		kind := Classify(err)
		if !kind.RowLevel() {
			return err
		}
		if rbErr := b.uow.RollbackToSavepoint(ctx, rowSavepoint); rbErr != nil {
			return rbErr
		}
		b.fail(row, kind, err)
		return nil
	}
	if err := b.uow.ReleaseSavepoint(ctx, rowSavepoint); err != nil {
		return err
	}
	b.tally(res)
	return nil
}

type rowResult struct {
	customerCreated bool
	inserted        bool
}

func (b *batch) store(ctx context.Context, row Row) (rowResult, error) {
	var res rowResult
	customerID, created, err := b.gw.ResolveCustomer(ctx, row.Customer)
	if err != nil {
		return res, err
	}
	res.customerCreated = created

	res.inserted, err = b.gw.UpsertTransaction(ctx, customerID, row.Transaction)
	return res, err
}

func (b *batch) tally(res rowResult) {
	b.report.Succeeded++
	if res.customerCreated {
		b.report.CustomersCreated++
	}
	if res.inserted {
		b.report.TransactionsInserted++
	} else {
		b.report.TransactionsUpdated++
	}
}

func (b *batch) fail(row Row, kind Kind, err error) {
	b.report.Failed++
	b.report.Failures = append(b.report.Failures, RowFailure{
		Line:                 row.Line,
		IdentificationNumber: row.Customer.IdentificationNumber,
		InvoiceNumber:        row.Transaction.InvoiceNumber,
		Kind:                 kind,
		Reason:               err.Error(),
	})
	b.logger.Warn("import row skipped",
		"line", row.Line,
		"invoice_number", row.Transaction.InvoiceNumber,
		"kind", kind,
		"error", err,
	)
}

func (b *batch) rowError(row Row, kind Kind, err error) *RowError {
	re := &RowError{
		Line:                 row.Line,
		IdentificationNumber: row.Customer.IdentificationNumber,
		InvoiceNumber:        row.Transaction.InvoiceNumber,
		Kind:                 kind,
		Err:                  err,
	}
	b.report.Failed++
	b.report.Failures = append(b.report.Failures, re.failure())
	return re
}

// abort rolls the unit of work back and returns the error that caused it.
// Errors that are neither row failures, input problems nor cancellation
// are reported as ErrBackendUnavailable.
func (b *batch) abort(ctx context.Context, cause error) (*Report, error) {
	var re *RowError
	switch {
	case errors.As(cause, &re), errors.Is(cause, ErrInvalidInput),
		errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded),
		errors.Is(cause, ErrBackendUnavailable):
	default:
		cause = fmt.Errorf("%w: %w", ErrBackendUnavailable, cause)
	}

	if err := b.uow.Rollback(context.WithoutCancel(ctx)); err != nil {
		b.logger.Error("import rollback failed", "error", err)
	}
	b.state.Store(int32(StateRolledBack))

	b.report.Outcome = OutcomeRolledBack
	b.report.Succeeded = 0
	b.report.CustomersCreated = 0
	b.report.TransactionsInserted = 0
	b.report.TransactionsUpdated = 0
	if b.onProgress != nil {
		b.onProgress(b.progress())
	}

	b.logger.Warn("import rolled back",
		"policy", b.policy,
		"attempted", b.report.Attempted,
		"error", cause,
	)
	return b.report, cause
}

func (b *batch) commit(ctx context.Context) (*Report, error) {
	if err := b.uow.Commit(context.WithoutCancel(ctx)); err != nil {
		b.state.Store(int32(StateRolledBack))
		b.report.Outcome = OutcomeRolledBack
		b.report.Succeeded = 0
		b.report.CustomersCreated = 0
		b.report.TransactionsInserted = 0
		b.report.TransactionsUpdated = 0
		return b.report, fmt.Errorf("%w: commit: %w", ErrBackendUnavailable, err)
	}
	b.state.Store(int32(StateCommitted))
	b.report.Outcome = OutcomeCommitted
	if b.onProgress != nil {
		b.onProgress(b.progress())
	}

	b.logger.Info("import committed",
		"policy", b.policy,
		"attempted", b.report.Attempted,
		"succeeded", b.report.Succeeded,
		"failed", b.report.Failed,
		"warnings", len(b.report.Warnings),
	)
	return b.report, nil
}

// finishDryRun discards the work but keeps the counters so the report
// describes what a real import would have stored.
func (b *batch) finishDryRun(ctx context.Context) (*Report, error) {
	if err := b.uow.Rollback(context.WithoutCancel(ctx)); err != nil {
		b.state.Store(int32(StateRolledBack))
		b.report.Outcome = OutcomeRolledBack
		return b.report, fmt.Errorf("%w: rollback: %w", ErrBackendUnavailable, err)
	}
	b.state.Store(int32(StateRolledBack))
	b.report.Outcome = OutcomeRolledBack
	if b.onProgress != nil {
		b.onProgress(b.progress())
	}
	b.logger.Info("import dry run finished",
		"attempted", b.report.Attempted,
		"succeeded", b.report.Succeeded,
		"failed", b.report.Failed,
	)
	return b.report, nil
}
