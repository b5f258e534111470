package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/billing/internal/ingest"
	"github.com/JonMunkholm/billing/internal/logging"
	"github.com/JonMunkholm/billing/internal/metrics"
)

type activeImport struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	result    *ImportResult
	listeners []chan ImportProgress
}

func (a *activeImport) snapshot() ImportProgress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

// update applies fn to the progress and fans the new snapshot out to
// subscribers. Slow subscribers miss intermediate updates.
func (a *activeImport) update(fn func(*ImportProgress)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn(&a.progress)
	for _, ch := range a.listeners {
		select {
		case ch <- a.progress:
		default:
		}
	}
}

func (a *activeImport) finish(result *ImportResult) {
	a.mu.Lock()
	a.result = result
	for _, ch := range a.listeners {
		close(ch)
	}
	a.listeners = nil
	a.mu.Unlock()
	close(a.done)
}

// StartImport queues the spooled file at req.Path and returns the import
// ID once an import slot is available. The file is removed when the import
// ends, and also when it cannot be started.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		s.removeSpool(req.Path)
		if errors.Is(err, ErrTooManyImports) {
			s.opts.Metrics.Rejected(metrics.RejectReasonTimeout)
		}
		return "", err
	}

	policy := req.Policy
	if policy == "" {
		policy = s.opts.Policy
	}

	id := uuid.New().String()
	importCtx, cancel := context.WithTimeout(context.Background(), s.opts.ImportTimeout)

	imp := &activeImport{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: ImportProgress{
			ImportID:   id,
			FileName:   req.FileName,
			Policy:     policy,
			DryRun:     req.DryRun,
			Phase:      PhaseQueued,
			BytesTotal: req.Size,
		},
	}

	s.mu.Lock()
	s.imports[id] = imp
	s.mu.Unlock()

	logger := logging.WithFields(ctx, "import_id", id, "file", req.FileName, "policy", policy)

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer s.removeSpool(req.Path)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in import", "panic", r)
				err := fmt.Errorf("internal error: %v", r)
				imp.update(func(p *ImportProgress) {
					p.Phase = PhaseFailed
					p.Error = err.Error()
				})
				imp.finish(&ImportResult{ImportID: id, FileName: req.FileName, Error: err.Error(), err: err})
				s.forgetLater(id)
			}
		}()

		report, err := s.runFile(importCtx, imp, req.Path, req.Size, policy, req.DryRun, logger)
		imp.finish(newResult(id, req.FileName, report, err))
		s.forgetLater(id)
	}()

	return id, nil
}

// ImportReader runs an import synchronously on the calling goroutine and
// honours the same timeout as StartImport. It does not queue for a slot:
// when every slot is taken it fails at once with ErrTooManyImports.
func (s *Service) ImportReader(ctx context.Context, fileName string, r io.Reader, size int64, policy ingest.Policy, dryRun bool) (*ingest.Report, error) {
	if !s.limiter.TryAcquire() {
		s.opts.Metrics.Rejected(metrics.RejectReasonBusy)
		return nil, ErrTooManyImports
	}
	defer s.limiter.Release()

	if policy == "" {
		policy = s.opts.Policy
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ImportTimeout)
	defer cancel()

	logger := logging.WithFields(ctx, "file", fileName, "policy", policy)
	return s.run(ctx, nil, r, size, policy, dryRun, logger)
}

func (s *Service) runFile(ctx context.Context, imp *activeImport, path string, size int64, policy ingest.Policy, dryRun bool, logger *slog.Logger) (*ingest.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		imp.update(func(p *ImportProgress) {
			p.Phase = PhaseFailed
			p.Error = err.Error()
		})
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	return s.run(ctx, imp, f, size, policy, dryRun, logger)
}

// run drives one batch. imp is nil for synchronous imports.
func (s *Service) run(ctx context.Context, imp *activeImport, r io.Reader, size int64, policy ingest.Policy, dryRun bool, logger *slog.Logger) (*ingest.Report, error) {
	counter := ingest.NewCountingReader(r, size)

	opts := []ingest.Option{
		ingest.WithPolicy(policy),
		ingest.WithLogger(logger),
		ingest.WithClock(s.opts.Now),
	}
	if dryRun {
		opts = append(opts, ingest.WithDryRun())
	}
	if imp != nil {
		opts = append(opts, ingest.WithProgress(s.opts.ProgressEvery, func(pr ingest.Progress) {
			imp.update(func(p *ImportProgress) {
				p.Attempted = pr.Attempted
				p.Succeeded = pr.Succeeded
				p.Failed = pr.Failed
				p.BytesRead = counter.BytesRead()
				p.ReadPercent = counter.Percent()
			})
		}))
		imp.update(func(p *ImportProgress) { p.Phase = PhaseRunning })
	}

	done := s.opts.Metrics.ImportStarted()
	defer done()

	logger.Info("import started", "bytes", size, "dry_run", dryRun)
	start := time.Now()
	report, err := ingest.NewCoordinator(s.backend, opts...).Run(ctx, ingest.ReadRecords(counter))
	s.opts.Metrics.ObserveReport(report, time.Since(start))

	if imp != nil {
		imp.update(func(p *ImportProgress) {
			p.BytesRead = counter.BytesRead()
			p.ReadPercent = counter.Percent()
			if report != nil {
				p.Attempted = report.Attempted
				p.Succeeded = report.Succeeded
				p.Failed = report.Failed
			}
			switch {
			case err != nil:
				p.Phase = PhaseRolledBack
				p.Error = err.Error()
			case report.Outcome == ingest.OutcomeCommitted:
				p.Phase = PhaseCommitted
			default:
				p.Phase = PhaseRolledBack
			}
		})
	}
	return report, err
}

func newResult(id, fileName string, report *ingest.Report, err error) *ImportResult {
	res := &ImportResult{ImportID: id, FileName: fileName, Report: report, err: err}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (s *Service) lookup(id string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	return imp, nil
}

// GetImportProgress returns the latest progress without blocking.
func (s *Service) GetImportProgress(id string) (ImportProgress, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return ImportProgress{}, err
	}
	return imp.snapshot(), nil
}

// SubscribeProgress returns a channel that receives the current progress
// immediately and every update after it. The channel is closed when the
// import finishes.
func (s *Service) SubscribeProgress(id string) (<-chan ImportProgress, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 16)

	imp.mu.Lock()
	defer imp.mu.Unlock()
	ch <- imp.progress
	if imp.result != nil {
		close(ch)
		return ch, nil
	}
	imp.listeners = append(imp.listeners, ch)
	return ch, nil
}

// CancelImport asks a running import to stop. The batch rolls back at the
// next row boundary unless its commit is already under way.
func (s *Service) CancelImport(id string) error {
	imp, err := s.lookup(id)
	if err != nil {
		return err
	}
	imp.cancel()
	return nil
}

// GetImportResult waits for the import to finish and returns its result.
func (s *Service) GetImportResult(ctx context.Context, id string) (*ImportResult, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-imp.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.result, nil
}

func (s *Service) forgetLater(id string) {
	time.AfterFunc(s.opts.ResultRetention, func() {
		s.mu.Lock()
		delete(s.imports, id)
		s.mu.Unlock()
	})
}

func (s *Service) removeSpool(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.opts.Logger.Warn("remove spooled upload", "path", path, "error", err)
	}
}
