package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/config"
	"github.com/JonMunkholm/billing/internal/ingest"
	"github.com/JonMunkholm/billing/internal/metrics"
)

var (
	// ErrImportNotFound means the import ID is unknown or its result has
	// already been discarded.
	ErrImportNotFound = errors.New("import not found")

	// ErrTooManyImports is returned when no import slot frees up in time.
	ErrTooManyImports = errors.New("too many imports in progress")

	// ErrUnknownPlatform is returned by reports filtered by platform name.
	ErrUnknownPlatform = errors.New("unknown payment platform")

	// ErrBadRequest wraps malformed client input such as an unparsable body.
	ErrBadRequest = errors.New("bad request")
)

// Repository is the storage behind the API outside of imports.
type Repository interface {
	Ping(ctx context.Context) error

	ListCustomers(ctx context.Context) ([]billing.Customer, error)
	GetCustomer(ctx context.Context, id int64) (billing.Customer, error)
	CreateCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error)
	UpdateCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error)
	DeleteCustomer(ctx context.Context, id int64) error

	CustomerBalances(ctx context.Context) ([]billing.CustomerBalance, error)
	PendingInvoices(ctx context.Context) ([]billing.InvoiceView, error)
	TransactionsByPlatform(ctx context.Context, platformID int64) ([]billing.InvoiceView, error)
	ListPlatforms(ctx context.Context) ([]billing.Platform, error)
	GetPlatformByName(ctx context.Context, name string) (billing.Platform, error)
	Stats(ctx context.Context) (billing.Stats, error)
}

// Options tune import handling. Zero values fall back to defaults.
type Options struct {
	Policy          ingest.Policy
	ImportTimeout   time.Duration
	ProgressEvery   int
	ResultRetention time.Duration
	MaxConcurrent   int
	MaxWait         time.Duration

	Metrics *metrics.ImportMetrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := ingest.ParsePolicy(cfg.Import.Policy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Policy:          policy,
		ImportTimeout:   cfg.Import.Timeout,
		ProgressEvery:   cfg.Import.ProgressEvery,
		ResultRetention: cfg.Import.ResultRetention,
		MaxConcurrent:   cfg.Upload.MaxConcurrent,
		MaxWait:         cfg.Upload.MaxWaitTime,
	}, nil
}

// Service holds the application logic shared by the HTTP API and the CLI.
type Service struct {
	repo    Repository
	backend ingest.Backend
	opts    Options
	limiter *ImportLimiter

	mu      sync.RWMutex
	imports map[string]*activeImport
}

// NewService wires repo for reads and edits and backend for imports.
func NewService(repo Repository, backend ingest.Backend, opts Options) *Service {
	if opts.Policy == "" {
		opts.Policy = ingest.PolicyBestEffort
	}
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = 10 * time.Minute
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 50
	}
	if opts.ResultRetention <= 0 {
		opts.ResultRetention = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:    repo,
		backend: backend,
		opts:    opts,
		limiter: NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		imports: make(map[string]*activeImport),
	}
}

// DefaultPolicy is the failure policy used when a request names none.
func (s *Service) DefaultPolicy() ingest.Policy {
	return s.opts.Policy
}

// Ping checks that storage is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running imports finish or ctx ends. Used
// during shutdown.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
