package harvest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/pbaille/geoharvest/internal/config"
	"github.com/pbaille/geoharvest/internal/csw"
	"github.com/pbaille/geoharvest/internal/domain"
	"github.com/pbaille/geoharvest/internal/fetcher"
)

// DatasetStore persists harvested datasets.
type DatasetStore interface {
	GetOrCreate(ctx context.Context, sourceID, remoteID string) (*domain.Dataset, error)
	Query(ctx context.Context, f domain.DatasetFilter) ([]domain.Dataset, error)
	Save(ctx context.Context, ds *domain.Dataset) error
}

// JobLog records the lifecycle of harvest jobs.
type JobLog interface {
	StartJob(ctx context.Context, source string) (*domain.JobRecord, error)
	AddJobError(ctx context.Context, jobID, remoteID, message string) error
	FinishJob(ctx context.Context, job *domain.JobRecord) error
}

// LicenseRegistry resolves license codes.
type LicenseRegistry interface {
	Resolve(ctx context.Context, code string) (*domain.License, error)
}

// Reconciler flags datasets the job did not touch.
type Reconciler interface {
	Reconcile(ctx context.Context, src config.Source, result *domain.JobResult) ([]domain.Dataset, error)
}

// Walker yields the normalized items of one source.
type Walker interface {
	Walk(ctx context.Context) iter.Seq2[domain.Item, error]
}

// WalkerFactory builds the walker for a source.
type WalkerFactory func(src config.Source, logger *slog.Logger) (Walker, error)

// Runner executes harvest jobs: walk, map, save, then reconcile.
type Runner struct {
	store      DatasetStore
	jobs       JobLog
	licenses   LicenseRegistry
	reconciler Reconciler
	newWalker  WalkerFactory
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWalkerFactory replaces the backend-based walker selection.
func WithWalkerFactory(f WalkerFactory) RunnerOption {
	return func(r *Runner) { r.newWalker = f }
}

// NewRunner creates a Runner.
func NewRunner(store DatasetStore, jobs JobLog, licenses LicenseRegistry, reconciler Reconciler, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:      store,
		jobs:       jobs,
		licenses:   licenses,
		reconciler: reconciler,
		newWalker:  NewWalker,
		logger:     logger,
		running:    make(map[string]bool),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewWalker picks the walker matching the source backend.
func NewWalker(src config.Source, logger *slog.Logger) (Walker, error) {
	f := fetcher.New(fetcher.Config{Timeout: src.Timeout, VerifySSL: src.VerifySSL})
	switch src.Backend {
	case config.BackendCSW:
		return NewCatalogWalker(csw.New(src.URL, f),
			WithPageSize(src.PageSize),
			WithPageDelay(src.PageDelay),
			WithCatalogLogger(logger),
		), nil
	case config.BackendFlat:
		return NewFlatWalker(f, src.URL, logger), nil
	}
	return nil, fmt.Errorf("unknown backend %q", src.Backend)
}

// Run harvests src once. Item-level failures are logged against the job and
// skipped. A terminal error fails the job and skips reconciliation, leaving
// datasets mapped so far in place.
func (r *Runner) Run(ctx context.Context, src config.Source) (*domain.JobRecord, error) {
	if !r.acquire(src.Name) {
		return nil, fmt.Errorf("%w: %s", ErrJobInProgress, src.Name)
	}
	defer r.release(src.Name)

	log := r.logger.With("source", src.Name, "backend", src.Backend)

	job, err := r.jobs.StartJob(ctx, src.Name)
	if err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	log = log.With("job_id", job.ID)
	log.Info("harvest: job started", "url", src.URL)

	license, err := r.licenses.Resolve(ctx, src.License)
	if err != nil {
		log.Warn("harvest: license not resolved", "license", src.License, "error", err)
		license = nil
	}
	mapper := &Mapper{
		SourceID:     src.Name,
		SourceName:   src.Name,
		SourceDomain: src.Domain(),
		Tag:          src.Tag,
		License:      license,
	}

	walker, err := r.newWalker(src, log)
	if err != nil {
		return r.fail(ctx, log, job, err)
	}

	result := domain.NewJobResult(src.Domain())
	for item, err := range walker.Walk(ctx) {
		if err != nil {
			var itemErr *ItemError
			if !errors.As(err, &itemErr) {
				return r.fail(ctx, log, job, err)
			}
			if err := r.itemFailed(ctx, log, job, result, src, itemErr); err != nil {
				return r.fail(ctx, log, job, err)
			}
			continue
		}

		ds, err := r.store.GetOrCreate(ctx, src.Name, item.RemoteID)
		if err != nil {
			return r.fail(ctx, log, job, fmt.Errorf("load dataset %s: %w", item.RemoteID, err))
		}
		if _, err := mapper.Map(ds, item); err != nil {
			itemErr := &ItemError{RemoteID: item.RemoteID, Title: item.Title, Err: err}
			if err := r.itemFailed(ctx, log, job, result, src, itemErr); err != nil {
				return r.fail(ctx, log, job, err)
			}
			continue
		}
		if err := r.store.Save(ctx, ds); err != nil {
			return r.fail(ctx, log, job, fmt.Errorf("save dataset %s: %w", item.RemoteID, err))
		}
		result.Touch(ds.ID)
		job.Items++
	}

	stale, err := r.reconciler.Reconcile(ctx, src, result)
	job.Stale = len(stale)
	if err != nil {
		return r.fail(ctx, log, job, fmt.Errorf("reconcile: %w", err))
	}

	job.Status = domain.JobDone
	if err := r.jobs.FinishJob(ctx, job); err != nil {
		return job, fmt.Errorf("finish job: %w", err)
	}
	log.Info("harvest: job done", "items", job.Items, "failed", job.Failed, "stale", job.Stale)
	return job, nil
}

// itemFailed records an item error. Datasets already known for the remote id
// still count as touched and are not flagged stale. A record without an
// identifier touches nothing.
func (r *Runner) itemFailed(ctx context.Context, log *slog.Logger, job *domain.JobRecord, result *domain.JobResult, src config.Source, itemErr *ItemError) error {
	job.Failed++
	remoteID := itemErr.RemoteID
	log.Warn("harvest: item failed", "remote_id", remoteID, "title", itemErr.Title, "error", itemErr.Err)
	msg := itemErr.Err.Error()
	if remoteID == "" {
		msg = itemErr.Error()
	}
	if err := r.jobs.AddJobError(ctx, job.ID, remoteID, msg); err != nil {
		log.Warn("harvest: record item error", "error", err)
	}
	if remoteID == "" {
		return nil
	}

	known, err := r.store.Query(ctx, domain.DatasetFilter{SourceID: src.Name, RemoteID: remoteID})
	if err != nil {
		return fmt.Errorf("lookup dataset %s: %w", remoteID, err)
	}
	for _, ds := range known {
		result.Touch(ds.ID)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, log *slog.Logger, job *domain.JobRecord, cause error) (*domain.JobRecord, error) {
	job.Status = domain.JobFailed
	job.Error = cause.Error()
	if err := r.jobs.FinishJob(ctx, job); err != nil {
		log.Error("harvest: finish failed job", "error", err)
	}
	log.Error("harvest: job failed", "error", cause, "items", job.Items, "failed", job.Failed)
	return job, cause
}

func (r *Runner) acquire(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[source] {
		return false
	}
	r.running[source] = true
	return true
}

func (r *Runner) release(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, source)
}
