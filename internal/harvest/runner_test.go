package harvest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/geoharvest/internal/config"
	"github.com/pbaille/geoharvest/internal/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	byRemote map[string]*domain.Dataset
	nextID   int
	saveErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byRemote: make(map[string]*domain.Dataset)}
}

func (s *fakeStore) GetOrCreate(_ context.Context, sourceID, remoteID string) (*domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.byRemote[remoteID]; ok {
		cp := *ds
		return &cp, nil
	}
	s.nextID++
	return &domain.Dataset{ID: fmt.Sprintf("ds-%d", s.nextID), SourceID: sourceID, RemoteID: remoteID}, nil
}

func (s *fakeStore) Query(_ context.Context, f domain.DatasetFilter) ([]domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Dataset
	for _, ds := range s.byRemote {
		if f.RemoteID != "" && ds.RemoteID != f.RemoteID {
			continue
		}
		out = append(out, *ds)
	}
	return out, nil
}

func (s *fakeStore) Save(_ context.Context, ds *domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *ds
	s.byRemote[ds.RemoteID] = &cp
	return nil
}

type fakeJobs struct {
	started  int
	errors   []string
	finished []domain.JobRecord
}

func (j *fakeJobs) StartJob(_ context.Context, source string) (*domain.JobRecord, error) {
	j.started++
	return &domain.JobRecord{ID: fmt.Sprintf("job-%d", j.started), Source: source, Status: domain.JobRunning}, nil
}

func (j *fakeJobs) AddJobError(_ context.Context, _, remoteID, message string) error {
	j.errors = append(j.errors, remoteID+": "+message)
	return nil
}

func (j *fakeJobs) FinishJob(_ context.Context, job *domain.JobRecord) error {
	j.finished = append(j.finished, *job)
	return nil
}

type fakeLicenses struct{ err error }

func (l fakeLicenses) Resolve(_ context.Context, code string) (*domain.License, error) {
	if l.err != nil {
		return nil, l.err
	}
	return &domain.License{ID: code}, nil
}

type fakeReconciler struct {
	calls   int
	touched map[string]struct{}
	stale   []domain.Dataset
}

func (r *fakeReconciler) Reconcile(_ context.Context, _ config.Source, result *domain.JobResult) ([]domain.Dataset, error) {
	r.calls++
	r.touched = result.Touched
	return r.stale, nil
}

type step struct {
	item domain.Item
	err  error
}

type scriptedWalker []step

func (w scriptedWalker) Walk(context.Context) iter.Seq2[domain.Item, error] {
	return func(yield func(domain.Item, error) bool) {
		for _, s := range w {
			if !yield(s.item, s.err) {
				return
			}
		}
	}
}

func walkerOf(steps ...step) RunnerOption {
	return WithWalkerFactory(func(config.Source, *slog.Logger) (Walker, error) {
		return scriptedWalker(steps), nil
	})
}

var testSource = config.Source{
	Name:    "dgt",
	Backend: config.BackendCSW,
	URL:     "https://snig.dgterritorio.gov.pt/rndg/srv/por/csw",
	Tag:     "snig",
	License: "cc-by",
}

func okItem(id string) step {
	return step{item: domain.Item{RemoteID: id, Title: "Title " + id}}
}

func TestRunner_Run(t *testing.T) {
	store := newFakeStore()
	store.byRemote["known-bad"] = &domain.Dataset{ID: "ds-known", RemoteID: "known-bad"}
	jobs := &fakeJobs{}
	rec := &fakeReconciler{stale: []domain.Dataset{{ID: "ds-gone"}}}

	r := NewRunner(store, jobs, fakeLicenses{}, rec, nil, walkerOf(
		okItem("a"),
		step{err: &ItemError{RemoteID: "known-bad", Err: ErrMalformedLink}},
		step{item: domain.Item{RemoteID: "untitled"}},
		okItem("b"),
	))

	job, err := r.Run(context.Background(), testSource)
	require.NoError(t, err)

	assert.Equal(t, domain.JobDone, job.Status)
	assert.Equal(t, 2, job.Items)
	assert.Equal(t, 2, job.Failed)
	assert.Equal(t, 1, job.Stale)
	require.Len(t, jobs.finished, 1)
	assert.Equal(t, domain.JobDone, jobs.finished[0].Status)
	assert.Len(t, jobs.errors, 2)
	assert.Contains(t, jobs.errors[1], "untitled: harvest: record has no title")

	assert.Equal(t, 1, rec.calls)
	assert.Contains(t, rec.touched, "ds-known", "failed item with a known dataset is not stale")
	assert.Len(t, rec.touched, 3)

	a := store.byRemote["a"]
	require.NotNil(t, a)
	assert.Equal(t, "cc-by", a.License.ID)
	assert.Equal(t, []string{"snig"}, a.Tags)
	assert.Equal(t, "snig.dgterritorio.gov.pt", a.Extras[domain.ExtraDomain])
	assert.NotContains(t, store.byRemote, "untitled")
}

func TestRunner_MissingIdentifierTouchesNothing(t *testing.T) {
	store := newFakeStore()
	store.byRemote["Carta de Solos"] = &domain.Dataset{ID: "ds-same-title", RemoteID: "Carta de Solos"}
	jobs := &fakeJobs{}
	rec := &fakeReconciler{}

	r := NewRunner(store, jobs, fakeLicenses{}, rec, nil, walkerOf(
		okItem("a"),
		step{err: &ItemError{Title: "Carta de Solos", Err: ErrMissingIdentifier}},
	))

	job, err := r.Run(context.Background(), testSource)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Failed)
	assert.NotContains(t, rec.touched, "ds-same-title")
	assert.Len(t, rec.touched, 1)
	require.Len(t, jobs.errors, 1)
	assert.Contains(t, jobs.errors[0], `"Carta de Solos"`)
}

func TestRunner_TerminalErrorSkipsReconcile(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobs{}
	rec := &fakeReconciler{}

	r := NewRunner(store, jobs, fakeLicenses{}, rec, nil, walkerOf(
		okItem("a"),
		step{err: &PaginationStallError{Start: 50, Next: 50, Matches: 500}},
	))

	job, err := r.Run(context.Background(), testSource)
	assert.ErrorIs(t, err, ErrPaginationStall)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, job.Error, "pagination stalled")
	assert.Equal(t, 1, job.Items)
	assert.Zero(t, rec.calls)
	assert.Contains(t, store.byRemote, "a", "already mapped datasets stay")
}

func TestRunner_SaveErrorIsTerminal(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("database is locked")
	jobs := &fakeJobs{}
	rec := &fakeReconciler{}

	r := NewRunner(store, jobs, fakeLicenses{}, rec, nil, walkerOf(okItem("a"), okItem("b")))
	job, err := r.Run(context.Background(), testSource)
	assert.ErrorContains(t, err, "save dataset a: database is locked")
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Zero(t, rec.calls)
}

func TestRunner_UnresolvedLicense(t *testing.T) {
	store := newFakeStore()
	r := NewRunner(store, &fakeJobs{}, fakeLicenses{err: errors.New("unknown")}, &fakeReconciler{}, nil, walkerOf(okItem("a")))

	_, err := r.Run(context.Background(), testSource)
	require.NoError(t, err)
	assert.Nil(t, store.byRemote["a"].License)
}

func TestRunner_WalkerFactoryError(t *testing.T) {
	jobs := &fakeJobs{}
	r := NewRunner(newFakeStore(), jobs, fakeLicenses{}, &fakeReconciler{}, nil,
		WithWalkerFactory(func(config.Source, *slog.Logger) (Walker, error) {
			return nil, errors.New("no walker")
		}))

	job, err := r.Run(context.Background(), testSource)
	assert.ErrorContains(t, err, "no walker")
	assert.Equal(t, domain.JobFailed, job.Status)
	require.Len(t, jobs.finished, 1)
}

func TestRunner_JobInProgress(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := WithWalkerFactory(func(config.Source, *slog.Logger) (Walker, error) {
		return walkFunc(func(yield func(domain.Item, error) bool) {
			close(entered)
			<-release
		}), nil
	})
	r := NewRunner(newFakeStore(), &fakeJobs{}, fakeLicenses{}, &fakeReconciler{}, nil, blocking)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), testSource)
		done <- err
	}()
	<-entered

	_, err := r.Run(context.Background(), testSource)
	assert.ErrorIs(t, err, ErrJobInProgress)

	close(release)
	require.NoError(t, <-done)
}

type walkFunc func(yield func(domain.Item, error) bool)

func (f walkFunc) Walk(context.Context) iter.Seq2[domain.Item, error] {
	return iter.Seq2[domain.Item, error](f)
}

func TestNewWalker(t *testing.T) {
	w, err := NewWalker(testSource, nil)
	require.NoError(t, err)
	assert.IsType(t, &CatalogWalker{}, w)

	flat := testSource
	flat.Backend = config.BackendFlat
	w, err = NewWalker(flat, nil)
	require.NoError(t, err)
	assert.IsType(t, &FlatWalker{}, w)

	bad := testSource
	bad.Backend = "oai"
	_, err = NewWalker(bad, nil)
	assert.ErrorContains(t, err, `unknown backend "oai"`)
}
