package harvest

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/pbaille/geoharvest/internal/csw"
	"github.com/pbaille/geoharvest/internal/domain"
)

const defaultPageSize = 100

// CatalogClient is the CSW transport the catalog walker pages through.
type CatalogClient interface {
	Probe(ctx context.Context) (int, error)
	Page(ctx context.Context, start, size int) (*csw.Page, error)
}

// CatalogWalker walks a CSW result set page by page.
type CatalogWalker struct {
	client   CatalogClient
	pageSize int
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// CatalogOption configures a CatalogWalker.
type CatalogOption func(*CatalogWalker)

// WithPageSize sets the number of records requested per page. Default: 100.
func WithPageSize(n int) CatalogOption {
	return func(w *CatalogWalker) {
		if n > 0 {
			w.pageSize = n
		}
	}
}

// WithPageDelay spaces page requests at least d apart.
func WithPageDelay(d time.Duration) CatalogOption {
	return func(w *CatalogWalker) {
		if d > 0 {
			w.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithCatalogLogger sets the walker logger.
func WithCatalogLogger(l *slog.Logger) CatalogOption {
	return func(w *CatalogWalker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewCatalogWalker creates a walker over client.
func NewCatalogWalker(client CatalogClient, opts ...CatalogOption) *CatalogWalker {
	w := &CatalogWalker{
		client:   client,
		pageSize: defaultPageSize,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Walk probes the catalog for its match count, then yields one Item per
// record until the cursor passes the match count. The sequence is single-pass.
// A terminal error is yielded last; per-record failures are *ItemError and the
// walk goes on.
func (w *CatalogWalker) Walk(ctx context.Context) iter.Seq2[domain.Item, error] {
	return func(yield func(domain.Item, error) bool) {
		matches, err := w.client.Probe(ctx)
		if err != nil {
			yield(domain.Item{}, fmt.Errorf("csw probe: %w", err))
			return
		}
		w.logger.Info("csw: probe", "matches", matches)
		if matches == 0 {
			return
		}

		start := 0
		for start <= matches {
			if w.limiter != nil {
				if err := w.limiter.Wait(ctx); err != nil {
					yield(domain.Item{}, fmt.Errorf("csw page wait: %w", err))
					return
				}
			}

			page, err := w.client.Page(ctx, start, w.pageSize)
			if err != nil {
				yield(domain.Item{}, fmt.Errorf("csw page %d: %w", start, err))
				return
			}
			w.logger.Debug("csw: page", "start", start, "records", len(page.Records), "next", page.Next)

			for _, rec := range page.Records {
				item, err := recordItem(rec)
				if !yield(item, err) {
					return
				}
			}

			// nextRecord=0 or an empty page ends the walk only once the
			// match count is covered.
			if page.Next == 0 || len(page.Records) == 0 {
				if start+len(page.Records) >= matches {
					return
				}
				yield(domain.Item{}, &PaginationStallError{Start: start, Next: page.Next, Matches: matches})
				return
			}
			if page.Next <= start {
				yield(domain.Item{}, &PaginationStallError{Start: start, Next: page.Next, Matches: matches})
				return
			}
			start = page.Next
		}
	}
}

func recordItem(rec csw.Record) (domain.Item, error) {
	if rec.Identifier == "" {
		return domain.Item{}, &ItemError{Title: rec.Title, Err: ErrMissingIdentifier}
	}

	item := domain.Item{
		RemoteID:    rec.Identifier,
		Title:       rec.Title,
		Description: rec.Abstract,
		Date:        parseDate(rec.Date),
		Kind:        domain.KindStatic,
	}
	if rec.Type == "liveData" {
		item.Kind = domain.KindLive
	}
	if u := rec.FirstURL(); u != "" {
		item.Resources = []domain.ResourceLink{{URL: NormalizeURLSlashes(u)}}
	}
	return item, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDate accepts the date encodings seen in catalog records. Unknown
// formats yield nil so the dataset keeps its previous creation date.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
