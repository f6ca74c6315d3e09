package harvest

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/geoharvest/internal/domain"
)

const (
	fileTypeRemote = "remote"
	formatWMS      = "wms"
	maxExtLen      = 3
)

// Mapper copies a normalized item onto a dataset snapshot for one source.
// It holds no per-item state; one Mapper serves a whole job.
type Mapper struct {
	SourceID     string
	SourceName   string
	SourceDomain string
	// Tag identifies the source family and always leads the tag list.
	Tag     string
	License *domain.License

	now func() time.Time
}

// Map repopulates ds from item and returns it. Resources are replaced
// wholesale; CreatedAt is the only field kept when the item has no value.
// A dataset flagged private by an earlier reconciliation is published again.
// The caller persists the result.
func (m *Mapper) Map(ds *domain.Dataset, item domain.Item) (*domain.Dataset, error) {
	if strings.TrimSpace(item.Title) == "" {
		return nil, ErrMissingTitle
	}
	now := time.Now
	if m.now != nil {
		now = m.now
	}

	ds.Title = item.Title
	ds.Private = false
	ds.Description = item.Description
	ds.License = m.License

	ds.Tags = make([]string, 0, len(item.Keywords)+1)
	ds.Tags = append(ds.Tags, m.Tag)
	ds.Tags = append(ds.Tags, item.Keywords...)

	if item.Date != nil {
		ds.CreatedAt = *item.Date
	}

	ds.Resources = make([]domain.Resource, 0, len(item.Resources))
	for _, link := range item.Resources {
		u := NormalizeURLSlashes(link.URL)
		ds.Resources = append(ds.Resources, domain.Resource{
			ID:       uuid.New().String(),
			Title:    ds.Title,
			URL:      u,
			FileType: fileTypeRemote,
			Format:   ResourceFormat(u, item.Kind),
		})
	}

	if ds.Extras == nil {
		ds.Extras = make(map[string]string)
	}
	ds.Extras[domain.ExtraName] = m.SourceName
	ds.Extras[domain.ExtraDomain] = m.SourceDomain
	ds.Extras[domain.ExtraSourceID] = m.SourceID
	ds.Extras[domain.ExtraRemoteID] = item.RemoteID
	ds.Extras[domain.ExtraLastUpdate] = now().UTC().Format(time.RFC3339)

	return ds, nil
}

// ResourceFormat infers a resource format from its URL. An explicit
// "service" query parameter wins, live items are map services, and otherwise
// the text after the last dot is used.
//
// Suffixes longer than three characters fall back to "wms". This is a lossy
// heuristic: it also catches legitimate formats such as "json" or "gpkg".
func ResourceFormat(rawURL string, kind domain.ItemKind) string {
	if u, err := url.Parse(rawURL); err == nil {
		if svc := u.Query().Get("service"); svc != "" {
			return svc
		}
	}
	if kind == domain.KindLive {
		return formatWMS
	}

	ext := strings.ToLower(rawURL[strings.LastIndex(rawURL, ".")+1:])
	if len(ext) > maxExtLen {
		return formatWMS
	}
	return ext
}
