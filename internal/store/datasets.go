package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/geoharvest/internal/domain"
)

const datasetColumns = `d.id, d.source_id, d.remote_id, d.title, d.description,
	d.tags, d.extras, d.private, d.deleted_at, d.created_at, d.last_modified,
	l.id, l.title, l.url`

const datasetFrom = `FROM datasets d LEFT JOIN licenses l ON l.id = d.license_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*domain.Dataset, error) {
	var (
		ds                      domain.Dataset
		tags, extras            string
		deleted                 sql.NullTime
		licID, licTitle, licURL sql.NullString
	)
	err := row.Scan(&ds.ID, &ds.SourceID, &ds.RemoteID, &ds.Title, &ds.Description,
		&tags, &extras, &ds.Private, &deleted, &ds.CreatedAt, &ds.LastModified,
		&licID, &licTitle, &licURL)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &ds.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", ds.ID, err)
	}
	if err := json.Unmarshal([]byte(extras), &ds.Extras); err != nil {
		return nil, fmt.Errorf("decode extras of %s: %w", ds.ID, err)
	}
	if deleted.Valid {
		t := deleted.Time
		ds.Deleted = &t
	}
	if licID.Valid {
		ds.License = &domain.License{ID: licID.String, Title: licTitle.String, URL: licURL.String}
	}
	return &ds, nil
}

// GetOrCreate returns the dataset harvested from remoteID by sourceID. When
// none exists a new, unsaved dataset with a fresh id is returned.
func (s *Store) GetOrCreate(ctx context.Context, sourceID, remoteID string) (*domain.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+datasetColumns+" "+datasetFrom+" WHERE d.source_id = ? AND d.remote_id = ?",
		sourceID, remoteID,
	)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.Dataset{
			ID:       uuid.New().String(),
			SourceID: sourceID,
			RemoteID: remoteID,
			Extras:   make(map[string]string),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find dataset: %w", err)
	}
	if ds.Resources, err = s.resources(ctx, ds.ID); err != nil {
		return nil, err
	}
	return ds, nil
}

// Get retrieves a dataset by ID with its resources
func (s *Store) Get(ctx context.Context, id string) (*domain.Dataset, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+datasetColumns+" "+datasetFrom+" WHERE d.id = ?", id)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	if ds.Resources, err = s.resources(ctx, ds.ID); err != nil {
		return nil, err
	}
	return ds, nil
}

// GetByPrefix retrieves the single dataset whose id starts with prefix.
func (s *Store) GetByPrefix(ctx context.Context, prefix string) (*domain.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM datasets WHERE id LIKE ? LIMIT 2", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("find dataset: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan dataset id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("dataset %s: %w", prefix, ErrNotFound)
	case 1:
		return s.Get(ctx, ids[0])
	}
	return nil, fmt.Errorf("dataset %s: %w", prefix, ErrAmbiguous)
}

// Query lists non-deleted datasets matching f, most recently modified first.
func (s *Store) Query(ctx context.Context, f domain.DatasetFilter) ([]domain.Dataset, error) {
	var (
		where = []string{"d.deleted_at IS NULL"}
		args  []any
	)
	if f.Domain != "" {
		where = append(where, "d.domain = ?")
		args = append(args, f.Domain)
	}
	if f.SourceID != "" {
		where = append(where, "d.source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.RemoteID != "" {
		where = append(where, "d.remote_id = ?")
		args = append(args, f.RemoteID)
	}
	if f.Private != nil {
		where = append(where, "d.private = ?")
		args = append(args, *f.Private)
	}

	q := "SELECT " + datasetColumns + " " + datasetFrom +
		" WHERE " + strings.Join(where, " AND ") +
		" ORDER BY d.last_modified DESC, d.id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	var datasets []domain.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, *ds)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	rows.Close()

	for i := range datasets {
		if datasets[i].Resources, err = s.resources(ctx, datasets[i].ID); err != nil {
			return nil, err
		}
	}
	return datasets, nil
}

// Save inserts or updates ds and replaces its resources in one transaction.
// LastModified is set to the current time, CreatedAt too when still zero.
func (s *Store) Save(ctx context.Context, ds *domain.Dataset) error {
	now := time.Now().UTC()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.LastModified = now

	tags := ds.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	extras := ds.Extras
	if extras == nil {
		extras = map[string]string{}
	}
	extrasJSON, err := json.Marshal(extras)
	if err != nil {
		return fmt.Errorf("encode extras: %w", err)
	}
	var licenseID *string
	if ds.License != nil {
		licenseID = &ds.License.ID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (id, source_id, remote_id, domain, title, description, license_id,
			tags, extras, private, deleted_at, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			domain = excluded.domain,
			title = excluded.title,
			description = excluded.description,
			license_id = excluded.license_id,
			tags = excluded.tags,
			extras = excluded.extras,
			private = excluded.private,
			deleted_at = excluded.deleted_at,
			created_at = excluded.created_at,
			last_modified = excluded.last_modified
	`, ds.ID, ds.SourceID, ds.RemoteID, extras[domain.ExtraDomain], ds.Title, ds.Description, licenseID,
		string(tagsJSON), string(extrasJSON), ds.Private, ds.Deleted, ds.CreatedAt, ds.LastModified)
	if err != nil {
		return fmt.Errorf("upsert dataset: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM resources WHERE dataset_id = ?", ds.ID); err != nil {
		return fmt.Errorf("clear resources: %w", err)
	}
	for i, r := range ds.Resources {
		if r.ID == "" {
			r.ID = uuid.New().String()
			ds.Resources[i].ID = r.ID
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO resources (id, dataset_id, position, title, url, filetype, format) VALUES (?, ?, ?, ?, ?, ?, ?)",
			r.ID, ds.ID, i, r.Title, r.URL, r.FileType, r.Format,
		)
		if err != nil {
			return fmt.Errorf("insert resource: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) resources(ctx context.Context, datasetID string) ([]domain.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, url, filetype, format FROM resources WHERE dataset_id = ? ORDER BY position",
		datasetID,
	)
	if err != nil {
		return nil, fmt.Errorf("get resources: %w", err)
	}
	defer rows.Close()

	resources := []domain.Resource{}
	for rows.Next() {
		var r domain.Resource
		if err := rows.Scan(&r.ID, &r.Title, &r.URL, &r.FileType, &r.Format); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}
