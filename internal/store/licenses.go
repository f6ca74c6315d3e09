package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pbaille/geoharvest/internal/domain"
)

// ListLicenses returns all licenses
func (s *Store) ListLicenses(ctx context.Context) ([]domain.License, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, url, aliases FROM licenses ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []domain.License
	for rows.Next() {
		var (
			l       domain.License
			aliases string
		)
		if err := rows.Scan(&l.ID, &l.Title, &l.URL, &aliases); err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		if err := json.Unmarshal([]byte(aliases), &l.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases of %s: %w", l.ID, err)
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

// Resolve finds a license by exact id, then by case-insensitive title or alias.
func (s *Store) Resolve(ctx context.Context, code string) (*domain.License, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("empty code: %w", ErrLicenseNotFound)
	}
	licenses, err := s.ListLicenses(ctx)
	if err != nil {
		return nil, err
	}

	for i := range licenses {
		if licenses[i].ID == code {
			return &licenses[i], nil
		}
	}
	for i := range licenses {
		l := &licenses[i]
		if strings.EqualFold(l.Title, code) || strings.EqualFold(l.ID, code) {
			return l, nil
		}
		for _, alias := range l.Aliases {
			if strings.EqualFold(alias, code) {
				return l, nil
			}
		}
	}
	return nil, fmt.Errorf("%q: %w", code, ErrLicenseNotFound)
}
