package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pbaille/geoharvest/internal/domain"
)

// RoleAdmin is the organization role that receives harvest reports.
const RoleAdmin = "admin"

// AddUser creates a user or updates the admin flag of an existing email.
func (s *Store) AddUser(ctx context.Context, email string, isAdmin bool) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("add user: empty email")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, is_admin) VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET is_admin = excluded.is_admin
	`, uuid.New().String(), email, isAdmin)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	var u domain.User
	err = s.db.QueryRowContext(ctx, "SELECT id, email, is_admin FROM users WHERE email = ?", email).
		Scan(&u.ID, &u.Email, &u.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// AddMember gives a user a role in an organization.
func (s *Store) AddMember(ctx context.Context, organization, userID, role string) error {
	if role == "" {
		role = RoleAdmin
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_members (organization, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT(organization, user_id) DO UPDATE SET role = excluded.role
	`, organization, userID, role)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// OrganizationAdmins returns the emails of the organization's admins.
func (s *Store) OrganizationAdmins(ctx context.Context, organization string) ([]string, error) {
	return s.emails(ctx, `
		SELECT u.email FROM users u
		JOIN organization_members m ON m.user_id = u.id
		WHERE m.organization = ? AND m.role = ?
		ORDER BY u.email
	`, organization, RoleAdmin)
}

// GlobalAdmins returns the emails of users holding the global admin role.
func (s *Store) GlobalAdmins(ctx context.Context) ([]string, error) {
	return s.emails(ctx, "SELECT email FROM users WHERE is_admin = 1 ORDER BY email")
}

func (s *Store) emails(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}
