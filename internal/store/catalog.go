package store

import (
	"context"
	"database/sql"
	"fmt"

	"adops-service/internal/apperr"
	"adops-service/internal/models"

	"github.com/lib/pq"
)

// Catalog queries run against the shared cross-tenant schema only. Tenant
// data never lives here; these are the only lookups the resolver needs.

func (s *Store) catalogTable(table string) string {
	return pq.QuoteIdentifier(s.catalogSchema) + "." + table
}

// CatalogUser retrieves a user from the shared catalog.
func (s *Store) CatalogUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = $1", s.catalogTable("users"))
	err := s.db.GetContext(ctx, &user, query, userID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CatalogUserOrg retrieves the organization a user belongs to. A missing user
// and a missing organization both surface as NotFound.
func (s *Store) CatalogUserOrg(ctx context.Context, userID int64) (*models.Organization, error) {
	var org models.Organization
	query := fmt.Sprintf(`
		SELECT o.* FROM %s o
		JOIN %s u ON u.organization_id = o.id
		WHERE u.id = $1`,
		s.catalogTable("organizations"), s.catalogTable("users"))

	err := s.db.GetContext(ctx, &org, query, userID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("organization")
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// CatalogOrgBySlug retrieves an organization by slug.
func (s *Store) CatalogOrgBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	var org models.Organization
	query := fmt.Sprintf("SELECT * FROM %s WHERE slug = $1", s.catalogTable("organizations"))
	err := s.db.GetContext(ctx, &org, query, slug)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("organization")
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// ActiveOrgSlugs lists slugs of active organizations. Used by the expiry
// sweep, which walks tenants explicitly rather than querying across schemas.
func (s *Store) ActiveOrgSlugs(ctx context.Context) ([]string, error) {
	var slugs []string
	query := fmt.Sprintf("SELECT slug FROM %s WHERE status = $1 ORDER BY slug", s.catalogTable("organizations"))
	err := s.db.SelectContext(ctx, &slugs, query, models.OrgStatusActive)
	return slugs, err
}
