package tenant

import (
	"context"
	"regexp"
	"strings"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/models"
	"adops-service/internal/redisclient"
	"adops-service/internal/store"
	"adops-service/internal/util"

	"go.uber.org/zap"
)

// slugRe is the only shape an organization slug may take: lowercase
// alphanumerics separated by single hyphens. Anything else is rejected before
// it gets near a schema identifier.
var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

const slugCacheTTL = 5 * time.Minute

// Resolver maps authenticated users to their organization slug and derives
// the physical schema name for that slug. Every tenant data access starts
// here; a lookup miss is always "organization not found", never "no filter".
type Resolver struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewResolver creates a resolver backed by the shared catalog and a redis
// slug cache.
func NewResolver(st *store.Store, redis *redisclient.Client) *Resolver {
	return &Resolver{
		store:  st,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// SchemaName derives the physical schema identifier for an org slug. Pure and
// deterministic; rejects any slug outside the allow-list so no caller can
// smuggle SQL through an identifier.
func SchemaName(slug string) (string, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugRe.MatchString(slug) {
		return "", apperr.Ef(apperr.KindSchemaError, "invalid organization slug %q", slug)
	}

	name := "org_" + strings.ReplaceAll(slug, "-", "_")
	if !store.ValidSchemaIdent(name) {
		return "", apperr.Ef(apperr.KindSchemaError, "derived schema name for %q is not a valid identifier", slug)
	}
	return name, nil
}

// GetUserOrgSlug looks up the slug of the user's organization in the shared
// catalog, via the redis cache when warm. A missing user or organization is a
// NotFound error.
func (r *Resolver) GetUserOrgSlug(ctx context.Context, userID int64) (string, error) {
	if cached, err := r.redis.CachedOrgSlug(ctx, userID); err == nil && cached != "" {
		return cached, nil
	} else if err != nil {
		r.logger.Warn("Org slug cache read failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	org, err := r.store.CatalogUserOrg(ctx, userID)
	if err != nil {
		return "", err
	}
	if org.Status != models.OrgStatusActive {
		return "", apperr.NotFound("organization")
	}

	if err := r.redis.CacheOrgSlug(ctx, userID, org.Slug, slugCacheTTL); err != nil {
		r.logger.Warn("Org slug cache write failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return org.Slug, nil
}

// ResolveUserSchema resolves a user straight to a validated schema name.
func (r *Resolver) ResolveUserSchema(ctx context.Context, userID int64) (string, error) {
	slug, err := r.GetUserOrgSlug(ctx, userID)
	if err != nil {
		return "", err
	}
	return SchemaName(slug)
}

// ResolveOrgSchema resolves an explicit slug to a schema name, verifying the
// organization exists and is active in the catalog first. Used for master
// cross-tenant access where the target org is named by the request.
func (r *Resolver) ResolveOrgSchema(ctx context.Context, slug string) (string, error) {
	org, err := r.store.CatalogOrgBySlug(ctx, slug)
	if err != nil {
		return "", err
	}
	if org.Status != models.OrgStatusActive {
		return "", apperr.NotFound("organization")
	}
	return SchemaName(org.Slug)
}
