package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/models"
	"adops-service/internal/service"
	"adops-service/internal/tenant"
	"adops-service/internal/util"

	"github.com/gin-gonic/gin"
)

// Context keys set by the middleware chain.
const (
	ContextUser    = "auth_user"
	ContextOrgSlug = "org_slug"
)

// crossTenantHeader names the target organization for master-role access
// outside the actor's own tenant.
const crossTenantHeader = "X-Organization"

// authMiddleware resolves the bearer token to a user via the session
// collaborator. Unknown tokens are 401; the request never proceeds without an
// authenticated user.
func authMiddleware(validator service.SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || token == c.GetHeader("Authorization") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		user, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session validation failed"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(ContextUser, user)
		c.Next()
	}
}

// tenantMiddleware binds the request to exactly one organization slug. The
// default is the caller's own organization; a master user may name another
// via the X-Organization header, which is audited before any tenant query
// executes. A missing organization is a 404, never a fallback to all tenants.
func tenantMiddleware(resolver *tenant.Resolver, audit *service.KafkaActivityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := mustUser(c)

		ownSlug, err := resolver.GetUserOrgSlug(c.Request.Context(), user.ID)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}

		slug := ownSlug
		if target := c.GetHeader(crossTenantHeader); target != "" && target != ownSlug {
			if user.Role != models.RoleMaster {
				writeError(c, apperr.E(apperr.KindForbidden, "cross-tenant access requires the master role"))
				c.Abort()
				return
			}
			if _, err := resolver.ResolveOrgSchema(c.Request.Context(), target); err != nil {
				writeError(c, err)
				c.Abort()
				return
			}
			audit.LogCrossTenantAccess(c.Request.Context(), user, ownSlug, target, c.FullPath(), c.Request.Method)
			slug = target
		}

		c.Set(ContextOrgSlug, slug)
		c.Next()
	}
}

// requireRole allows only the given roles past this point.
func requireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		user := mustUser(c)
		if _, ok := allowed[user.Role]; !ok {
			writeError(c, apperr.E(apperr.KindForbidden, "insufficient role"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func mustUser(c *gin.Context) *models.User {
	return c.MustGet(ContextUser).(*models.User)
}

func orgSlug(c *gin.Context) string {
	return c.GetString(ContextOrgSlug)
}

// writeError translates a typed error into its stable status code. Internal
// detail is only exposed for client-caused kinds.
func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)

	body := gin.H{"error": kind.String()}
	if status < http.StatusInternalServerError {
		body["details"] = err.Error()
	} else {
		util.GetLogger().Error("Request failed: " + err.Error())
	}

	c.JSON(status, body)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
