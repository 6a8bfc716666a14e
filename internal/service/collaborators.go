package service

import (
	"context"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/broker"
	"adops-service/internal/models"
	"adops-service/internal/redisclient"
	"adops-service/internal/store"
	"adops-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// The platform services below are external collaborators: session validation,
// activity logging, and notification delivery are owned elsewhere. This
// service consumes them through narrow interfaces.

// SessionValidator resolves a bearer token to an authenticated user, nil user
// when the token is unknown or stale.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.User, error)
}

// ActivityLogger records audit-relevant actions.
type ActivityLogger interface {
	Log(ctx context.Context, event ActivityEvent)
}

// Notifier delivers user-facing notifications for workflow events.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// ActivityEvent is one audited action.
type ActivityEvent struct {
	OrgSlug string
	ActorID int64
	Action  string
	Detail  string
}

// Notification is one outbound message request.
type Notification struct {
	OrgSlug string
	Kind    string
	Subject string
	Detail  string
}

// RedisSessionValidator resolves tokens through the shared session store and
// the user catalog.
type RedisSessionValidator struct {
	redis *redisclient.Client
	store *store.Store
}

// NewRedisSessionValidator creates the default session validator.
func NewRedisSessionValidator(redis *redisclient.Client, st *store.Store) *RedisSessionValidator {
	return &RedisSessionValidator{redis: redis, store: st}
}

// Validate implements SessionValidator.
func (v *RedisSessionValidator) Validate(ctx context.Context, token string) (*models.User, error) {
	userID, err := v.redis.SessionUserID(ctx, token)
	if err != nil {
		return nil, err
	}
	if userID == 0 {
		return nil, nil
	}

	user, err := v.store.CatalogUser(ctx, userID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// KafkaActivityLogger records activity in the structured log and publishes
// the audit-critical cross-tenant accesses to the event bus. Logging failures
// never fail the caller.
type KafkaActivityLogger struct {
	publisher *broker.EventPublisher
	logger    *zap.Logger
}

// NewKafkaActivityLogger creates the default activity logger.
func NewKafkaActivityLogger(publisher *broker.EventPublisher) *KafkaActivityLogger {
	return &KafkaActivityLogger{publisher: publisher, logger: util.GetLogger()}
}

// Log implements ActivityLogger.
func (l *KafkaActivityLogger) Log(ctx context.Context, event ActivityEvent) {
	l.logger.Info("Activity",
		zap.String("org", event.OrgSlug),
		zap.Int64("actor_id", event.ActorID),
		zap.String("action", event.Action),
		zap.String("detail", event.Detail))
}

// LogCrossTenantAccess records a master user reaching into a foreign
// organization. Emitted before the query executes.
func (l *KafkaActivityLogger) LogCrossTenantAccess(ctx context.Context, actor *models.User, actorOrg, targetOrg, path, method string) {
	util.CrossTenantAccessTotal.Inc()
	l.logger.Warn("Cross-tenant access",
		zap.Int64("actor_id", actor.ID),
		zap.String("actor_org", actorOrg),
		zap.String("target_org", targetOrg),
		zap.String("path", path),
		zap.String("method", method))

	event := &models.CrossTenantAccessEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCrossTenantAccess,
			OrgSlug:   targetOrg,
			Timestamp: time.Now(),
		},
		ActorID:   actor.ID,
		ActorOrg:  actorOrg,
		TargetOrg: targetOrg,
		Path:      path,
		Method:    method,
	}
	if err := l.publisher.PublishCrossTenantAccess(ctx, event); err != nil {
		l.logger.Error("Failed to publish cross-tenant audit event", zap.Error(err))
	}
}

// LogNotifier is the default notification sink: structured log output until a
// delivery channel is wired up by the platform.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates the default notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

// Send implements Notifier.
func (n *LogNotifier) Send(ctx context.Context, notification Notification) error {
	n.logger.Info("Notification",
		zap.String("org", notification.OrgSlug),
		zap.String("kind", notification.Kind),
		zap.String("subject", notification.Subject),
		zap.String("detail", notification.Detail))
	return nil
}
