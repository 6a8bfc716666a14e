package service

import (
	"context"
	"regexp"
	"testing"

	"adops-service/internal/apperr"
	"adops-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideValidation(t *testing.T) {
	svc := NewApprovalService(nil, nil, nil, nil)
	admin := &models.User{ID: 7, Role: models.RoleAdmin}

	tests := []struct {
		name  string
		actor *models.User
		req   *DecideApprovalRequest
		kind  apperr.Kind
	}{
		{"unknown action", admin, &DecideApprovalRequest{Action: "maybe"}, apperr.KindValidation},
		{"empty action", admin, &DecideApprovalRequest{}, apperr.KindValidation},
		{"sales may not decide", &models.User{ID: 3, Role: models.RoleSales}, &DecideApprovalRequest{Action: ActionApprove}, apperr.KindForbidden},
		{"client may not decide", &models.User{ID: 4, Role: models.RoleClient}, &DecideApprovalRequest{Action: ActionReject, Reason: "budget"}, apperr.KindForbidden},
		{"reject needs reason", admin, &DecideApprovalRequest{Action: ActionReject}, apperr.KindValidation},
		{"reject blank reason", admin, &DecideApprovalRequest{Action: ActionReject, Reason: "   "}, apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Decide(context.Background(), "acme", 1, tt.actor, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestDecideActionCaseInsensitive(t *testing.T) {
	svc := NewApprovalService(nil, nil, nil, nil)
	admin := &models.User{ID: 7, Role: models.RoleAdmin}

	// " Approve " normalizes past validation; the bad slug stops the call
	// before any storage access.
	_, err := svc.Decide(context.Background(), "not a slug", 1, admin, &DecideApprovalRequest{Action: " Approve "})
	require.Error(t, err)
	assert.Equal(t, apperr.KindSchemaError, apperr.KindOf(err))
}

func TestGetApprovalForbiddenForNonDeciders(t *testing.T) {
	svc := NewApprovalService(nil, nil, nil, nil)

	for _, role := range []string{models.RoleSales, models.RoleProducer, models.RoleClient} {
		_, err := svc.GetApproval(context.Background(), "acme", 1, &models.User{ID: 1, Role: role})
		require.Error(t, err, "role %s", role)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	}
}

func TestNewOrderNumberFormat(t *testing.T) {
	re := regexp.MustCompile(`^ORD-\d{8}-[0-9A-F]{8}$`)
	for i := 0; i < 10; i++ {
		assert.Regexp(t, re, newOrderNumber())
	}
}
