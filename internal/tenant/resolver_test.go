package tenant

import (
	"testing"

	"adops-service/internal/apperr"

	"github.com/stretchr/testify/assert"
)

func TestSchemaName(t *testing.T) {
	tests := []struct {
		slug string
		want string
	}{
		{"acme", "org_acme"},
		{"acme-media", "org_acme_media"},
		{"a1-b2-c3", "org_a1_b2_c3"},
		{"  Acme-Media  ", "org_acme_media"}, // trimmed and lowercased
	}

	for _, tt := range tests {
		got, err := SchemaName(tt.slug)
		assert.NoError(t, err, "slug %q", tt.slug)
		assert.Equal(t, tt.want, got)
	}
}

func TestSchemaNameDeterministic(t *testing.T) {
	a, err := SchemaName("north-star-audio")
	assert.NoError(t, err)
	b, err := SchemaName("north-star-audio")
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSchemaNameRejectsInjection(t *testing.T) {
	bad := []string{
		"",
		"-leading",
		"trailing-",
		"double--hyphen",
		"has space",
		"semi;colon",
		`quote"d`,
		"acme; DROP SCHEMA catalog CASCADE",
		"acme.catalog",
		"acme_underscore",
		"pg_catalog",
	}

	for _, slug := range bad {
		_, err := SchemaName(slug)
		assert.Error(t, err, "slug %q should be rejected", slug)
		assert.Equal(t, apperr.KindSchemaError, apperr.KindOf(err), "slug %q", slug)
	}
}
