package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// schemaIdentRe is the allow-list for physical schema identifiers. Derived
// names never contain anything else; a failure here means the identifier was
// not produced by the resolver.
var schemaIdentRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

type Store struct {
	db            *sqlx.DB
	catalogSchema string
	logger        *zap.Logger
}

// NewStore creates a new database store. catalogSchema is the shared schema
// holding the organization and user registry.
func NewStore(databaseURL, catalogSchema string) (*Store, error) {
	if !schemaIdentRe.MatchString(catalogSchema) {
		return nil, apperr.Ef(apperr.KindSchemaError, "invalid catalog schema name %q", catalogSchema)
	}

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, catalogSchema: catalogSchema, logger: util.GetLogger()}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// ValidSchemaIdent reports whether name is acceptable as a schema identifier.
func ValidSchemaIdent(name string) bool {
	return schemaIdentRe.MatchString(name)
}

// WithSchemaTx runs fn inside a transaction whose search_path is pinned to a
// single tenant schema. The binding is SET LOCAL, so it lives and dies with
// this transaction; nothing leaks to other connections or requests.
func (s *Store) WithSchemaTx(ctx context.Context, schema string, fn func(tx *sqlx.Tx) error) error {
	if !schemaIdentRe.MatchString(schema) {
		return apperr.Ef(apperr.KindSchemaError, "invalid schema identifier %q", schema)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var found string
	err = tx.GetContext(ctx, &found,
		"SELECT schema_name FROM information_schema.schemata WHERE schema_name = $1", schema)
	if err == sql.ErrNoRows {
		return apperr.Ef(apperr.KindSchemaError, "schema %q does not exist", schema)
	}
	if err != nil {
		return fmt.Errorf("failed to check schema: %w", err)
	}

	setPath := fmt.Sprintf("SET LOCAL search_path TO %s, pg_catalog", pq.QuoteIdentifier(schema))
	if _, err := tx.ExecContext(ctx, setPath); err != nil {
		return apperr.Wrap(apperr.KindSchemaError, "failed to set search path", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// QuerySchema runs one read query against one tenant schema and returns the
// rows as generic maps. Used by aggregate endpoints that assemble ad-hoc
// sub-queries; typed access paths should use the dedicated methods instead.
func (s *Store) QuerySchema(ctx context.Context, schema, query string, args ...interface{}) ([]map[string]interface{}, error) {
	var out []map[string]interface{}

	err := s.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			row := map[string]interface{}{}
			if err := rows.MapScan(row); err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SafeResult carries the outcome of a SafeQuerySchema call. Callers must
// check Err before trusting Data.
type SafeResult struct {
	Data []map[string]interface{}
	Err  error
}

// SafeQuerySchema never fails the caller: any error, including a panic inside
// the driver, is captured into the result so aggregate endpoints can degrade
// to partial responses. Failures are logged and counted.
func (s *Store) SafeQuerySchema(ctx context.Context, schema, label, query string, args ...interface{}) (res SafeResult) {
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("query panicked: %v", r)
		}
		if res.Err != nil {
			res.Data = nil
			util.SafeQueryFailuresTotal.WithLabelValues(label).Inc()
			s.logger.Warn("Sub-query failed, degrading to partial result",
				zap.String("label", label),
				zap.String("schema", schema),
				zap.Error(res.Err))
		}
	}()

	res.Data, res.Err = s.QuerySchema(ctx, schema, query, args...)
	return res
}

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
