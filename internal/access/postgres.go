package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	postgresPermissionsTableName = "relaydoc_permissions"
	postgresOperationTimeout     = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresOracle reads grants from relaydoc_permissions(document_id,
// user_id, role). Missing rows mean no access.
type PostgresOracle struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresOracle(dsn string) (*PostgresOracle, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresOracle{
		dsn:       dsn,
		tableName: postgresPermissionsTableName,
		openDB:    sql.Open,
	}, nil
}

func (o *PostgresOracle) RoleFor(ctx context.Context, documentID, userID string) (Role, error) {
	if documentID == "" || userID == "" {
		return RoleNone, ErrInvalidInput
	}
	if err := o.ensureReady(); err != nil {
		return RoleNone, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT role FROM %s WHERE document_id = $1 AND user_id = $2", pq.QuoteIdentifier(o.tableName))
	var raw string
	err := o.db.QueryRowContext(ctx, query, documentID, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, err
	}
	return ParseRole(raw)
}

func (o *PostgresOracle) Grant(ctx context.Context, documentID, userID string, role Role) error {
	if documentID == "" || userID == "" || role == RoleNone {
		return ErrInvalidInput
	}
	if err := o.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (document_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id)
		DO UPDATE SET role = EXCLUDED.role`, pq.QuoteIdentifier(o.tableName))
	_, err := o.db.ExecContext(ctx, query, documentID, userID, string(role))
	return err
}

func (o *PostgresOracle) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}

func (o *PostgresOracle) ensureReady() error {
	if o == nil {
		return ErrInvalidInput
	}
	o.initOnce.Do(func() {
		db, err := o.openDB("postgres", o.dsn)
		if err != nil {
			o.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				document_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				role TEXT NOT NULL,
				PRIMARY KEY (document_id, user_id)
			)`, pq.QuoteIdentifier(o.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			o.initErr = err
			return
		}
		o.db = db
	})
	return o.initErr
}
