package lockstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/n3tuk/document-node-lock/internal/database"
	"github.com/n3tuk/document-node-lock/internal/model"
)

const lockColumns = `id, project_id, resource_type, document_id, node_id, resource_id, user_id, locked_at_ms`

// SQLStore keeps lock rows in the locks table. On SQLite every write
// transaction begins IMMEDIATE, which serializes writers database-wide. On
// PostgreSQL a transaction-scoped advisory lock on the scope serializes
// writers of the same scope only.
type SQLStore struct {
	db *database.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a lock store on db. The caller owns db.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Update implements Store.
func (s *SQLStore) Update(ctx context.Context, scope string, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lock transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.db.IsPostgres() {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope); err != nil {
			return fmt.Errorf("lock scope %s: %w", scope, err)
		}
	}

	if err := fn(&sqlTx{db: s.db, tx: tx, scope: scope}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lock transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	db    *database.DB
	tx    *sql.Tx
	scope string
}

func (t *sqlTx) List(ctx context.Context) ([]*model.Lock, error) {
	return queryLocks(ctx, t.tx, t.db.Rebind(`SELECT `+lockColumns+` FROM locks WHERE scope = ? ORDER BY locked_at_ms, id`), t.scope)
}

func (t *sqlTx) Insert(ctx context.Context, l *model.Lock) error {
	if err := validateInsert(t.scope, l); err != nil {
		return err
	}

	var n int
	err := t.tx.QueryRowContext(ctx,
		t.db.Rebind(`SELECT COUNT(*) FROM locks WHERE resource_key = ? OR id = ?`), l.Key(), l.ID,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check lock row: %w", err)
	}
	if n > 0 {
		return ErrDuplicate
	}

	_, err = t.tx.ExecContext(ctx, t.db.Rebind(`
INSERT INTO locks (`+lockColumns+`, scope, resource_key, resource_class)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.ProjectID, string(l.ResourceType),
		nullString(l.DocumentID), nullString(l.NodeID), nullString(l.ResourceID),
		l.UserID, l.LockedAt,
		t.scope, l.Key(), string(l.Class()),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert lock: %w", err)
	}
	return nil
}

func (t *sqlTx) Touch(ctx context.Context, id string, lockedAt int64) error {
	res, err := t.tx.ExecContext(ctx,
		t.db.Rebind(`UPDATE locks SET locked_at_ms = ? WHERE id = ? AND scope = ?`), lockedAt, id, t.scope)
	if err != nil {
		return fmt.Errorf("touch lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) Delete(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx,
		t.db.Rebind(`DELETE FROM locks WHERE id = ? AND scope = ?`), id, t.scope)
	if err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, scope string) ([]*model.Lock, error) {
	return queryLocks(ctx, s.db, s.db.Rebind(`SELECT `+lockColumns+` FROM locks WHERE scope = ? ORDER BY locked_at_ms, id`), scope)
}

// FindByKey implements Store.
func (s *SQLStore) FindByKey(ctx context.Context, key string) (*model.Lock, error) {
	return s.findOne(ctx, `SELECT `+lockColumns+` FROM locks WHERE resource_key = ?`, key)
}

// FindByID implements Store.
func (s *SQLStore) FindByID(ctx context.Context, id string) (*model.Lock, error) {
	return s.findOne(ctx, `SELECT `+lockColumns+` FROM locks WHERE id = ?`, id)
}

func (s *SQLStore) findOne(ctx context.Context, q string, arg string) (*model.Lock, error) {
	l, err := scanLock(s.db.QueryRowContext(ctx, s.db.Rebind(q), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	return l, nil
}

// DeleteExpired implements Store.
func (s *SQLStore) DeleteExpired(ctx context.Context, class model.ResourceClass, before int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM locks WHERE resource_class = ? AND locked_at_ms < ?`), string(class), before)
	if err != nil {
		return 0, fmt.Errorf("delete expired locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Count implements Store.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count locks: %w", err)
	}
	return n, nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store. The database belongs to the caller.
func (s *SQLStore) Close(ctx context.Context) error {
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func queryLocks(ctx context.Context, q queryer, query string, args ...interface{}) ([]*model.Lock, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query locks: %w", err)
	}
	defer rows.Close()

	var out []*model.Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLock(sc rowScanner) (*model.Lock, error) {
	var (
		l                              model.Lock
		rt                             string
		documentID, nodeID, resourceID sql.NullString
	)
	if err := sc.Scan(&l.ID, &l.ProjectID, &rt, &documentID, &nodeID, &resourceID, &l.UserID, &l.LockedAt); err != nil {
		return nil, err
	}
	l.ResourceType = model.ResourceType(rt)
	l.DocumentID = documentID.String
	l.NodeID = nodeID.String
	l.ResourceID = resourceID.String
	return &l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
