package tree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/n3tuk/document-node-lock/internal/database"
	"github.com/n3tuk/document-node-lock/internal/model"
)

const nodeColumns = `id, document_id, parent_id, sort_order, node_type, text, attrs`

// SQLStore reads the node tree from the nodes table.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a SQL-backed tree reader.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Put upserts a node. The editor owns node writes in production; this exists
// for seeding and tests.
func (s *SQLStore) Put(ctx context.Context, n *model.Node) error {
	if n == nil || n.ID == "" || n.DocumentID == "" {
		return fmt.Errorf("node id and document id are required")
	}

	var parent sql.NullString
	if n.ParentID != nil && *n.ParentID != "" {
		parent = sql.NullString{String: *n.ParentID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  document_id = excluded.document_id,
  parent_id = excluded.parent_id,
  sort_order = excluded.sort_order,
  node_type = excluded.node_type,
  text = excluded.text,
  attrs = excluded.attrs`),
		n.ID, n.DocumentID, parent, n.Order, string(n.Type), n.Text, n.Attrs,
	)
	if err != nil {
		return fmt.Errorf("put node: %w", err)
	}
	return nil
}

// GetNode implements Reader.
func (s *SQLStore) GetNode(ctx context.Context, nodeID string) (*model.Node, error) {
	row := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`), nodeID)

	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// GetChildren implements Reader.
func (s *SQLStore) GetChildren(ctx context.Context, nodeID string) ([]*model.Node, error) {
	return s.query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = ? ORDER BY sort_order, id`, nodeID)
}

// GetRootNodes implements Reader.
func (s *SQLStore) GetRootNodes(ctx context.Context, documentID string) ([]*model.Node, error) {
	return s.query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE document_id = ? AND (parent_id IS NULL OR parent_id = '') ORDER BY sort_order, id`,
		documentID)
}

func (s *SQLStore) query(ctx context.Context, q string, args ...interface{}) ([]*model.Node, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]*model.Node, 0)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(sc scanner) (*model.Node, error) {
	var (
		n        model.Node
		parent   sql.NullString
		nodeType string
	)
	if err := sc.Scan(&n.ID, &n.DocumentID, &parent, &n.Order, &nodeType, &n.Text, &n.Attrs); err != nil {
		return nil, err
	}
	if parent.Valid && parent.String != "" {
		p := parent.String
		n.ParentID = &p
	}
	n.Type = model.NodeType(nodeType)
	return &n, nil
}
