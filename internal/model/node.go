package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// NodeType tags a node in the document tree.
type NodeType string

const (
	NodeDocument        NodeType = "document"
	NodeHeading         NodeType = "heading"
	NodeParagraph       NodeType = "paragraph"
	NodeList            NodeType = "list"
	NodeListItem        NodeType = "listItem"
	NodeTable           NodeType = "table"
	NodeCodeBlock       NodeType = "codeBlock"
	NodeImage           NodeType = "image"
	NodeBlockquote      NodeType = "blockquote"
	NodeMarkdownSection NodeType = "markdownSection"
)

// Valid reports whether t belongs to the closed set of node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeDocument, NodeHeading, NodeParagraph, NodeList, NodeListItem,
		NodeTable, NodeCodeBlock, NodeImage, NodeBlockquote, NodeMarkdownSection:
		return true
	}
	return false
}

// Node is a position in a document tree. The root has a nil ParentID.
type Node struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"documentId"`
	ParentID   *string  `json:"parentId,omitempty"`
	Order      int      `json:"order"`
	Type       NodeType `json:"type"`
	Text       string   `json:"text,omitempty"`
	Attrs      JSONMap  `json:"attrs,omitempty"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.ParentID == nil || *n.ParentID == ""
}

// JSONMap holds free-form node attributes and round-trips through a TEXT
// column as JSON.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}
