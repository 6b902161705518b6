// Package memory provides the long-term memory data model: content-addressed
// nodes, the vector store and embedder contracts with their filter algebra,
// and the file store used to spill offloaded conversation content.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// NodeType tags what kind of memory a node holds.
type NodeType string

const (
	TypeIdentity   NodeType = "identity"
	TypePersonal   NodeType = "personal"
	TypeProcedural NodeType = "procedural"
	TypeTool       NodeType = "tool"
	TypeSummary    NodeType = "summary"
	TypeHistory    NodeType = "history"
)

// Node is one unit of long-term agent memory. Its ID derives from Content
// and Hint; use SetContent and SetHint so the ID and ModifiedAt stay in step
// with the fields they cover.
type Node struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	Content    string         `json:"content"`
	Hint       string         `json:"hint,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
	Author     string         `json:"author,omitempty"`
	Score      float32        `json:"score,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ModifiedAt time.Time      `json:"modified_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewNode creates a node with its ID computed from content and hint.
func NewNode(typ NodeType, content, hint string) *Node {
	now := time.Now().UTC()
	n := &Node{
		Type:       typ,
		Content:    content,
		Hint:       hint,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	n.ID = nodeID(content, hint)
	return n
}

// SetContent replaces the content, recomputing ID and ModifiedAt.
func (n *Node) SetContent(content string) {
	n.Content = content
	n.ID = nodeID(n.Content, n.Hint)
	n.ModifiedAt = time.Now().UTC()
}

// SetHint replaces the retrieval hint, recomputing ID and ModifiedAt.
func (n *Node) SetHint(hint string) {
	n.Hint = hint
	n.ID = nodeID(n.Content, n.Hint)
	n.ModifiedAt = time.Now().UTC()
}

func nodeID(content, hint string) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(hint))
	return hex.EncodeToString(h.Sum(nil))
}
