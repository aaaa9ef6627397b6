package models

import (
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// NodeType identifies what a tree node represents.
type NodeType string

const (
	NodeFile    NodeType = "file"
	NodeFolder  NodeType = "folder"
	NodeArchive NodeType = "archive"
)

// FileNode is one entry in a parsed archive tree. Children is nil for
// files and non-nil (possibly empty) for folders and nested archives;
// each node is owned by exactly one parent.
type FileNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     NodeType    `json:"type"`
	Size     int64       `json:"size"`
	Path     string      `json:"path"`
	Children []*FileNode `json:"children,omitempty"`

	Error              string            `json:"error,omitempty"`
	PartiallyRecovered bool              `json:"partially_recovered,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// NewFileNode creates a node with a fresh ID.
func NewFileNode(name, nodePath string, nodeType NodeType) *FileNode {
	n := &FileNode{
		ID:   uuid.New().String(),
		Name: name,
		Type: nodeType,
		Path: nodePath,
	}
	if nodeType != NodeFile {
		n.Children = []*FileNode{}
	}
	return n
}

// IsContainer reports whether the node may hold children.
func (n *FileNode) IsContainer() bool {
	return n.Type == NodeFolder || n.Type == NodeArchive
}

// SetMeta records a metadata key, allocating the map on first use.
func (n *FileNode) SetMeta(key, value string) {
	if n.Metadata == nil {
		n.Metadata = make(map[string]string)
	}
	n.Metadata[key] = value
}

// Meta returns a metadata value or "".
func (n *FileNode) Meta(key string) string {
	if n.Metadata == nil {
		return ""
	}
	return n.Metadata[key]
}

// Walk visits the node and all descendants depth-first. Returning false
// from fn stops the walk.
func (n *FileNode) Walk(fn func(*FileNode) bool) bool {
	if !fn(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// WalkTree visits every node of a forest depth-first.
func WalkTree(nodes []*FileNode, fn func(*FileNode) bool) {
	for _, n := range nodes {
		if !n.Walk(fn) {
			return
		}
	}
}

// FindByPath locates a node by its normalized path.
func FindByPath(nodes []*FileNode, target string) *FileNode {
	target = NormalizeEntryPath(target)
	var found *FileNode
	WalkTree(nodes, func(n *FileNode) bool {
		if n.Path == target {
			found = n
			return false
		}
		return true
	})
	return found
}

// TotalSize sums the sizes of all file nodes in the forest.
func TotalSize(nodes []*FileNode) int64 {
	var total int64
	WalkTree(nodes, func(n *FileNode) bool {
		if n.Type == NodeFile {
			total += n.Size
		}
		return true
	})
	return total
}

// CountNodes returns the number of files and containers in the forest.
func CountNodes(nodes []*FileNode) (files, containers int) {
	WalkTree(nodes, func(n *FileNode) bool {
		if n.Type == NodeFile {
			files++
		} else {
			containers++
		}
		return true
	})
	return files, containers
}

// NormalizeEntryPath canonicalizes an archive entry path: NFC
// normalization, forward slashes, no leading "./" or "/".
func NormalizeEntryPath(p string) string {
	p = norm.NFC.String(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}
