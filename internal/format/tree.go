package format

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/arcmill/arcmill/internal/models"
)

// treeBuilder assembles archive members into a FileNode forest. Parent
// folders materialize before their children, so a member can never
// reference a folder the tree does not hold yet.
type treeBuilder struct {
	roots  []*models.FileNode
	byPath map[string]*models.FileNode
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{byPath: make(map[string]*models.FileNode)}
}

// AddFile inserts a file member. A duplicate path updates the existing
// node in place instead of forking the tree.
func (b *treeBuilder) AddFile(entryPath string, size int64) *models.FileNode {
	p := models.NormalizeEntryPath(entryPath)
	if p == "" {
		return nil
	}

	if existing, ok := b.byPath[p]; ok {
		if existing.Type == models.NodeFile {
			existing.Size = size
		}
		return existing
	}

	n := models.NewFileNode(path.Base(p), p, models.NodeFile)
	n.Size = size
	b.byPath[p] = n
	b.attach(n)
	return n
}

// AddFolder inserts an explicit directory member.
func (b *treeBuilder) AddFolder(entryPath string) *models.FileNode {
	p := models.NormalizeEntryPath(entryPath)
	if p == "" {
		return nil
	}
	return b.ensureFolder(p)
}

func (b *treeBuilder) ensureFolder(p string) *models.FileNode {
	if existing, ok := b.byPath[p]; ok {
		if existing.Type == models.NodeFile {
			// A member claimed this path as a file first. Promote it so
			// the children still have a home.
			existing.Type = models.NodeFolder
			if existing.Children == nil {
				existing.Children = []*models.FileNode{}
			}
		}
		return existing
	}

	n := models.NewFileNode(path.Base(p), p, models.NodeFolder)
	b.byPath[p] = n
	b.attach(n)
	return n
}

func (b *treeBuilder) attach(n *models.FileNode) {
	dir := path.Dir(n.Path)
	if dir == "." || dir == "" {
		b.roots = append(b.roots, n)
		return
	}

	parent := b.ensureFolder(dir)
	parent.Children = append(parent.Children, n)
}

// Len reports how many members the builder holds.
func (b *treeBuilder) Len() int {
	return len(b.byPath)
}

// Nodes returns the forest sorted containers-first, then by name.
func (b *treeBuilder) Nodes() []*models.FileNode {
	sortNodes(b.roots)
	return b.roots
}

func sortNodes(nodes []*models.FileNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].IsContainer() != nodes[j].IsContainer() {
			return nodes[i].IsContainer()
		}
		return nodes[i].Name < nodes[j].Name
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

// ValidateStructure runs the baseline structural checks shared by all
// handlers: a member without a name is an error, a file member whose
// size the codec could not supply is a warning.
func ValidateStructure(nodes []*models.FileNode) *models.ValidationResult {
	result := models.NewValidationResult()

	models.WalkTree(nodes, func(n *models.FileNode) bool {
		if n.Name == "" {
			result.AddError(n.Path, "name", "member has no name")
		}
		if n.Type == models.NodeFile && n.Meta(MetaSizeUnknown) == "true" {
			result.AddWarning(n.Path, "size", "member size unknown")
		}
		return true
	})

	return result
}

// AttachDigests walks file members and records a content digest for
// each, extracting member content through the handler. The diff
// surface uses this; plain listing never decompresses.
func AttachDigests(ctx context.Context, h Handler, data []byte, nodes []*models.FileNode, opts ParseOptions) error {
	ex, ok := h.(Extractor)
	if !ok {
		return models.ErrExtractUnsupported
	}

	var firstErr error
	models.WalkTree(nodes, func(n *models.FileNode) bool {
		if err := ctx.Err(); err != nil {
			firstErr = err
			return false
		}
		if n.Type != models.NodeFile {
			return true
		}

		content, err := ex.Extract(ctx, data, n.Path, opts)
		if err != nil {
			firstErr = fmt.Errorf("digest %s: %w", n.Path, err)
			return false
		}
		n.SetMeta(models.MetaDigest, models.ContentDigest(content))
		return true
	})

	return firstErr
}
