package models

import (
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// MetaDigest is the metadata key holding a node's content digest.
const MetaDigest = "digest"

// ContentDigest returns the hex BLAKE2b-256 digest of content.
func ContentDigest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DiffStatus names the comparison outcome for one path.
type DiffStatus string

const (
	DiffAdded     DiffStatus = "added"
	DiffRemoved   DiffStatus = "removed"
	DiffModified  DiffStatus = "modified"
	DiffUnchanged DiffStatus = "unchanged"
)

// DiffEntry is one comparison record. Each status has its own variant
// carrying exactly the nodes that exist on that side.
type DiffEntry interface {
	Path() string
	Status() DiffStatus
}

// AddedEntry exists only in the right tree.
type AddedEntry struct {
	EntryPath string
	Right     *FileNode
}

func (e AddedEntry) Path() string       { return e.EntryPath }
func (e AddedEntry) Status() DiffStatus { return DiffAdded }

// RemovedEntry exists only in the left tree.
type RemovedEntry struct {
	EntryPath string
	Left      *FileNode
}

func (e RemovedEntry) Path() string       { return e.EntryPath }
func (e RemovedEntry) Status() DiffStatus { return DiffRemoved }

// ModifiedEntry exists in both trees with differing content.
type ModifiedEntry struct {
	EntryPath   string
	Left, Right *FileNode
	SizeChange  int64
}

func (e ModifiedEntry) Path() string       { return e.EntryPath }
func (e ModifiedEntry) Status() DiffStatus { return DiffModified }

// UnchangedEntry exists identically in both trees.
type UnchangedEntry struct {
	EntryPath   string
	Left, Right *FileNode
}

func (e UnchangedEntry) Path() string       { return e.EntryPath }
func (e UnchangedEntry) Status() DiffStatus { return DiffUnchanged }

// CompareTrees diffs the file nodes of two forests by path. A file is
// modified when sizes differ, or when both sides carry digests that
// differ. Entries come back sorted by path.
func CompareTrees(left, right []*FileNode) []DiffEntry {
	leftFiles := indexFiles(left)
	rightFiles := indexFiles(right)

	entries := make([]DiffEntry, 0, len(leftFiles)+len(rightFiles))

	for p, ln := range leftFiles {
		rn, ok := rightFiles[p]
		if !ok {
			entries = append(entries, RemovedEntry{EntryPath: p, Left: ln})
			continue
		}
		if fileModified(ln, rn) {
			entries = append(entries, ModifiedEntry{
				EntryPath:  p,
				Left:       ln,
				Right:      rn,
				SizeChange: rn.Size - ln.Size,
			})
		} else {
			entries = append(entries, UnchangedEntry{EntryPath: p, Left: ln, Right: rn})
		}
	}

	for p, rn := range rightFiles {
		if _, ok := leftFiles[p]; !ok {
			entries = append(entries, AddedEntry{EntryPath: p, Right: rn})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path() < entries[j].Path()
	})

	return entries
}

// DiffSummary tallies entries per status.
type DiffSummary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
}

// Summarize counts entries by status.
func Summarize(entries []DiffEntry) DiffSummary {
	var s DiffSummary
	for _, e := range entries {
		switch e.Status() {
		case DiffAdded:
			s.Added++
		case DiffRemoved:
			s.Removed++
		case DiffModified:
			s.Modified++
		case DiffUnchanged:
			s.Unchanged++
		}
	}
	return s
}

func indexFiles(nodes []*FileNode) map[string]*FileNode {
	index := make(map[string]*FileNode)
	WalkTree(nodes, func(n *FileNode) bool {
		if n.Type == NodeFile {
			index[n.Path] = n
		}
		return true
	})
	return index
}

func fileModified(left, right *FileNode) bool {
	if left.Size != right.Size {
		return true
	}
	ld, rd := left.Meta(MetaDigest), right.Meta(MetaDigest)
	if ld != "" && rd != "" && ld != rd {
		return true
	}
	return false
}
