package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcmill/arcmill/internal/models"
)

func fileNode(path string, size int64) *models.FileNode {
	n := models.NewFileNode(path, path, models.NodeFile)
	n.Size = size
	return n
}

func TestCompareTrees(t *testing.T) {
	left := []*models.FileNode{
		fileNode("a.txt", 10),
		fileNode("b.txt", 20),
		fileNode("c.txt", 30),
	}
	right := []*models.FileNode{
		fileNode("a.txt", 10),
		fileNode("b.txt", 25),
		fileNode("d.txt", 40),
	}

	entries := models.CompareTrees(left, right)
	require.Len(t, entries, 4)

	byPath := make(map[string]models.DiffEntry)
	for _, e := range entries {
		byPath[e.Path()] = e
	}

	assert.Equal(t, models.DiffUnchanged, byPath["a.txt"].Status())
	assert.Equal(t, models.DiffModified, byPath["b.txt"].Status())
	assert.Equal(t, models.DiffRemoved, byPath["c.txt"].Status())
	assert.Equal(t, models.DiffAdded, byPath["d.txt"].Status())

	mod, ok := byPath["b.txt"].(models.ModifiedEntry)
	require.True(t, ok)
	assert.Equal(t, int64(5), mod.SizeChange)
	assert.NotNil(t, mod.Left)
	assert.NotNil(t, mod.Right)

	added, ok := byPath["d.txt"].(models.AddedEntry)
	require.True(t, ok)
	assert.NotNil(t, added.Right)

	removed, ok := byPath["c.txt"].(models.RemovedEntry)
	require.True(t, ok)
	assert.NotNil(t, removed.Left)
}

func TestCompareTreesSortedByPath(t *testing.T) {
	left := []*models.FileNode{fileNode("z.txt", 1), fileNode("a.txt", 1)}
	right := []*models.FileNode{fileNode("m.txt", 1)}

	entries := models.CompareTrees(left, right)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.txt", entries[0].Path())
	assert.Equal(t, "m.txt", entries[1].Path())
	assert.Equal(t, "z.txt", entries[2].Path())
}

func TestCompareTreesDigestDecides(t *testing.T) {
	left := fileNode("a.bin", 16)
	right := fileNode("a.bin", 16)

	left.SetMeta(models.MetaDigest, models.ContentDigest([]byte("old content....x")))
	right.SetMeta(models.MetaDigest, models.ContentDigest([]byte("new content....x")))

	entries := models.CompareTrees(
		[]*models.FileNode{left},
		[]*models.FileNode{right},
	)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DiffModified, entries[0].Status())

	mod := entries[0].(models.ModifiedEntry)
	assert.Zero(t, mod.SizeChange)
}

func TestCompareTreesMissingDigestIsUnchanged(t *testing.T) {
	left := fileNode("a.bin", 16)
	right := fileNode("a.bin", 16)
	right.SetMeta(models.MetaDigest, "abc")

	entries := models.CompareTrees(
		[]*models.FileNode{left},
		[]*models.FileNode{right},
	)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DiffUnchanged, entries[0].Status())
}

func TestSummarize(t *testing.T) {
	left := []*models.FileNode{fileNode("a", 1), fileNode("b", 2)}
	right := []*models.FileNode{fileNode("b", 3), fileNode("c", 4)}

	summary := models.Summarize(models.CompareTrees(left, right))

	assert.Equal(t, models.DiffSummary{
		Added:     1,
		Removed:   1,
		Modified:  1,
		Unchanged: 0,
	}, summary)
}

func TestContentDigestStable(t *testing.T) {
	d1 := models.ContentDigest([]byte("hello"))
	d2 := models.ContentDigest([]byte("hello"))
	d3 := models.ContentDigest([]byte("world"))

	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, d3)
	assert.Len(t, d1, 64)
}
