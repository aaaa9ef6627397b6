package format_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/models"
	"github.com/arcmill/arcmill/test/testutil"
)

func TestZipHandlerLoad(t *testing.T) {
	h := format.NewZipHandler()
	data := testutil.ZipArchive(t, testutil.ProjectEntries())

	nodes, err := h.Load(context.Background(), data, format.ParseOptions{})
	require.NoError(t, err)

	// Containers first at every level.
	require.Len(t, nodes, 2)
	assert.Equal(t, "src", nodes[0].Name)
	assert.Equal(t, models.NodeFolder, nodes[0].Type)
	assert.Equal(t, "README.md", nodes[1].Name)

	main := models.FindByPath(nodes, "src/main.go")
	require.NotNil(t, main)
	assert.EqualValues(t, len("package main\n\nfunc main() {}\n"), main.Size)
	assert.Equal(t, "deflate", main.Meta(format.MetaMethod))

	helper := models.FindByPath(nodes, "src/util/helper.go")
	require.NotNil(t, helper)

	// util was never an explicit member; it materialized as a parent.
	util := models.FindByPath(nodes, "src/util")
	require.NotNil(t, util)
	assert.Equal(t, models.NodeFolder, util.Type)
}

func TestZipHandlerLoadGarbage(t *testing.T) {
	h := format.NewZipHandler()

	_, err := h.Load(context.Background(), []byte("this is not a zip"), format.ParseOptions{})

	require.Error(t, err)
	var pe *models.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "zip", pe.Format)
}

func TestZipHandlerExtract(t *testing.T) {
	h := format.NewZipHandler()
	data := testutil.ZipArchive(t, testutil.ProjectEntries())

	content, err := h.Extract(context.Background(), data, "src/main.go", format.ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", string(content))

	_, err = h.Extract(context.Background(), data, "src/missing.go", format.ParseOptions{})
	assert.ErrorIs(t, err, models.ErrMemberNotFound)
}

func TestZipHandlerValidate(t *testing.T) {
	h := format.NewZipHandler()
	data := testutil.ZipArchive(t, testutil.ProjectEntries())

	nodes, err := h.Load(context.Background(), data, format.ParseOptions{})
	require.NoError(t, err)

	result := h.Validate(nodes)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)
}

func TestZipHandlerRepairSalvagesHeaders(t *testing.T) {
	h := format.NewZipHandler()
	full := testutil.ZipArchive(t, testutil.ProjectEntries())
	broken := testutil.ZipWithoutDirectory(t, full)

	// Sanity: the normal path must refuse this input.
	_, err := h.Load(context.Background(), broken, format.ParseOptions{})
	require.Error(t, err)

	outcome := h.Repair(context.Background(), broken, err)

	require.True(t, outcome.Success)
	assert.InDelta(t, 0.9, outcome.Confidence, 1e-9)
	assert.True(t, strings.Contains(strings.Join(outcome.Log, "\n"), "salvaged"))

	main := models.FindByPath(outcome.Nodes, "src/main.go")
	require.NotNil(t, main)
	assert.True(t, main.PartiallyRecovered)
	assert.Equal(t, "true", main.Meta(format.MetaSalvaged))

	// The zip writer defers sizes to data descriptors, so salvage
	// cannot know them; validation flags that as warnings only.
	assert.Equal(t, "true", main.Meta(format.MetaSizeUnknown))
	result := h.Validate(outcome.Nodes)
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Issues)
}

func TestZipHandlerRepairUnrecoverable(t *testing.T) {
	h := format.NewZipHandler()

	outcome := h.Repair(context.Background(), []byte("nothing zip-like here"), errors.New("parse failed"))

	assert.False(t, outcome.Success)
	assert.Empty(t, outcome.Nodes)
	assert.NotEmpty(t, outcome.Log)
	assert.Zero(t, outcome.Confidence)
}
