package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/models"
)

var (
	diffDigest    bool
	diffUnchanged bool
	diffPassword  string
)

var diffCmd = &cobra.Command{
	Use:   "diff <left> <right>",
	Short: "Compare the file trees of two archives",
	Long: `Diff parses two archives and compares their file members by path.
By default files count as modified when their sizes differ; with
--digest member content is extracted and hashed, catching same-size
edits at the cost of decompressing both archives.`,
	Example: `  arcmill diff backup-monday.zip backup-friday.zip
  arcmill diff v1.tgz v2.tgz --digest
  arcmill diff a.zip b.zip --unchanged`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().BoolVar(&diffDigest, "digest", false, "hash member content instead of trusting sizes")
	diffCmd.Flags().BoolVar(&diffUnchanged, "unchanged", false, "list unchanged files too")
	diffCmd.Flags().StringVarP(&diffPassword, "password", "p", "", "password for encrypted rar and 7z archives")
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	left, err := loadDiffSide(ctx, args[0])
	if err != nil {
		return err
	}
	right, err := loadDiffSide(ctx, args[1])
	if err != nil {
		return err
	}

	entries := models.CompareTrees(left, right)
	summary := models.Summarize(entries)

	if jsonOutput {
		out := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			if e.Status() == models.DiffUnchanged && !diffUnchanged {
				continue
			}
			out = append(out, diffEntryJSON(e))
		}
		printJSON(map[string]interface{}{
			"left":    args[0],
			"right":   args[1],
			"summary": summary,
			"entries": out,
		})
		return nil
	}

	for _, e := range entries {
		switch entry := e.(type) {
		case models.AddedEntry:
			successColor.Printf("+ %s %s\n", entry.EntryPath, faintColor.Sprintf("(%s)", formatBytes(entry.Right.Size)))
		case models.RemovedEntry:
			errorColor.Printf("- %s\n", entry.EntryPath)
		case models.ModifiedEntry:
			warnColor.Printf("~ %s %s\n", entry.EntryPath, faintColor.Sprintf("(%s)", formatDelta(entry.SizeChange)))
		case models.UnchangedEntry:
			if diffUnchanged {
				faintColor.Printf("  %s\n", entry.EntryPath)
			}
		}
	}

	fmt.Printf("\n%d added, %d removed, %d modified, %d unchanged\n",
		summary.Added, summary.Removed, summary.Modified, summary.Unchanged)

	if summary.Added == 0 && summary.Removed == 0 && summary.Modified == 0 {
		printSuccess("✅ Archives carry identical file trees")
	}
	return nil
}

// loadDiffSide parses one archive into its tree, attaching content
// digests when requested.
func loadDiffSide(ctx context.Context, ref string) ([]*models.FileNode, error) {
	src, closeSrc, err := apiClient.OpenSource(ctx, ref)
	if err != nil {
		printError("Cannot open %s: %v", ref, err)
		return nil, err
	}
	defer closeSrc()

	data, err := readSource(ctx, src)
	if err != nil {
		printError("Cannot read %s: %v", src.Name(), err)
		return nil, err
	}

	handler, err := apiClient.Registry.Resolve(src.Name(), data)
	if err != nil {
		printError("Cannot resolve a handler for %s: %v", src.Name(), err)
		return nil, err
	}

	opts := format.ParseOptions{Password: diffPassword}
	nodes, err := loadOrSalvage(ctx, handler, data, opts)
	if err != nil {
		printError("Cannot parse %s: %v", src.Name(), err)
		return nil, err
	}

	if diffDigest {
		if err := format.AttachDigests(ctx, handler, data, nodes, opts); err != nil {
			printWarning("Cannot digest %s, comparing by size only: %v", src.Name(), err)
		}
	}
	return nodes, nil
}

func diffEntryJSON(e models.DiffEntry) map[string]interface{} {
	out := map[string]interface{}{
		"path":   e.Path(),
		"status": string(e.Status()),
	}
	switch entry := e.(type) {
	case models.AddedEntry:
		out["size"] = entry.Right.Size
	case models.RemovedEntry:
		out["size"] = entry.Left.Size
	case models.ModifiedEntry:
		out["left_size"] = entry.Left.Size
		out["right_size"] = entry.Right.Size
		out["size_change"] = entry.SizeChange
	case models.UnchangedEntry:
		out["size"] = entry.Left.Size
	}
	return out
}

func formatDelta(d int64) string {
	if d < 0 {
		return "-" + formatBytes(-d)
	}
	return "+" + formatBytes(d)
}
