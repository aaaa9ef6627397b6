package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcmill/arcmill/internal/models"
	"github.com/arcmill/arcmill/internal/pipeline"
	"github.com/arcmill/arcmill/internal/stream"
)

var inspectPassword string

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive>",
	Short: "Load an archive and show its file tree",
	Long: `Inspect runs an archive through the full ingestion pipeline and
prints the resulting tree with sizes, status, and health. Damaged
archives are salvaged where the codec allows it; entries that could
not be recovered are marked in the output.`,
	Example: `  arcmill inspect backup.zip
  arcmill inspect s3://bucket/exports/logs.tar.gz
  arcmill inspect secrets.rar --password hunter2`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectPassword, "password", "p", "", "password for encrypted rar and 7z archives")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		printWarning("\nInspect interrupted, cancelling...")
		apiClient.Pipeline.Cancel()
		cancel()
	}()

	src, closeSrc, err := apiClient.OpenSource(ctx, args[0])
	if err != nil {
		printError("Cannot open %s: %v", args[0], err)
		return err
	}
	defer closeSrc()

	opts := pipeline.Options{Password: inspectPassword}
	if jsonOutput {
		return runInspectJSON(ctx, src, opts)
	}
	return runInspectInteractive(ctx, src, opts)
}

func runInspectJSON(ctx context.Context, src stream.Source, opts pipeline.Options) error {
	archive, err := apiClient.Pipeline.Load(ctx, src, opts)
	if archive == nil {
		printJSON(map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return err
	}

	// A failed load still carries the salvaged tree and its errors.
	printJSON(archive)
	return err
}

func runInspectInteractive(ctx context.Context, src stream.Source, opts pipeline.Options) error {
	line := &progressLine{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range apiClient.Pipeline.Events() {
			switch event.Type {
			case pipeline.EventDetecting:
				line.update("🔍 Detecting format of %s...", src.Name())

			case pipeline.EventParsing:
				line.update("📖 Parsing %s...", src.Name())

			case pipeline.EventRepairing:
				line.finish()
				printWarning("Archive is damaged, salvaging readable entries...")

			case pipeline.EventProgress:
				if event.Progress != nil {
					line.update("⏳ %s %.1f%% (%s / %s)",
						event.Progress.Phase,
						event.Progress.Percent,
						formatBytes(event.Progress.BytesRead),
						formatBytes(event.Progress.TotalBytes))
				}

			case pipeline.EventFileError:
				line.finish()
				if event.Node != nil {
					printWarning("  %s: %s", event.Node.Path, event.Node.Error)
				}

			case pipeline.EventCompleted, pipeline.EventFailed:
				line.finish()
			}
		}
	}()

	start := time.Now()
	archive, err := apiClient.Pipeline.Load(ctx, src, opts)
	<-done
	line.finish()

	if archive == nil {
		printError("Load failed: %v", err)
		return err
	}

	printArchive(archive, time.Since(start))

	if err != nil {
		printError("\nLoad finished with errors: %v", err)
	}
	return err
}

func printArchive(a *models.Archive, elapsed time.Duration) {
	files, folders := models.CountNodes(a.FileTree)

	fmt.Printf("\n📦 %s\n", accentColor.Sprint(a.Name))
	fmt.Printf("   Format:  %s\n", a.Format)
	fmt.Printf("   Status:  %s\n", statusLabel(a.Status))
	fmt.Printf("   Entries: %d files, %d folders\n", files, folders)
	fmt.Printf("   Size:    %s archive, %s content\n", formatBytes(a.Size), formatBytes(models.TotalSize(a.FileTree)))
	fmt.Printf("   Health:  %s\n", healthLabel(a.HealthScore))
	fmt.Printf("   Took:    %s\n", elapsed.Round(time.Millisecond))

	if len(a.FileTree) > 0 {
		fmt.Println()
		printTree(a.FileTree, "")
	}

	for _, e := range a.Errors {
		switch e.Severity {
		case models.SeverityCritical, models.SeverityError:
			printError("%s", e.Error())
		case models.SeverityWarning:
			printWarning("%s", e.Error())
		default:
			printInfo("%s", e.Error())
		}
	}
}

func printTree(nodes []*models.FileNode, prefix string) {
	for i, n := range nodes {
		branch, childPrefix := "├── ", prefix+"│   "
		if i == len(nodes)-1 {
			branch, childPrefix = "└── ", prefix+"    "
		}
		fmt.Printf("%s%s%s\n", prefix, branch, nodeLabel(n))
		if len(n.Children) > 0 {
			printTree(n.Children, childPrefix)
		}
	}
}

func nodeLabel(n *models.FileNode) string {
	if n.Error != "" {
		return errorColor.Sprintf("%s (%s)", n.Name, n.Error)
	}
	if n.IsContainer() {
		return accentColor.Sprint(n.Name + "/")
	}

	label := fmt.Sprintf("%s %s", n.Name, faintColor.Sprintf("(%s)", formatBytes(n.Size)))
	if n.PartiallyRecovered {
		label += " " + warnColor.Sprint("partially recovered")
	}
	return label
}

func statusLabel(s models.ArchiveStatus) string {
	switch s {
	case models.StatusCompleted:
		return successColor.Sprint(string(s))
	case models.StatusPartial:
		return warnColor.Sprint(string(s))
	case models.StatusError, models.StatusCorrupted:
		return errorColor.Sprint(string(s))
	}
	return string(s)
}

func healthLabel(score float64) string {
	pct := fmt.Sprintf("%.1f%%", score*100)
	switch {
	case score >= 0.9:
		return successColor.Sprint(pct)
	case score >= 0.5:
		return warnColor.Sprint(pct)
	}
	return errorColor.Sprint(pct)
}
