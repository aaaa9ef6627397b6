package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arcmill/arcmill/internal/extract"
	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/models"
	"github.com/arcmill/arcmill/internal/stream"
)

var (
	extractDest        string
	extractConflict    string
	extractFormat      string
	extractPassword    string
	extractAskPassword bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <archive> [member]",
	Short: "Write an archive's entries to disk",
	Long: `Extract parses an archive and writes its entries under the
destination directory. With a member path only that entry (or that
folder's subtree) is written. Damaged archives are salvaged first;
members the strict codec cannot decode are reported and skipped.`,
	Example: `  arcmill extract backup.zip --dest ./restore
  arcmill extract backup.zip docs/readme.md
  arcmill extract s3://bucket/exports/logs.tgz --conflict rename
  arcmill extract secrets.7z --ask-password`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractDest, "dest", "d", ".", "destination directory")
	extractCmd.Flags().StringVar(&extractConflict, "conflict", "", "conflict strategy: overwrite, rename, skip, or error (default from config)")
	extractCmd.Flags().StringVar(&extractFormat, "format", "", "force a format instead of detecting one")
	extractCmd.Flags().StringVarP(&extractPassword, "password", "p", "", "password for encrypted rar and 7z archives")
	extractCmd.Flags().BoolVar(&extractAskPassword, "ask-password", false, "prompt for the archive password")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		printWarning("\nExtraction interrupted, cancelling...")
		cancel()
	}()

	password := extractPassword
	if extractAskPassword && password == "" {
		var err error
		password, err = promptPassword("Archive password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	src, closeSrc, err := apiClient.OpenSource(ctx, args[0])
	if err != nil {
		printError("Cannot open %s: %v", args[0], err)
		return err
	}
	defer closeSrc()

	data, err := readSource(ctx, src)
	if err != nil {
		printError("Cannot read %s: %v", src.Name(), err)
		return err
	}

	ref := extractFormat
	if ref == "" {
		ref = src.Name()
	}
	handler, err := apiClient.Registry.Resolve(ref, data)
	if err != nil {
		printError("Cannot resolve a handler for %s: %v", src.Name(), err)
		return err
	}

	opts := format.ParseOptions{Password: password}
	nodes, err := loadOrSalvage(ctx, handler, data, opts)
	if err != nil {
		printError("Cannot parse %s: %v", src.Name(), err)
		return err
	}

	ecfg := cfg.Extract
	if extractConflict != "" {
		ecfg.Conflict = extractConflict
	}
	sink, err := extract.NewSink(extractDest, ecfg, logger)
	if err != nil {
		printError("Cannot prepare %s: %v", extractDest, err)
		return err
	}

	if len(args) == 2 {
		return extractMember(ctx, sink, handler, data, nodes, args[1], opts)
	}
	return extractAll(ctx, sink, handler, data, nodes, opts)
}

func extractAll(
	ctx context.Context,
	sink *extract.Sink,
	handler format.Handler,
	data []byte,
	nodes []*models.FileNode,
	opts format.ParseOptions,
) error {
	report, err := sink.WriteTree(ctx, handler, data, nodes, opts)
	if err != nil {
		printError("Extraction failed: %v", err)
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"dest":    sink.Dir(),
			"report":  report,
		})
		return nil
	}

	printSuccess("✅ Extracted %d file(s) (%s) to %s", report.Written, formatBytes(report.Bytes), sink.Dir())
	if report.Renamed > 0 {
		printInfo("%d file(s) renamed to avoid conflicts", report.Renamed)
	}
	if report.Skipped > 0 {
		printInfo("%d file(s) skipped, destination already present", report.Skipped)
	}
	if report.Failed > 0 {
		printWarning("%d member(s) could not be decoded", report.Failed)
	}
	return nil
}

func extractMember(
	ctx context.Context,
	sink *extract.Sink,
	handler format.Handler,
	data []byte,
	nodes []*models.FileNode,
	member string,
	opts format.ParseOptions,
) error {
	node := models.FindByPath(nodes, member)
	if node == nil {
		err := fmt.Errorf("member not found: %s", member)
		printError("%v", err)
		return err
	}

	// A folder member extracts its whole subtree.
	if node.IsContainer() {
		return extractAll(ctx, sink, handler, data, []*models.FileNode{node}, opts)
	}

	dest, err := sink.WriteMember(ctx, handler, data, node, opts)
	if err != nil {
		printError("Cannot extract %s: %v", member, err)
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"member":  node.Path,
			"dest":    dest,
			"skipped": dest == "",
		})
		return nil
	}

	if dest == "" {
		printInfo("Skipped %s, destination already present", node.Path)
		return nil
	}
	printSuccess("✅ Extracted %s (%s)", dest, formatBytes(node.Size))
	return nil
}

// readSource pulls a source into memory, enforcing the same size limit
// the pipeline applies to parse requests.
func readSource(ctx context.Context, src stream.Source) ([]byte, error) {
	if src.Size() > cfg.Pipeline.MaxFileSize {
		return nil, fmt.Errorf("archive exceeds the size limit: %s > %s",
			formatBytes(src.Size()), formatBytes(cfg.Pipeline.MaxFileSize))
	}
	return stream.ReadAll(ctx, src, cfg.Stream.ChunkSize)
}

// loadOrSalvage parses strictly first and falls back to the handler's
// lenient reparse when the archive is damaged.
func loadOrSalvage(ctx context.Context, h format.Handler, data []byte, opts format.ParseOptions) ([]*models.FileNode, error) {
	nodes, err := h.Load(ctx, data, opts)
	if err == nil {
		return nodes, nil
	}

	repairer, ok := h.(format.Repairer)
	if !ok {
		return nil, err
	}

	outcome := repairer.Repair(ctx, data, err)
	if outcome == nil || !outcome.Success {
		return nil, err
	}

	if !jsonOutput {
		files, _ := models.CountNodes(outcome.Nodes)
		printWarning("Archive is damaged, salvaged a listing of %d file(s)", files)
	}
	return outcome.Nodes, nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// No echo while typing.
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}
	return string(password), nil
}
