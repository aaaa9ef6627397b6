package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/stream"
)

var detectCmd = &cobra.Command{
	Use:   "detect <archive>",
	Short: "Identify an archive's format",
	Long: `Detect identifies an archive from its filename extension first and
falls back to magic bytes when the extension is unknown. It reports
both signals so a renamed or mislabeled archive is visible.`,
	Example: `  arcmill detect backup.zip
  arcmill detect s3://bucket/exports/logs.tar.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	src, closeSrc, err := apiClient.OpenSource(ctx, args[0])
	if err != nil {
		printError("Cannot open %s: %v", args[0], err)
		return err
	}
	defer closeSrc()

	head, err := readHead(src)
	if err != nil {
		printError("Cannot read %s: %v", args[0], err)
		return err
	}

	extFormat, extOK := apiClient.Registry.DetectFormat(src.Name(), nil)
	magicFormat, magicOK := format.Sniff(head)
	detected, ok := apiClient.Registry.DetectFormat(src.Name(), head)

	if jsonOutput {
		out := map[string]interface{}{
			"file":     src.Name(),
			"size":     src.Size(),
			"detected": ok,
		}
		if ok {
			out["format"] = string(detected)
		}
		if extOK {
			out["extension_match"] = string(extFormat)
		}
		if magicOK {
			out["magic_match"] = string(magicFormat)
		}
		if reg, found := registrationFor(detected); found {
			out["handler"] = reg
		}
		printJSON(out)
		if !ok {
			return fmt.Errorf("unrecognized archive: %s", src.Name())
		}
		return nil
	}

	fmt.Printf("📦 %s (%s)\n", src.Name(), formatBytes(src.Size()))

	if !ok {
		printWarning("No registered format matches the extension or the leading bytes")
		return fmt.Errorf("unrecognized archive: %s", src.Name())
	}

	fmt.Printf("   Format:      %s\n", accentColor.Sprint(string(detected)))
	fmt.Printf("   Extension:   %s\n", matchLabel(extFormat, extOK))
	fmt.Printf("   Magic:       %s\n", matchLabel(magicFormat, magicOK))

	if reg, found := registrationFor(detected); found {
		fmt.Printf("   Extensions:  %s\n", strings.Join(reg.Extensions, ", "))
		fmt.Printf("   Can repair:  %s\n", yesNo(reg.CanRepair))
		fmt.Printf("   Can extract: %s\n", yesNo(reg.CanExtract))
	}

	if extOK && magicOK && extFormat != magicFormat {
		printWarning("Extension says %s but the content looks like %s; parsing trusts the extension", extFormat, magicFormat)
	}

	return nil
}

// readHead returns the first chunk of a source, or nil for an empty one.
func readHead(src stream.Source) ([]byte, error) {
	chunker, err := stream.NewChunker(src, cfg.Stream.ChunkSize)
	if err != nil {
		return nil, err
	}
	chunk, err := chunker.Next()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chunk.Data, nil
}

func registrationFor(f format.Format) (format.Registration, bool) {
	for _, reg := range apiClient.Registry.Registrations() {
		if reg.ID == f {
			return reg, true
		}
	}
	return format.Registration{}, false
}

func matchLabel(f format.Format, ok bool) string {
	if !ok {
		return faintColor.Sprint("no match")
	}
	return string(f)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
