package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arcmill/arcmill/internal/models"
)

var (
	repairStrategy string
	repairLang     string
	repairOut      string
)

var repairCmd = &cobra.Command{
	Use:   "repair <file>",
	Short: "Repair truncated or damaged text content",
	Long: `Repair runs a text file through the content repair strategies:
dropping unreadable bytes, balancing brackets and fences, and closing
dangling markup. It reports each change and a confidence score; the
repaired content is only written when --out is given.`,
	Example: `  arcmill repair salvaged/config.json
  arcmill repair notes.md --lang markdown --out notes.fixed.md
  arcmill repair broken.go --strategy bracket_balancer --out -`,
	Args: cobra.ExactArgs(1),
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(repairCmd)

	repairCmd.Flags().StringVarP(&repairStrategy, "strategy", "s", "combined", "repair strategy to run")
	repairCmd.Flags().StringVarP(&repairLang, "lang", "l", "", "language hint (default derives from the file extension)")
	repairCmd.Flags().StringVarP(&repairOut, "out", "o", "", "write the repaired content to this path, - for stdout")
}

func runRepair(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		printError("Cannot read %s: %v", args[0], err)
		return err
	}

	if models.IsBinaryFile(args[0], data) {
		printError("%s looks binary; repair only handles text content", args[0])
		return fmt.Errorf("binary content: %s", args[0])
	}

	lang := repairLang
	if lang == "" {
		lang = strings.TrimPrefix(filepath.Ext(args[0]), ".")
	}

	result, err := apiClient.Repair.RepairWith(repairStrategy, string(data), lang)
	if err != nil {
		names := apiClient.Repair.Names()
		sort.Strings(names)
		printError("%v (available: %s)", err, strings.Join(names, ", "))
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"file":     args[0],
			"strategy": repairStrategy,
			"language": lang,
			"result":   result,
		})
	} else {
		fmt.Printf("🔧 %s (%s strategy)\n", accentColor.Sprint(args[0]), repairStrategy)
		fmt.Printf("   Confidence: %s\n", healthLabel(result.Confidence))
		fmt.Printf("   Complete:   %s\n", yesNo(result.Complete))
		fmt.Printf("   Changes:    %d\n", len(result.Sections))

		for _, s := range result.Sections {
			fmt.Printf("\n   line %d: %s\n", s.Line, s.Reason)
			fmt.Printf("   %s %s\n", errorColor.Sprint("-"), faintColor.Sprint(trimLine(s.Original, 72)))
			fmt.Printf("   %s %s\n", successColor.Sprint("+"), trimLine(s.Repaired, 72))
		}

		switch {
		case !result.Changed() && result.Complete:
			printSuccess("\n✅ No repairs needed, the content is intact")
		case !result.Changed():
			printWarning("\nNothing could be repaired")
		}
	}

	if repairOut == "" {
		return nil
	}
	if repairOut == "-" {
		fmt.Print(result.RepairedContent)
		return nil
	}
	if err := os.WriteFile(repairOut, []byte(result.RepairedContent), 0o644); err != nil {
		printError("Cannot write %s: %v", repairOut, err)
		return err
	}
	if !jsonOutput {
		printSuccess("✅ Wrote repaired content to %s", repairOut)
	}
	return nil
}

// trimLine bounds one source line for terminal display.
func trimLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\t", "    ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
