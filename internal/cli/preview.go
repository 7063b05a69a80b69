package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/splitpage/splitpage/internal/experiment"
)

var previewCmd = &cobra.Command{
	Use:   "preview <name> <variant>",
	Short: "Print the preview URL parameters for an experiment variant",
	Long: `Print the query parameters that force a specific variant in preview
mode. Append them to any page URL to see that variant regardless of your
current bucket; the page shows a dismissable indicator badge.

Example:
  splitpage preview why_now_text A`,
	Args: cobra.ExactArgs(2),
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	name, variant := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	experiments, _, err := experiment.FromConfig(cfg)
	if err != nil {
		return err
	}

	for _, exp := range experiments {
		if exp.Name != name {
			continue
		}
		if !exp.Has(variant) {
			return fmt.Errorf("variant %q not in experiment %q allowed set %v", variant, name, exp.Variants)
		}

		params := url.Values{}
		params.Set(experiment.PreviewParam, name)
		params.Set(experiment.PreviewVariantParam, variant)

		fmt.Printf("Append to any page URL:\n\n  ?%s\n\n", params.Encode())
		fmt.Println("Dismissing the on-page badge clears the forced choice for this experiment only.")
		return nil
	}

	return fmt.Errorf("experiment %q not found in config", name)
}
