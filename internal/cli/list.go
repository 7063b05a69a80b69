package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/splitpage/splitpage/internal/config"
	"github.com/splitpage/splitpage/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List all experiments with their status and statistics.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(cfg *config.Config, s *store.SQLiteStore) error {
		ctx := context.Background()

		experiments, err := s.ListExperiments(ctx)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(experiments) == 0 {
			fmt.Println("No experiments yet.")
			fmt.Println()
			fmt.Println("Define experiments in the config file and start the server,")
			fmt.Println("or create one directly:")
			fmt.Println("  splitpage create hero_headline --variants \"A,B\"")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tVARIANTS\tVIEWS\tCONVERSIONS\tCREATED")

		for _, exp := range experiments {
			variantStats, err := s.GetVariantStats(ctx, exp.Name)
			if err != nil {
				return fmt.Errorf("failed to get stats for experiment %s: %w", exp.Name, err)
			}

			totalViews := 0
			totalConversions := 0
			for _, stat := range variantStats {
				totalViews += stat.Views
				totalConversions += stat.Conversions
			}

			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				exp.Name,
				strings.ToUpper(string(exp.State)),
				len(exp.Variants),
				formatNumber(totalViews),
				formatNumber(totalConversions),
				exp.CreatedAt.Format("2006-01-02"),
			)
		}

		w.Flush()
		return nil
	})
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
