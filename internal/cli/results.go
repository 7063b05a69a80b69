package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/splitpage/splitpage/internal/config"
	"github.com/splitpage/splitpage/internal/stats"
	"github.com/splitpage/splitpage/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <name>",
	Short: "Show detailed results for an experiment",
	Long:  `Show detailed results including conversion rates and confidence intervals.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	name := args[0]

	return withStore(func(cfg *config.Config, s *store.SQLiteStore) error {
		ctx := context.Background()

		exp, err := s.GetExperiment(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", name)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		variantStats, err := s.GetVariantStats(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		result := stats.Analyze(exp, variantStats)

		fmt.Printf("EXPERIMENT: %s\n", exp.Name)
		fmt.Printf("STATE: %s\n", exp.State)
		if exp.WinnerVariant != nil {
			fmt.Printf("WINNER: %s\n", *exp.WinnerVariant)
		}
		fmt.Printf("CREATED: %s\n", exp.CreatedAt.Format("2006-01-02"))
		fmt.Println()

		fmt.Println("VARIANT           VIEWS    CONVERSIONS  RATE     95% CI")
		fmt.Println(strings.Repeat("─", 60))

		for _, v := range result.Variants {
			indicator := ""
			if v.Label == result.Leading && len(result.Variants) > 1 {
				indicator = " ← LEADING"
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
			if v.Views == 0 {
				ciStr = "N/A"
			}

			// Truncate label if too long
			label := v.Label
			if len(label) > 16 {
				label = label[:13] + "..."
			}

			fmt.Printf("%-16s  %-7d  %-11d  %-7s  %s%s\n",
				label,
				v.Views,
				v.Conversions,
				formatPercent(v.Rate),
				ciStr,
				indicator,
			)
		}

		fmt.Println()

		if len(result.Variants) > 1 {
			confPct := result.ConfidenceLevel * 100

			if result.Confident {
				fmt.Printf("Statistical significance: %.1f%% confident \"%s\" is the winner\n", confPct, result.Leading)
			} else if confPct >= 90 {
				fmt.Printf("Statistical significance: %.1f%% confident \"%s\" beats control (not yet significant)\n", confPct, result.Leading)
			} else {
				fmt.Println("Statistical significance: Not enough data to determine a winner")
			}
		}

		return nil
	})
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
