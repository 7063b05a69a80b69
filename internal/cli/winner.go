package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/splitpage/splitpage/internal/config"
	"github.com/splitpage/splitpage/internal/store"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var variant string

	cmd := &cobra.Command{
		Use:   "winner <name>",
		Short: "Declare a winner for an experiment",
		Long: `Declare a winning variant for an experiment and complete it.

A completed experiment resolves to its winner for every visitor: no more
random bucketing, everyone sees the winning variant.

Example:
  splitpage winner hero_headline --variant B`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			return withStore(func(cfg *config.Config, s *store.SQLiteStore) error {
				ctx := context.Background()

				exp, err := s.GetExperiment(ctx, name)
				if err != nil {
					return fmt.Errorf("experiment not found: %s", name)
				}

				if exp.State != store.StateRunning {
					return fmt.Errorf("experiment is not running (current state: %s)", exp.State)
				}

				valid := false
				for _, v := range exp.Variants {
					if v == variant {
						valid = true
						break
					}
				}
				if !valid {
					return fmt.Errorf("invalid variant %q (allowed: %v)", variant, exp.Variants)
				}

				if err := s.UpdateExperimentState(ctx, name, store.StateCompleted, &variant); err != nil {
					return fmt.Errorf("failed to set winner: %w", err)
				}

				fmt.Printf("Declared winner for experiment '%s': \"%s\"\n", name, variant)
				fmt.Println("Experiment has been marked as completed; all visitors now resolve to the winner.")

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variant, "variant", "v", "", "winning variant label (required)")
	cmd.MarkFlagRequired("variant")

	return cmd
}
