package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/splitpage/splitpage/internal/config"
	"github.com/splitpage/splitpage/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var variants string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new experiment",
		Long: `Create a new experiment with the specified name and variant labels.

The database row makes the experiment visible to list/results/winner; to
have the server mutate pages for it, add a matching entry with a mutation
to the config file.

Examples:
  splitpage create hero_headline --variants "A,B"
  splitpage create cta_button_color --variants "blue,yellow"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			variantList := strings.Split(variants, ",")
			for i := range variantList {
				variantList[i] = strings.TrimSpace(variantList[i])
			}

			if len(variantList) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"A,B\"")
			}

			return withStore(func(cfg *config.Config, s *store.SQLiteStore) error {
				exp, err := s.CreateExperiment(context.Background(), name, variantList)
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				fmt.Printf("Created experiment '%s' with %d variants:\n", exp.Name, len(exp.Variants))
				for _, v := range exp.Variants {
					fmt.Printf("  - %s\n", v)
				}
				fmt.Println()
				fmt.Println("Add a mutation to the config file to have /apply rewrite pages for it.")

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant labels (required)")
	cmd.MarkFlagRequired("variants")

	return cmd
}
