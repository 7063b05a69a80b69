package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/splitpage/splitpage/internal/config"
	"github.com/splitpage/splitpage/internal/store"
)

func init() {
	rootCmd.AddCommand(newDeleteCmd())
}

func newDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an experiment and all its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			if !force {
				prompt := promptui.Prompt{
					Label:     fmt.Sprintf("Delete experiment '%s' and all its events", name),
					IsConfirm: true,
				}
				if _, err := prompt.Run(); err != nil {
					if err == promptui.ErrInterrupt {
						os.Exit(0)
					}
					fmt.Println("Aborted.")
					return nil
				}
			}

			return withStore(func(cfg *config.Config, s *store.SQLiteStore) error {
				if err := s.DeleteExperiment(context.Background(), name); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found", name)
					}
					return fmt.Errorf("failed to delete experiment: %w", err)
				}

				fmt.Printf("Deleted experiment '%s'.\n", name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip confirmation prompt")

	return cmd
}
