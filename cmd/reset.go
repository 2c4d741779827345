package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newResetCmd creates the 'reset' subcommand, which strips every source back
// to its subdomain so the next crawl starts over. Items are kept.
func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clears crawl progress for every subdomain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.Repository().ResetSources(cmd.Context())
			if err != nil {
				return fmt.Errorf("reset sources: %w", err)
			}
			appInstance.Logger().Info("sources reset", zap.Int64("count", n))
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d sources\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
