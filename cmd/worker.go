package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/logging"
	"github.com/JakeFAU/nextrequest-crawler/internal/worker"
)

// newWorkerCmd creates the 'worker' subcommand, which crawls one source. The
// crawl command in process mode launches one of these per source.
func newWorkerCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Crawls a single subdomain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source = strings.TrimSpace(source)
			if source == "" {
				return errors.New("--source is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			log := logging.ForSource(appInstance.Logger(), source, os.Getpid())

			outcome, err := appInstance.Worker().Run(cmd.Context(), source)
			if err != nil {
				log.Error("worker failed", zap.String("outcome", string(outcome)), zap.Error(err))
				return fmt.Errorf("worker %s: %w", source, err)
			}
			log.Info("worker done", zap.String("outcome", string(outcome)))
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			if outcome == worker.OutcomeFailed {
				return fmt.Errorf("worker %s failed", source)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "subdomain to crawl, e.g. city.nextrequest.com")
	return cmd
}
