package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/dispatcher"
)

// newCrawlCmd creates the 'crawl' subcommand, which visits every known
// source once.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls every known subdomain",
		Long: `Lists every subdomain in the sources collection and crawls each one.
In sequential mode the sources are crawled one after another in this process.
In process mode one worker process is launched per source, staggered, and the
command returns once every worker has exited.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if mode == "" {
				mode = appInstance.Config().Crawler.Mode
			}
			m, err := dispatcher.ParseMode(mode)
			if err != nil {
				return err
			}

			var spawner dispatcher.Spawner
			if m == dispatcher.ModeProcess {
				self, err := dispatcher.NewSelfSpawner(root.forwardArgs()...)
				if err != nil {
					return err
				}
				spawner = self
			}
			d, err := appInstance.Dispatcher(m, spawner)
			if err != nil {
				return err
			}

			appInstance.StartMetrics()
			sum, err := d.Run(cmd.Context())
			appInstance.Logger().Info("crawl finished",
				zap.String("mode", string(m)),
				zap.Int("sources", sum.Sources),
				zap.Int("launched", sum.Launched),
				zap.Int("failed", sum.Failed),
			)
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "sequential or process (default from crawler.mode)")
	return cmd
}
