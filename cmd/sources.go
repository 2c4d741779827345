package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

// newSourcesCmd groups the commands that manage the sources collection.
func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manages the subdomains to crawl",
	}
	cmd.AddCommand(newSourcesAddCmd(), newSourcesListCmd())
	return cmd
}

func newSourcesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add SUBDOMAIN...",
		Short: "Registers subdomains to crawl",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			repo := appInstance.Repository()
			for _, raw := range args {
				sub := normalizeSubdomain(raw)
				if sub == "" {
					return fmt.Errorf("invalid subdomain %q", raw)
				}
				if err := repo.EnsureSource(cmd.Context(), sub); err != nil {
					return fmt.Errorf("add %s: %w", sub, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), sub)
			}
			return nil
		},
	}
}

func newSourcesListCmd() *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Prints crawl progress for every subdomain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sources, err := appInstance.Repository().ListSources(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sources: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SUBDOMAIN\tCOUNT\tTOTAL\tCOMPLETED\tLAST ACCESSED")
			for _, src := range sources {
				if pending && src.Completed {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
					src.Subdomain, optional(src.Count), optional(src.TotalCount), src.Completed, lastAccessed(src))
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write table: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only show sources that are not completed")
	return cmd
}

func normalizeSubdomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")
	if s == "" || strings.ContainsAny(s, "/ ") {
		return ""
	}
	return s
}

func optional(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func lastAccessed(src store.Source) string {
	if src.LastAccessed == nil {
		return "-"
	}
	return src.LastAccessed.UTC().Format(time.RFC3339)
}
