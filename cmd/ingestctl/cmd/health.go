package cmd

import "github.com/spf13/cobra"

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check component health (metadata store reachability)",
		RunE: func(c *cobra.Command, args []string) error {
			out, err := doRequest("GET", "/internal/health", nil)
			if out != nil {
				printJSON(out)
			}
			return err
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show tenant document counts across the deployment",
		RunE: func(c *cobra.Command, args []string) error {
			out, err := doRequest("GET", "/internal/stats", nil)
			if out != nil {
				printJSON(out)
			}
			return err
		},
	}
}
