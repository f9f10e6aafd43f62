package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func tenantCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	root.AddCommand(tenantCreateCmd())
	root.AddCommand(tenantListCmd())
	root.AddCommand(tenantDeleteCmd())
	return root
}

func tenantCreateCmd() *cobra.Command {
	var name, credential string
	var rateLimit int
	c := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant and print its generated tenant_id",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := doRequest("POST", "/internal/tenants", map[string]any{
				"name":                 name,
				"credential":           credential,
				"rate_limit_per_minute": rateLimit,
			})
			if out != nil {
				printJSON(out)
			}
			return err
		},
	}
	c.Flags().StringVar(&name, "name", "", "tenant display name")
	c.Flags().StringVar(&credential, "credential", "", "raw API key (fingerprinted server-side, never stored raw)")
	c.Flags().IntVar(&rateLimit, "rate-limit-per-minute", 600, "per-tenant request rate limit")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("credential")
	return c
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := doRequest("GET", "/internal/tenants", nil)
			if out != nil {
				printJSON(out)
			}
			return err
		},
	}
}

func tenantDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenant_id>",
		Short: "Delete a tenant and all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := doRequest("DELETE", "/internal/tenants/"+args[0], nil)
			if out != nil {
				printJSON(out)
			} else if err == nil {
				fmt.Println("deleted")
			}
			return err
		},
	}
}
