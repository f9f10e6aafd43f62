// Command ingestctl is the operator CLI for the ingestion service: tenant
// administration and health checks against a running ingestiond's internal
// API, authenticated with the same X-Internal-Token the server expects.
package main

import (
	"fmt"
	"os"

	"corpusd/cmd/ingestctl/cmd"
)

func main() {
	if err := cmd.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
