package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr    string
	internalToken string
)

// Root builds the ingestctl command tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "ingestctl",
		Short: "Administer a running ingestiond instance",
	}
	root.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080", "ingestiond base URL")
	root.PersistentFlags().StringVar(&internalToken, "token", "", "internal API token (or INGESTCTL_TOKEN env var)")

	root.AddCommand(healthCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(statsCmd())
	return root
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func doRequest(method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, serverAddr+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if internalToken != "" {
		req.Header.Set("X-Internal-Token", internalToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("server returned %s", resp.Status)
	}
	return out, nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
