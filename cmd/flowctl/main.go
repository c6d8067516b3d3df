// Command flowctl is a small administrative CLI for the flow service API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL     string
	clientAccount string
	engagement    string
)

func main() {
	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Administer discovery flows",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "flow service base URL")
	root.PersistentFlags().StringVar(&clientAccount, "client-account", "", "client account id (required)")
	root.PersistentFlags().StringVar(&engagement, "engagement", "", "engagement id (required)")

	root.AddCommand(listCmd(), getCmd(), resumeCmd(), deleteCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tenant's incomplete flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/flows?incomplete=true", nil)
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <flow-id>",
		Short: "Show a flow with freshly derived progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/flows/"+args[0], nil)
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <flow-id>",
		Short: "Resume a paused, failed, or waiting flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/flows/"+args[0]+"/resume", nil)
		},
	}
}

func deleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <flow-id>...",
		Short: "Delete flows and print their deletion audit records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				path := "/api/v1/flows/" + args[0] + "?reason=admin_action"
				if force {
					path += "&force=true"
				}
				return call(http.MethodDelete, path, nil)
			}
			body := map[string]any{"flow_ids": args, "force": force}
			return call(http.MethodPost, "/api/v1/flows/batch-delete", body)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete even if the flow is active")
	return cmd
}

func call(method, path string, body any) error {
	if clientAccount == "" || engagement == "" {
		return fmt.Errorf("--client-account and --engagement are required")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(data))
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Client-Account", clientAccount)
	req.Header.Set("X-Engagement", engagement)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty json.RawMessage
	if json.Unmarshal(data, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(data))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
