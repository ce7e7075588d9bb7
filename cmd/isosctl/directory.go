package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopfloor/isos/pkg/directory"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print a session token",
	Long: `Log in with --username and --password and print a session token.
Export it as ISOS_TOKEN to use it with later commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if username == "" || password == "" {
			return fmt.Errorf("--username and --password are required")
		}
		var resp struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expiresAt"`
			EmpID     string    `json:"empId"`
		}
		client := newClient()
		client.token = ""
		body := map[string]string{"username": username, "password": password}
		if err := client.postJSON("/api/login", body, &resp); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if structured() {
			return printOutput(resp)
		}
		fmt.Fprintln(stdout, resp.Token)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health and readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		client.retryFor = 0

		var healthResp map[string]any
		if err := client.getJSON("/healthz", &healthResp); err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}

		var readyResp map[string]any
		if err := client.getJSON("/readyz", &readyResp); err != nil {
			// Readiness failure is not fatal; the server might still be migrating.
			readyResp = map[string]any{"status": "not_ready", "error": err.Error()}
		}

		if structured() {
			return printOutput(map[string]any{
				"health":    healthResp,
				"readiness": readyResp,
			})
		}

		status, _ := healthResp["status"].(string)
		uptime, _ := healthResp["uptime"].(string)
		ready, _ := readyResp["status"].(string)
		printTable([]string{"Check", "Status"}, [][]string{
			{"Liveness", status},
			{"Uptime", uptime},
			{"Readiness", ready},
		})
		return nil
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the asset types served",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp assetTypesResponse
		if err := newClient().getJSON("/api/asset-types", &resp); err != nil {
			return fmt.Errorf("failed to list asset types: %w", err)
		}
		if structured() {
			return printOutput(resp.AssetTypes)
		}
		rows := make([][]string, 0, len(resp.AssetTypes))
		for _, t := range resp.AssetTypes {
			rows = append(rows, []string{
				t.Slug,
				t.KeyField,
				strconv.Itoa(len(t.Fields)),
				strings.Join(t.ChecklistItems, ", "),
				truncate(strings.Join(t.BlockingStatuses, ", "), 60),
			})
		}
		printTable([]string{"Type", "Key", "Fields", "Checklist", "Blocking"}, rows)
		return nil
	},
}

var operatorsCmd = &cobra.Command{
	Use:   "operators",
	Short: "List registered production operators",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Operators []directory.Operator `json:"operators"`
		}
		if err := newClient().getJSON("/api/operators", &resp); err != nil {
			return fmt.Errorf("failed to list operators: %w", err)
		}
		if structured() {
			return printOutput(resp.Operators)
		}
		rows := make([][]string, 0, len(resp.Operators))
		for _, op := range resp.Operators {
			rows = append(rows, []string{op.OperatorID, op.Username})
		}
		printTable([]string{"Operator ID", "Username"}, rows)
		return nil
	},
}
