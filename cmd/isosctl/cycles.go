package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopfloor/isos/pkg/cycle"
)

func newScanCmd(direction, short string) *cobra.Command {
	var operator, remarks string
	var checks, measures []string
	cmd := &cobra.Command{
		Use:   direction + " <key> --operator <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checklist, err := parseAssignments(checks)
			if err != nil {
				return err
			}
			measurements, err := parseAssignments(measures)
			if err != nil {
				return err
			}

			client := newClient()
			body := client.credentials()
			body["key"] = args[0]
			body["operator_id"] = operator
			body["checklist"] = checklist
			body["measurements"] = measurements
			body["remarks"] = remarks

			var resp scanResponse
			if err := client.postJSON(typePath()+"/cycles/"+direction, body, &resp); err != nil {
				return fmt.Errorf("%s scan of %s %s failed: %w", direction, assetType, args[0], err)
			}
			if structured() {
				return printOutput(resp)
			}
			fmt.Fprintf(stdout, "%s %s scanned %s: checklist %s\n", assetType, resp.Asset.AssetKey, direction, resp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "Operator id (required)")
	cmd.Flags().StringArrayVar(&checks, "check", nil, "Checklist answer item=OK|NG (repeatable)")
	cmd.Flags().StringArrayVar(&measures, "measure", nil, "Measurement name=value (repeatable)")
	cmd.Flags().StringVar(&remarks, "remarks", "", "Remarks stored on the cycle")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

var activeCmd = &cobra.Command{
	Use:   "active <key>",
	Short: "Show whether an asset is OUT and its open cycle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp activeCycleResponse
		if err := newClient().getJSON(typePath()+"/cycles/active/"+url.PathEscape(args[0]), &resp); err != nil {
			return fmt.Errorf("failed to look up %s %s: %w", assetType, args[0], err)
		}
		if structured() {
			return printOutput(resp)
		}
		if resp.Cycle == nil {
			fmt.Fprintf(stdout, "%s %s is IN (condition %s)\n", assetType, resp.Asset.AssetKey, resp.Asset.ConditionStatus)
			return nil
		}
		fmt.Fprintf(stdout, "%s %s is OUT since %s (operator %s, checklist %s)\n",
			assetType, resp.Asset.AssetKey, formatTime(resp.Cycle.OutTime), resp.Cycle.OutOperator, resp.Cycle.Outcome)
		return nil
	},
}

func newCyclesCmd() *cobra.Command {
	var pageSize int
	var pageToken string
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "List ISOS cycles, newest OUT first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("pageSize", strconv.Itoa(pageSize))
			if pageToken != "" {
				q.Set("pageToken", pageToken)
			}
			var resp cycleListResponse
			if err := newClient().getJSON(typePath()+"/cycles?"+q.Encode(), &resp); err != nil {
				return fmt.Errorf("failed to list %s cycles: %w", assetType, err)
			}
			if structured() {
				return printOutput(resp)
			}
			printCycles(resp.Items)
			if resp.NextPageToken != "" {
				fmt.Fprintf(stdout, "\nMore cycles available: --page-token %s\n", resp.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "Cycles per page")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Continue from a previous page")
	return cmd
}

func printCycles(items []cycle.View) {
	rows := make([][]string, 0, len(items))
	for _, c := range items {
		in := "-"
		if c.InTime != nil {
			in = formatTime(*c.InTime)
		}
		duration := "-"
		if c.InTime != nil {
			duration = c.InTime.Sub(c.OutTime).Round(time.Minute).String()
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(c.ID), 10),
			c.AssetKey,
			formatTime(c.OutTime),
			in,
			duration,
			c.Outcome,
			c.OutOperator,
			orDash(c.OperatorRef),
		})
	}
	printTable([]string{"ID", "Key", "Out", "In", "Duration", "Outcome", "Out By", "Last Operator"}, rows)
}
