package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shopfloor/isos/pkg/asset"
)

func newAssetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assets",
		Aliases: []string{"asset"},
		Short:   "Manage pallet and stencil records",
	}
	cmd.AddCommand(newAssetListCmd())
	cmd.AddCommand(newAssetGetCmd())
	cmd.AddCommand(newAssetCreateCmd())
	cmd.AddCommand(newAssetUpdateCmd())
	cmd.AddCommand(newAssetActionCmd())
	cmd.AddCommand(newAssetDeleteCmd())
	cmd.AddCommand(newAssetHistoryCmd())
	return cmd
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid asset id %q", arg)
	}
	return uint(id), nil
}

func printAssets(items []asset.Asset) {
	rows := make([][]string, 0, len(items))
	for _, a := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(a.ID), 10),
			a.AssetKey,
			a.ConditionStatus,
			orDash(a.ProductionStatus),
			orDash(a.EmpID),
			formatTime(a.UpdatedAt),
			truncate(a.Remarks, 30),
		})
	}
	printTable([]string{"ID", "Key", "Condition", "Production", "Emp ID", "Updated", "Remarks"}, rows)
}

func printAsset(a *asset.Asset) {
	fields := make(map[string]string, len(a.Fields)+6)
	for k, v := range a.Fields {
		fields[k] = v
	}
	fields["id"] = strconv.FormatUint(uint64(a.ID), 10)
	fields[asset.FieldConditionStatus] = a.ConditionStatus
	fields[asset.FieldProductionStatus] = a.ProductionStatus
	fields[asset.FieldEmpID] = a.EmpID
	fields[asset.FieldRemarks] = a.Remarks
	fields["updated_at"] = formatTime(a.UpdatedAt)
	printFields(fields)
}

func newAssetListCmd() *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets of the selected type",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp assetListResponse
			path := typePath() + "/assets?view=" + url.QueryEscape(view)
			if err := newClient().getJSON(path, &resp); err != nil {
				return fmt.Errorf("failed to list %s: %w", assetType, err)
			}
			if structured() {
				return printOutput(resp.Items)
			}
			printAssets(resp.Items)
			return nil
		},
	}
	cmd.Flags().StringVar(&view, "view", string(asset.ViewActive), "View: list, received or status")
	return cmd
}

func newAssetGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var resp assetResponse
			if err := newClient().getJSON(fmt.Sprintf("%s/assets/%d", typePath(), id), &resp); err != nil {
				return fmt.Errorf("failed to get %s %d: %w", assetType, id, err)
			}
			if structured() {
				return printOutput(resp.Asset)
			}
			printAsset(resp.Asset)
			return nil
		},
	}
}

func newAssetCreateCmd() *cobra.Command {
	var sets []string
	var condition, remarks string
	cmd := &cobra.Command{
		Use:   "create --set field=value ...",
		Short: "Register a new asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			client := newClient()
			body := client.credentials()
			body["fields"] = fields
			body["condition_status"] = condition
			body["remarks"] = remarks

			var resp assetResponse
			if err := client.postJSON(typePath()+"/assets", body, &resp); err != nil {
				return fmt.Errorf("failed to create %s: %w", assetType, err)
			}
			if structured() {
				return printOutput(resp.Asset)
			}
			fmt.Fprintf(stdout, "Created %s %s (id %d)\n", assetType, resp.Asset.AssetKey, resp.Asset.ID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Field assignment field=value (repeatable)")
	cmd.Flags().StringVar(&condition, "condition", "", "Initial condition status (default ACTIVE)")
	cmd.Flags().StringVar(&remarks, "remarks", "", "Remarks")
	return cmd
}

func newAssetUpdateCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "update <id> --set field=value ...",
		Short: "Change fields of an asset",
		Long: `Change the named fields of an asset. Status fields and remarks may be set
with --set condition_status=..., --set production_status=... and --set remarks=...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			values, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			if len(values) == 0 {
				return fmt.Errorf("nothing to update, use --set field=value")
			}

			client := newClient()
			body := client.credentials()
			fields := map[string]string{}
			for k, v := range values {
				switch k {
				case asset.FieldConditionStatus, asset.FieldProductionStatus, asset.FieldRemarks:
					body[k] = v
				default:
					fields[k] = v
				}
			}
			body["fields"] = fields

			var resp updateResponse
			if err := client.patchJSON(fmt.Sprintf("%s/assets/%d", typePath(), id), body, &resp); err != nil {
				return fmt.Errorf("failed to update %s %d: %w", assetType, id, err)
			}
			if structured() {
				return printOutput(resp)
			}
			fmt.Fprintf(stdout, "Updated %s %d: %d field(s) changed\n", assetType, id, resp.Changes)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Field assignment field=value (repeatable)")
	return cmd
}

func newAssetActionCmd() *cobra.Command {
	var remarks string
	cmd := &cobra.Command{
		Use:       "action <id> <MOVE|REWORK|SCRAP>",
		Short:     "Apply a maintenance action to an asset",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"MOVE", "REWORK", "SCRAP"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client := newClient()
			body := client.credentials()
			body["action"] = args[1]
			body["remarks"] = remarks

			var resp updateResponse
			if err := client.postJSON(fmt.Sprintf("%s/assets/%d/actions", typePath(), id), body, &resp); err != nil {
				return fmt.Errorf("failed to apply %s to %s %d: %w", args[1], assetType, id, err)
			}
			if structured() {
				return printOutput(resp)
			}
			fmt.Fprintf(stdout, "%s %d is now %s\n", assetType, id, resp.Asset.ConditionStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&remarks, "remarks", "", "Remarks stored with the action")
	return cmd
}

func newAssetDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an asset and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client := newClient()
			var resp struct {
				HistoryRemoved int64 `json:"historyRemoved"`
			}
			if err := client.deleteJSON(fmt.Sprintf("%s/assets/%d", typePath(), id), client.credentials(), &resp); err != nil {
				return fmt.Errorf("failed to delete %s %d: %w", assetType, id, err)
			}
			fmt.Fprintf(stdout, "Deleted %s %d (%d history entries removed)\n", assetType, id, resp.HistoryRemoved)
			return nil
		},
	}
}

func newAssetHistoryCmd() *cobra.Command {
	var column, pageToken string
	var pageSize int
	var fetchAll bool
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the change history of an asset, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client := newClient()
			resp, err := fetchHistory(client, id, column, pageSize, pageToken, fetchAll)
			if err != nil {
				return fmt.Errorf("failed to get history of %s %d: %w", assetType, id, err)
			}
			if structured() {
				return printOutput(resp)
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, e := range resp.Items {
				rows = append(rows, []string{
					formatTime(e.ChangedAt),
					e.FieldName,
					truncate(orDash(e.OldValue), 30),
					truncate(orDash(e.NewValue), 30),
					orDash(e.Actor),
				})
			}
			printTable([]string{"Changed", "Field", "Old", "New", "Actor"}, rows)
			if resp.NextPageToken != "" {
				fmt.Fprintf(stdout, "\nMore entries available: --page-token %s\n", resp.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&column, "column", "all", "Restrict to one field")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "Entries per page")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Continue from a previous page")
	cmd.Flags().BoolVar(&fetchAll, "all", false, "Fetch every page")
	return cmd
}

func fetchHistory(client *isosClient, id uint, column string, pageSize int, pageToken string, fetchAll bool) (*historyResponse, error) {
	var out historyResponse
	for {
		q := url.Values{}
		q.Set("column", column)
		q.Set("pageSize", strconv.Itoa(pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page historyResponse
		if err := client.getJSON(fmt.Sprintf("%s/assets/%d/history?%s", typePath(), id, q.Encode()), &page); err != nil {
			return nil, err
		}
		out.Items = append(out.Items, page.Items...)
		out.NextPageToken = page.NextPageToken
		if !fetchAll || page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	out.Size = len(out.Items)
	return &out, nil
}
