package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
	assetType string
	token     string
	username  string
	password  string
)

var rootCmd = &cobra.Command{
	Use:   "isosctl",
	Short: "CLI for the ISOS pallet and stencil tracking server",
	Long: `isosctl manages pallets and stencils on an ISOS server.

Asset and cycle commands act on one asset type, selected with --type.
Changes require either a session token (--token or ISOS_TOKEN, see "isosctl login")
or --username and --password.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("ISOS_SERVER", "http://localhost:8080"), "ISOS server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVarP(&assetType, "type", "t", "pallet", "Asset type (pallet, stencil)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("ISOS_TOKEN"), "Session token")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "Username, when no token is given")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "Password, when no token is given")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(operatorsCmd)
	rootCmd.AddCommand(newAssetsCmd())
	rootCmd.AddCommand(newScanCmd("out", "Scan an asset OUT, opening an ISOS cycle"))
	rootCmd.AddCommand(newScanCmd("in", "Scan an asset IN, closing its open ISOS cycle"))
	rootCmd.AddCommand(activeCmd)
	rootCmd.AddCommand(newCyclesCmd())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// typePath returns the API prefix of the selected asset type.
func typePath() string {
	return "/api/" + assetType
}
