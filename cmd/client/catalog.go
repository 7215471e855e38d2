package main

import (
	"fmt"

	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Work with identifier catalogs",
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate a catalog file",
	Long:  `Loads a catalog and reports its size and digest. Defaults to the catalog named in the config.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.Catalog
		}
		c, err := catalog.Load(path)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Game:      %s\n", c.Game())
		fmt.Fprintf(out, "Locations: %d\n", len(c.Locations()))
		fmt.Fprintf(out, "Items:     %d\n", len(c.Items()))
		fmt.Fprintf(out, "SHA-256:   %s\n", c.Digest())
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogCheckCmd)
}
