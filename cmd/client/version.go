package main

import (
	"fmt"

	"github.com/cbodonnell/apsync/pkg/client/network"
	"github.com/cbodonnell/apsync/pkg/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "apsync %s (%s), protocol %s\n", version.Version, version.Commit, network.ProtocolVersion)
	},
}
