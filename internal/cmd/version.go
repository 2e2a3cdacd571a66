package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tidaljs/tidal/internal/build"
)

func getCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("tidal %s\n", build.FullVersion())
		},
	}
}
