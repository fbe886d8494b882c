package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mediator",
		Short:        "Local relay for multi-device signing ceremonies",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (json or yaml)")

	root.AddCommand(serveCmd(), discoverCmd())
	return root
}
