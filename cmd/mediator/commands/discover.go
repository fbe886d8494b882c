package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vultisig/vultisig-mediator/discovery"
)

func discoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover [name]",
		Short: "Find a mediator by name, or list every mediator on the network",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var (
				endpoints []discovery.Endpoint
				err       error
			)
			if len(args) == 1 {
				endpoints, err = discovery.Lookup(ctx, args[0])
			} else {
				endpoints, err = discovery.Browse(ctx)
			}
			if err != nil {
				return err
			}
			for _, e := range endpoints {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Instance, e.URL())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for answers")
	return cmd
}
