package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"github.com/vultisig/vultisig-mediator/config"
	"github.com/vultisig/vultisig-mediator/discovery"
	"github.com/vultisig/vultisig-mediator/mediator"
	"github.com/vultisig/vultisig-mediator/relay"
	"github.com/vultisig/vultisig-mediator/storage"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the relay and advertise it on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger := log.New("mediator")
			logger.SetLevel(cfg.Level())

			backend, err := storage.NewBackend(cfg.Storage)
			if err != nil {
				return err
			}
			defer func() {
				if err := backend.Close(); err != nil {
					logger.Errorf("fail to close storage, err: %s", err)
				}
			}()

			name := cfg.ServiceName
			if name == "" {
				name = "mediator-" + uuid.NewString()[:8]
			}
			m := mediator.New(cfg, relay.NewStores(backend), discovery.NewAdvertiser(), logger)
			if err := m.Start(name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "serving %s on port %d\n", m.ServiceName(), m.Port())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return m.Stop()
		},
	}
	cmd.Flags().Int64("port", 18080, "port to listen on, 0 picks a free one")
	cmd.Flags().String("name", "", "service instance name (default mediator-<random>)")
	cmd.Flags().String("log-level", "info", "debug, info, warn, error or off")
	cmd.Flags().String("storage", config.StorageMemory, "storage backend, memory or redis")
	cmd.Flags().String("redis-addr", "localhost:6379", "redis address when --storage=redis")
	return cmd
}
