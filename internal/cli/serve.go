package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/contractforge/internal/store"
	"github.com/lucasnoah/contractforge/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only web UI over the recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("addr")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return web.NewServer(store.New(cfg.Forge.Store.Dir), nil, log).Serve(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "localhost:8080", "listen address")
}
