package cmd

import (
	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/rand/guesstimate/internal/learning"
	"github.com/rand/guesstimate/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve estimates over HTTP",
		Example: heredoc.Doc(`
			guesstimate serve --addr :9090

			curl -s localhost:9090/v1/estimate -d '{"question":"average saas arpu"}'
		`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, logger, cleanup, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg := engine.Config.Server
			if addr != "" {
				cfg.Addr = addr
			}
			var rules learning.Lister
			if l, ok := engine.Lister(); ok {
				rules = l
			}
			srv := server.New(engine, rules, server.Config{
				Addr:            cfg.Addr,
				RequestTimeout:  cfg.RequestTimeout,
				ShutdownTimeout: cfg.ShutdownTimeout,
				Logger:          logger,
			})
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from configuration)")
	return cmd
}
