package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geobatch/internal/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the geocoding HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if serveAddr != "" {
			cfg.Serve.Addr = serveAddr
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		sink, closeSink, err := buildSink(cfg.CallLog.Path)
		if err != nil {
			return err
		}
		defer closeSink()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
		}

		registry := buildRegistry("", sink)
		return httpapi.NewServer(cfg, registry, st).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
