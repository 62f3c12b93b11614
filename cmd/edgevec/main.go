// Command edgevec runs the vector database engine behind its HTTP surface.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgevec/edgevec"
	"github.com/edgevec/edgevec/config"
	"github.com/edgevec/edgevec/server"
)

func main() {
	var configPath string
	var logJSON bool
	var verbose bool

	root := &cobra.Command{
		Use:   "edgevec",
		Short: "Edge-oriented embedded vector database",
		Long: `edgevec serves nearest-neighbor search over named vector collections with
durable writes (WAL + snapshots) and bounded resource use. Configuration comes
from defaults, an optional YAML file, and EDGEVEC_* environment overrides.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			var logger *edgevec.Logger
			if logJSON {
				logger = edgevec.NewJSONLogger(level)
			} else {
				logger = edgevec.NewTextLogger(level)
			}

			eng, err := edgevec.Open(&cfg, edgevec.WithLogger(logger))
			if err != nil {
				return err
			}
			defer eng.Close()

			logger.Info("edgevec listening", "bind", cfg.Server.Bind)
			return server.New(eng, &cfg).Run()
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.Flags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
