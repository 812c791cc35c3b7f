// Package commands implements the hearth command line.
package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hearth/internal/config"
	"hearth/internal/logging"
)

var (
	configPath    string
	inventoryPath string
	logLevel      string

	cfg     *config.Config
	cfgFile string
)

// errFailed marks a command that already reported its failure; Execute
// exits non-zero without printing it again.
var errFailed = errors.New("failed")

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hearth",
		Short: "Plan, check and babysit a small self-hosted media setup",
		Long: `hearth keeps the inventory of a home media deployment (router, ingest
host, serving host, edge VPS), audits it against the layout conventions,
runs the nightly pull replication, transcodes videos for the library and
alerts over Telegram when the WAN, a disk, a container or a service fails.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, path, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if inventoryPath != "" {
				loaded.Inventory = inventoryPath
			}
			if logLevel != "" {
				loaded.Logging.Level = logLevel
			}
			cfg, cfgFile = loaded, path

			logging.Init(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Caller: cfg.Logging.Caller,
				Output: os.Stderr,
			})
			logging.Debug().Str("config", cfgFile).Str("summary", cfg.Summary()).Msg("configuration loaded")
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search $HEARTH_CONFIG, ./hearth.yaml, ~/.config/hearth)")
	root.PersistentFlags().StringVarP(&inventoryPath, "inventory", "i", "", "inventory YAML (default: config value, else the built-in layout)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")

	root.AddCommand(
		inventoryCmd(),
		checkCmd(),
		replicateCmd(),
		transcodeCmd(),
		alertCmd(),
		serveCmd(),
		configCmd(),
	)
	return root
}
