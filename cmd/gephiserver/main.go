package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/nunnr/gephiserver/internal/config"
)

var (
	configFile string
	v          = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "gephiserver",
	Short: "gephiserver renders stored graphs as SVG or PNG diagrams",
	Long: `gephiserver renders graphs stored in SQLite as laid out diagrams.

Renders are admitted into a bounded FIFO queue and run one at a time. A
caller either waits for the diagram or submits the job and collects the
result later.

Available commands:
  serve   - Start the HTTP render server
  seed    - Store the demo graph
  render  - Render one graph to a file without starting the server

Examples:
  gephiserver seed
  gephiserver serve --listen-addr :9090
  gephiserver render 1 --format png -o demo.png`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML, TOML or JSON config file")
	rootCmd.PersistentFlags().String("db-path", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	if err := v.BindPFlag(config.KeyDBPath, rootCmd.PersistentFlags().Lookup("db-path")); err != nil {
		panic(err)
	}
	if err := v.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(renderCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		os.Exit(1)
	}
}

// bindFlag lets a flag override key when it is set on the command line.
func bindFlag(cmd *cobra.Command, name, key string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
		panic(err)
	}
}
