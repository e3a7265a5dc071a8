// Gray Logic Voice - grammar-constrained voice control for smart homes
//
// This is the main entry point for the Gray Logic Voice core. It maps
// backend devices to a (device type, location) vocabulary, compiles that
// vocabulary into a GBNF grammar, and dispatches the commands a local
// model emits under it.
//
// Usage:
//
//	graylogic-voice [--config path] <command>
//
// Commands:
//
//	serve     - run the core and its admin API
//	grammar   - print the grammar of a backend
//	validate  - report mapping conflicts
//	token     - mint an admin API token
//	version   - print build information
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "graylogic-voice",
	Short: "Grammar-constrained voice control core",
	Long: `Gray Logic Voice maps smart-home devices to a spoken vocabulary,
generates a GBNF grammar from the mapping and dispatches the commands
a local model produces under that grammar.

Configuration is read from --config, then GRAYLOGIC_CONFIG, then
configs/config.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path.
// The --config flag wins over GRAYLOGIC_CONFIG, which wins over the default.
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
