// Command voicelink connects to a pool of audio nodes from a YAML
// configuration. It is mainly an operational tool: `run` keeps the pool
// connected, serves the admin endpoints and logs every node event, and
// `resolve` looks up tracks through a node's REST API.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:           "voicelink",
		Short:         "Client for a pool of Andesite/Lavalink-style audio nodes",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"path to the YAML configuration (env VOICELINK_CONFIG)")

	rootCmd.AddCommand(
		runCmd(&configPath),
		resolveCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("VOICELINK_CONFIG"); path != "" {
		return path
	}
	return "./voicelink.yaml"
}
