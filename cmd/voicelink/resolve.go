package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/devrev/voicelink/internal/rest"
	"github.com/devrev/voicelink/pkg/config"
	"github.com/devrev/voicelink/pkg/model"
)

func resolveCmd(configPath *string) *cobra.Command {
	var (
		nodeID  string
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Load tracks through a node's REST API",
		Long: `Load tracks through a node's REST API without opening the control
connection. The identifier is a URL or a search such as "ytsearch:artist song".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			node, err := pickNode(cfg, nodeID)
			if err != nil {
				return err
			}
			logger, err := initLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			client := rest.NewClient(rest.Options{Config: cfg.REST, Logger: logger})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			result, err := client.LoadTracks(ctx, node, args[0])
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			return printResult(result)
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "node id to query (default: first configured node)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw load result")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall request timeout")
	return cmd
}

func pickNode(cfg *config.Config, nodeID string) (config.NodeConfig, error) {
	if nodeID == "" {
		return cfg.Nodes[0], nil
	}
	for _, n := range cfg.Nodes {
		if n.ID == nodeID {
			return n, nil
		}
	}
	return config.NodeConfig{}, fmt.Errorf("node %q is not configured", nodeID)
}

func printResult(result *model.LoadResult) error {
	switch result.LoadType {
	case model.LoadFailed:
		if result.Cause != nil {
			return fmt.Errorf("load failed (%s): %s", result.Cause.Severity, result.Cause.Message)
		}
		return fmt.Errorf("load failed")
	case model.LoadNoMatches:
		fmt.Println("No matches.")
		return nil
	}

	if result.PlaylistInfo != nil {
		fmt.Printf("Playlist: %s\n", result.PlaylistInfo.Name)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTITLE\tAUTHOR\tLENGTH\tURI")
	for i, t := range result.Tracks {
		length := "live"
		if !t.Info.IsStream {
			length = (time.Duration(t.Info.Length) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, t.Info.Title, t.Info.Author, length, t.Info.URI)
	}
	return w.Flush()
}
