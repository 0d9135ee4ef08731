package main

import (
	"fmt"

	"github.com/birdayz/knode/kdag"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the nodes of the pipeline in execution order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		target, err := buildPipeline().target(cfg.Inputs)
		if err != nil {
			return err
		}
		g, err := kdag.Collect(target)
		if err != nil {
			return err
		}
		order, err := g.TopologicalSort()
		if err != nil {
			return err
		}
		for _, id := range order {
			gn := g.Nodes[id]
			fmt.Fprintf(cmd.OutOrStdout(), "%s requested=%q parents=%d\n", id, gn.Requested, len(gn.Parents))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
