package main

import (
	"fmt"

	"github.com/cuemby/atomix/pkg/config"
	"github.com/spf13/cobra"
)

var partitionGroupCmd = &cobra.Command{
	Use:   "partition-group",
	Short: "Inspect partition-group configuration",
}

var partitionGroupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the partition groups declared in a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if len(cfg.Groups) == 0 {
			fmt.Println("no partition groups declared")
			return nil
		}

		fmt.Printf("%-20s %-10s %-10s %-10s %s\n", "NAME", "TYPE", "PARTITIONS", "STORAGE", "MEMBERS")
		for _, g := range cfg.Groups {
			members := ""
			for i, m := range g.Members {
				if i > 0 {
					members += ","
				}
				members += fmt.Sprintf("%s@%s", m.ID, m.Address)
			}
			fmt.Printf("%-20s %-10s %-10d %-10s %s\n", g.Name, g.Type, g.Partitions, g.Storage.Level, members)
		}
		return nil
	},
}

func init() {
	partitionGroupListCmd.Flags().String("config", "atomix.yaml", "path to the partition-group configuration file")
	partitionGroupCmd.AddCommand(partitionGroupListCmd)
	rootCmd.AddCommand(partitionGroupCmd)
}
