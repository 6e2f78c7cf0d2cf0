package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report a running agent's health over its metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("metrics-addr")

		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
		if err != nil {
			return fmt.Errorf("reach agent at %s: %w", addr, err)
		}
		defer resp.Body.Close()

		var health struct {
			Status     string            `json:"status"`
			Version    string            `json:"version"`
			Uptime     string            `json:"uptime"`
			Components map[string]string `json:"components"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			return fmt.Errorf("decode health response: %w", err)
		}

		fmt.Printf("status:  %s\n", health.Status)
		fmt.Printf("version: %s\n", health.Version)
		fmt.Printf("uptime:  %s\n", health.Uptime)
		if len(health.Components) > 0 {
			fmt.Println("components:")
			for name, state := range health.Components {
				fmt.Printf("  %-20s %s\n", name, state)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address of a running agent's metrics server")
	rootCmd.AddCommand(statusCmd)
}
