package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check backend liveness",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hs, err := newClient().Health(cmd.Context())
		if err != nil {
			switch allerscan.KindOf(err) {
			case allerscan.KindNetwork:
				fmt.Printf("Backend unreachable at %s.\n", cfg.API.BaseURL)
			case allerscan.KindTimeout:
				fmt.Printf("Backend at %s did not answer in time.\n", cfg.API.BaseURL)
			}
			return err
		}

		fmt.Printf("Backend %s: %s\n", cfg.API.BaseURL, hs.Status)
		if hs.Version != "" {
			fmt.Printf("Version: %s\n", hs.Version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
