package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/superboost/allerscan-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config.yaml with every default filled in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		force, _ := cmd.Flags().GetBool("force")

		const path = "config.yaml"
		if _, err := os.Stat(path); err == nil && !force {
			return eris.Errorf("%s already exists; use --force to overwrite", path)
		}

		defaults, err := config.Default()
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(defaults)
		if err != nil {
			return eris.Wrap(err, "config init: marshal")
		}

		header := []byte("# AllerScan client configuration.\n# Every key can also be set via ALLERSCAN_<SECTION>_<KEY> environment variables.\n")
		if err := os.WriteFile(path, append(header, out...), 0o644); err != nil {
			return eris.Wrap(err, "config init: write")
		}

		fmt.Printf("Wrote %s.\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config.yaml")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
