// Init command for the sfmirror CLI.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/sfmirror/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize sfmirror configuration and storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, err := resolveConfigDir()
		if err != nil {
			return err
		}
		if err := config.WriteDefaultConfig(configDir); err != nil {
			return err
		}

		// Opening the store creates the data directory and applies the schema.
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		dataDir, err := resolveDataDir()
		if err != nil {
			return err
		}

		fmt.Println("sfmirror initialized")
		fmt.Println("  config:", configDir)
		fmt.Println("  data:  ", dataDir)
		return nil
	},
}
