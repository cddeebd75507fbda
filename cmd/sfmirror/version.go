// Version command for the sfmirror CLI.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/sfmirror/pkg/sfmirror"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sfmirror version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("sfmirror", sfmirror.Version)
	},
}
