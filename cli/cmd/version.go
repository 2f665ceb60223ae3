package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewVersionCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version information for the rvrun CLI.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rvrun CLI v%s\n", version)
			fmt.Println("Compatible with rvrun API v1")
		},
	}

	return cmd
}
